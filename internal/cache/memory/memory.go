// Package memory is the in-process cache backend, backed by go-cache.
package memory

import (
	"context"
	"time"

	"github.com/dropDatabas3/authbridge/internal/cache"
	gocache "github.com/patrickmn/go-cache"
)

type client struct {
	c *gocache.Cache
}

// New builds an in-process cache. defaultTTL bounds entries stored with
// ttl 0; pass 0 to keep them forever.
func New(defaultTTL time.Duration) cache.Client {
	def := gocache.NoExpiration
	if defaultTTL > 0 {
		def = defaultTTL
	}
	return &client{c: gocache.New(def, time.Minute)}
}

func (m *client) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", cache.ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *client) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *client) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *client) Ping(context.Context) error { return nil }

func (m *client) Close() error {
	m.c.Flush()
	return nil
}
