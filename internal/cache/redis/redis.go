// Package redis is the shared cache backend, backed by go-redis.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/authbridge/internal/cache"
	rdb "github.com/redis/go-redis/v9"
)

type client struct {
	c      *rdb.Client
	prefix string
}

// New builds a redis-backed cache. All keys are namespaced under prefix.
func New(addr, password string, db int, prefix string) cache.Client {
	return &client{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
	}
}

func (r *client) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *client) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, r.key(key)).Result()
	if errors.Is(err, rdb.Nil) {
		return "", cache.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *client) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.key(key)).Err()
}

func (r *client) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *client) Close() error {
	return r.c.Close()
}
