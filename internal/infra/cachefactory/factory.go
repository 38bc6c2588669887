// Package cachefactory opens the configured cache backend.
package cachefactory

import (
	"strings"

	"github.com/dropDatabas3/authbridge/internal/cache"
	cmem "github.com/dropDatabas3/authbridge/internal/cache/memory"
	credis "github.com/dropDatabas3/authbridge/internal/cache/redis"
)

// Open builds a cache.Client for cfg.Driver ("memory" or "redis").
// An empty driver falls back to memory.
func Open(cfg cache.Config) (cache.Client, error) {
	switch strings.ToLower(cfg.Driver) {
	case "redis":
		return credis.New(cfg.Addr, cfg.Password, cfg.DB, cfg.Prefix), nil
	case "memory", "":
		return cmem.New(cfg.DefaultTTL), nil
	default:
		return nil, cache.UnknownDriver(cfg.Driver)
	}
}
