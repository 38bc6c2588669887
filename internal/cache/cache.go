// Package cache abstracts the replay-guard backend.
//
// Two backends:
//   - memory (in-process, development and single-instance deployments)
//   - redis (shared, when several harness instances front one device fleet)
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or expired.
var ErrNotFound = errors.New("cache: key not found")

// Client is the subset of cache operations the sign-in core needs.
type Client interface {
	// Get returns the value, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value with a TTL. ttl 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver string // "memory" | "redis"

	// Redis settings, ignored for memory.
	Addr     string
	Password string
	DB       int
	Prefix   string

	// Memory settings, ignored for redis.
	DefaultTTL time.Duration
}

// ErrUnknownDriver is returned by the factory for an unrecognized driver.
var ErrUnknownDriver = errors.New("cache: unknown driver")

// UnknownDriver wraps ErrUnknownDriver with the offending name.
func UnknownDriver(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownDriver, name)
}
