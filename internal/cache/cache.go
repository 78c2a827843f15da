// Package cache provides the expiring key/value store that holds ReadPipe's
// idempotency and throttle markers.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrAddrNotSet is returned when a Redis cache is created without an address or URL.
var ErrAddrNotSet = errors.New("redis address not set")

// Cache is a string key/value store with per-key expiry.
type Cache interface {
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set stores value unconditionally, replacing any previous expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that the implementations satisfy Cache.
var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)

// Opts holds configuration for the Redis cache.
type Opts struct {
	URL      string // redis:// or rediss:// URL; takes precedence over Addr
	Addr     string // host:port
	Password string
	DB       int
}

// Option defines a configuration option for the Redis cache.
type Option func(*Opts)

// WithURL sets a Redis connection URL.
func WithURL(url string) Option {
	return func(o *Opts) {
		o.URL = url
	}
}

// WithAddr sets the Redis host:port.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithPassword sets the Redis password used with WithAddr.
func WithPassword(password string) Option {
	return func(o *Opts) {
		o.Password = password
	}
}

// WithDB selects the Redis logical database used with WithAddr.
func WithDB(db int) Option {
	return func(o *Opts) {
		o.DB = db
	}
}
