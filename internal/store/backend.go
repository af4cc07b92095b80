// Package store holds observable values and the durable key-value backends
// they are mirrored to.
package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend defines the interface for durable key-value storage
type Backend interface {
	// Get retrieves a value
	// Returns (value, found, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value without expiry
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Close releases the underlying storage
	Close() error
}

// Backend kinds accepted by Open
const (
	KindMemory = "memory"
	KindBadger = "badger"
	KindRedis  = "redis"
)

// Options selects and configures a backend
type Options struct {
	Kind     string
	Path     string // badger directory
	RedisURL string // redis://[:password@]host:port/db
	Prefix   string
}

// Open creates the configured backend. An unreachable Redis falls back to
// memory so the client keeps working without persistence.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case KindMemory, "":
		slog.Info("using in-memory storage")
		return NewMemoryBackend(), nil
	case KindBadger:
		b, err := NewBadgerBackend(opts.Path, opts.Prefix)
		if err != nil {
			return nil, err
		}
		slog.Info("using badger storage", "path", opts.Path)
		return b, nil
	case KindRedis:
		r, err := NewRedisBackend(ctx, opts.RedisURL, opts.Prefix)
		if err != nil {
			slog.Warn("Redis connection failed, using memory storage", "error", err)
			return NewMemoryBackend(), nil
		}
		slog.Info("using Redis storage")
		return r, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}
