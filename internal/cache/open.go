package cache

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a cache backend.
type Options struct {
	Backend       string
	Path          string // sqlite file
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	DatabaseURL   string // postgres:// URL
	MemoryEntries int    // LRU size in front of the backend; 0 disables it
}

// Open connects the configured backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch opts.Backend {
	case BackendSQLite, "":
		b, err = OpenSQLite(ctx, opts.Path)
	case BackendRedis:
		b, err = NewRedisBackend(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisPrefix)
	case BackendPostgres:
		b, err = OpenPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.MemoryEntries > 0 {
		b = NewLRU(b, opts.MemoryEntries)
	}
	return b, nil
}
