package session

import (
	"context"
	"fmt"
)

// Backend names accepted by NewStore.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// NewStore creates the session store backend selected by name. The redisURL
// and sqlitePath arguments are only consulted by their respective backends.
func NewStore(ctx context.Context, backend, redisURL, sqlitePath string) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(ctx, redisURL)
	case BackendSQLite:
		return NewSQLiteStore(ctx, sqlitePath)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", backend)
	}
}
