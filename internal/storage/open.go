package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Factory opens a backend. dsn is the full string passed to Open and
// location is the part after "scheme:" with any leading "//" removed.
type Factory func(ctx context.Context, dsn, location string) (Backend, error)

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterBackend makes a backend available to Open under scheme.
func RegisterBackend(scheme string, factory Factory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" || factory == nil {
		return
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[scheme] = factory
}

func lookupBackend(scheme string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[scheme]
	return f, ok
}

func init() {
	sqlite := func(ctx context.Context, _, location string) (Backend, error) {
		return OpenSQLite(ctx, location)
	}
	RegisterBackend("sqlite", sqlite)
	RegisterBackend("file", sqlite)
	RegisterBackend("bolt", func(_ context.Context, _, location string) (Backend, error) {
		return OpenBolt(location)
	})
	postgres := func(ctx context.Context, dsn, _ string) (Backend, error) {
		return OpenPostgres(ctx, dsn)
	}
	RegisterBackend("postgres", postgres)
	RegisterBackend("postgresql", postgres)
	memory := func(context.Context, string, string) (Backend, error) {
		return NewMemoryBackend(0), nil
	}
	RegisterBackend("memory", memory)
	RegisterBackend("mem", memory)
}

// Open builds a backend from a DSN:
//
//	/path/to/tripsync.db          SQLite (no scheme)
//	sqlite:/path/to/tripsync.db   SQLite
//	bolt:/path/to/tripsync.bolt   bbolt
//	postgres://user@host/db       PostgreSQL
//	memory:                       in-process, unlimited
func Open(ctx context.Context, dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is empty")
	}
	scheme, location, ok := strings.Cut(dsn, ":")
	if !ok || strings.ContainsAny(scheme, `/\.`) {
		return OpenSQLite(ctx, dsn)
	}
	scheme = strings.ToLower(scheme)
	location = strings.TrimPrefix(location, "//")

	factory, ok := lookupBackend(scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return factory(ctx, dsn, location)
}
