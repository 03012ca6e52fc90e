// Package storage provides the local durable store for synced documents.
//
// Documents are kept as whole JSON blobs keyed by an opaque string (one key
// per domain document). A Store pairs a primary Backend with a small
// in-process fallback: writes that fail on the primary land in the fallback
// so the device keeps working offline, and reads never fail, they fall back
// to a caller-supplied default.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
)

// Well-known document keys.
const (
	KeyTrip     = "trip"
	KeyBudget   = "budgetState"
	KeyPacking  = "packingItems"
	KeyRoomCode = "syncRoomCode"
)

// DefaultFallbackBytes bounds the in-process fallback store.
const DefaultFallbackBytes = 5 << 20

var (
	// ErrCapacityExceeded is returned by a capacity-limited backend when a
	// write would exceed its limit.
	ErrCapacityExceeded = errors.New("storage capacity exceeded")

	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("storage closed")

	// ErrUnsupportedScheme is returned by Open for unknown DSN schemes.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")
)

// Backend is a key/value store of JSON blobs.
type Backend interface {
	// Get returns the value for key. The boolean is false when no entry exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Options configures a Store.
type Options struct {
	// Fallback receives writes the primary rejects. Defaults to a
	// MemoryBackend limited to DefaultFallbackBytes.
	Fallback Backend

	// Logger for degraded-path activity (default: stderr logger).
	Logger *log.Logger
}

// Store is the device-local source of truth for every domain document.
type Store struct {
	primary  Backend
	fallback Backend
	logger   *log.Logger
}

// NewStore creates a Store over primary. A nil primary leaves only the
// fallback, which is how a device without writable storage still runs.
func NewStore(primary Backend, opts Options) *Store {
	if opts.Fallback == nil {
		opts.Fallback = NewMemoryBackend(DefaultFallbackBytes)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[storage] ", log.LstdFlags)
	}
	return &Store{
		primary:  primary,
		fallback: opts.Fallback,
		logger:   opts.Logger,
	}
}

// Raw returns the stored bytes for key.
//
// The fallback is consulted first: an entry only lives there while the
// primary is failing, so it is always the newer copy.
func (s *Store) Raw(ctx context.Context, key string) ([]byte, bool) {
	if data, ok, err := s.fallback.Get(ctx, key); err == nil && ok {
		return data, true
	}
	if s.primary == nil {
		return nil, false
	}
	data, ok, err := s.primary.Get(ctx, key)
	if err != nil {
		s.logger.Printf("Load %s failed: %v", key, err)
		return nil, false
	}
	return data, ok
}

// Save persists value under key. It never fails from the caller's point of
// view: a primary failure degrades to the fallback, and fallback failures
// are logged and dropped.
func (s *Store) Save(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Printf("Save %s: failed to marshal: %v", key, err)
		return
	}

	if s.primary != nil {
		err = s.primary.Put(ctx, key, data)
		if err == nil {
			// The primary copy is current again.
			_ = s.fallback.Delete(ctx, key)
			return
		}
		s.logger.Printf("Save %s failed, using fallback: %v", key, err)
	}

	if err := s.fallback.Put(ctx, key, data); err != nil {
		s.logger.Printf("Fallback save %s failed: %v", key, err)
	}
}

// Delete removes key from both backends.
func (s *Store) Delete(ctx context.Context, key string) {
	if s.primary != nil {
		if err := s.primary.Delete(ctx, key); err != nil {
			s.logger.Printf("Delete %s failed: %v", key, err)
		}
	}
	_ = s.fallback.Delete(ctx, key)
}

// Backend returns the primary backend, or the fallback when there is none.
func (s *Store) Backend() Backend {
	if s.primary == nil {
		return s.fallback
	}
	return s.primary
}

// Close closes both backends.
func (s *Store) Close() error {
	var errs []error
	if s.primary != nil {
		errs = append(errs, s.primary.Close())
	}
	errs = append(errs, s.fallback.Close())
	return errors.Join(errs...)
}

// Load returns the document stored under key, or def when there is no entry,
// the entry does not decode into T, or the store fails.
func Load[T any](ctx context.Context, s *Store, key string, def T) T {
	data, ok := s.Raw(ctx, key)
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		s.logger.Printf("Load %s: stored value does not decode: %v", key, err)
		return def
	}
	return v
}
