// Package remote provides the shared real-time document store that devices
// sync through.
//
// The store is a single JSON tree addressed by slash-separated paths
// ("rooms/K7M2QX/budget"). Writers replace whole subtrees; subscribers
// receive the value at a path whenever it changes, including changes made
// through a parent or child path. There are no transactions and no
// compare-and-set: the last physical write wins.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ConnectedPath is answered by every Store with true or false depending on
// whether the store can currently reach the shared tree.
const ConnectedPath = ".info/connected"

// RoomsRoot is the top-level node holding every room namespace.
const RoomsRoot = "rooms"

var (
	// ErrOffline is returned for reads and writes while disconnected.
	ErrOffline = errors.New("remote store offline")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("remote store closed")

	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("invalid remote path")

	// ErrUnsupportedScheme is returned by Open for unknown URL schemes.
	ErrUnsupportedScheme = errors.New("unsupported remote scheme")
)

// Store is a shared JSON tree.
type Store interface {
	// Get returns the value at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Set replaces the value at path. A nil or JSON null value removes it.
	Set(ctx context.Context, path string, value json.RawMessage) error

	// Subscribe calls fn with the current value at path and again every
	// time it changes. fn receives nil when the path is empty. Calls for
	// one subscription are serialized and delivered in order.
	Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (Subscription, error)

	// Close releases the store and ends every subscription.
	Close() error
}

// Subscription is an active Subscribe registration.
type Subscription interface {
	// Unsubscribe stops delivery. It does not wait for a callback that is
	// already running.
	Unsubscribe()
}

// RoomPath joins a room code and optional child segments into a path under
// RoomsRoot.
func RoomPath(code string, parts ...string) string {
	segs := append([]string{RoomsRoot, code}, parts...)
	return strings.Join(segs, "/")
}

// SplitPath validates path and returns its segments.
func SplitPath(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(s, `#$[]*?\`) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// IsNull reports whether a raw value means "nothing stored".
func IsNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func connectedValue(online bool) json.RawMessage {
	if online {
		return json.RawMessage("true")
	}
	return json.RawMessage("false")
}

// Options configures stores built by Open.
type Options struct {
	// Hub backs "memory:" URLs. Defaults to a fresh Hub.
	Hub *Hub

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

// Open connects to the store described by url:
//
//	ws://host:7420/ws, wss://...   relay server (WSClient)
//	redis://host:6379/0            Redis (RedisStore)
//	memory:                        in-process Hub
func Open(ctx context.Context, url string, opts Options) (Store, error) {
	url = strings.TrimSpace(url)
	scheme, _, ok := strings.Cut(url, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, url)
	}
	switch strings.ToLower(scheme) {
	case "ws", "wss":
		return DialWS(ctx, url, WSOptions{Logger: opts.Logger})
	case "redis", "rediss":
		return OpenRedis(ctx, url, RedisOptions{Logger: opts.Logger})
	case "memory":
		hub := opts.Hub
		if hub == nil {
			hub = NewHub()
		}
		return hub.Client(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}
