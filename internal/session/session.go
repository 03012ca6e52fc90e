// Package session connects the domain owners to the local store and, while a
// room is active, to one sync channel per document.
//
// Every owner change is saved locally first and then handed to the
// document's channel. Remote documents accepted by a channel are validated
// and imported into the owner, which feeds them back through the same path;
// the channel recognizes them and does not push them again.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tripsync/tripsync/internal/channel"
	"github.com/tripsync/tripsync/internal/notify"
	"github.com/tripsync/tripsync/internal/remote"
	"github.com/tripsync/tripsync/internal/room"
	"github.com/tripsync/tripsync/internal/storage"
)

// Domain is a synced document owner.
type Domain interface {
	// Name is the document's path within a room.
	Name() string

	// Document returns the current document.
	Document() any

	// DecodeJSON validates data and returns the document ImportJSON would
	// store for it.
	DecodeJSON(data []byte) (any, error)

	// ImportJSON validates data and replaces the document with it.
	ImportJSON(data []byte) error

	// Observe registers fn for document changes.
	Observe(fn func(doc any)) (cancel func())
}

// Binding pairs a domain with its local storage key.
type Binding struct {
	Domain     Domain
	StorageKey string
}

// Config holds session configuration.
type Config struct {
	Store    *storage.Store
	Remote   remote.Store
	Bindings []Binding

	// Debounce is passed to every channel (default: channel.DefaultDebounce).
	Debounce time.Duration

	// Notifier shows sync failures (default: LogNotifier).
	Notifier notify.Notifier

	// NotifyWindow spaces failure notifications per document
	// (default: notify.DefaultWindow).
	NotifyWindow time.Duration

	// Logger for session activity (default: stderr logger).
	Logger *log.Logger
}

type binding struct {
	Binding
	name string
}

// Session owns the persistence and sync wiring of a set of domains.
type Session struct {
	store    *storage.Store
	remote   remote.Store
	bindings []*binding
	debounce time.Duration
	notifier *notify.RateLimited
	logger   *log.Logger

	mu        sync.Mutex
	opened    bool
	closed    bool
	room      room.Code
	channels  map[string]*channel.Channel
	observers []func()
}

// New creates a session. Nothing is loaded until Open.
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("local store is required")
	}
	seen := make(map[string]bool)
	bindings := make([]*binding, 0, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		if b.Domain == nil || b.StorageKey == "" {
			return nil, fmt.Errorf("binding needs a domain and a storage key")
		}
		name := b.Domain.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate domain %q", name)
		}
		seen[name] = true
		bindings = append(bindings, &binding{Binding: b, name: name})
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{Logger: cfg.Logger}
	}
	return &Session{
		store:    cfg.Store,
		remote:   cfg.Remote,
		bindings: bindings,
		debounce: cfg.Debounce,
		notifier: notify.NewRateLimited(cfg.Notifier, notify.NewLimiter(cfg.NotifyWindow, nil)),
		logger:   cfg.Logger,
		channels: make(map[string]*channel.Channel),
	}, nil
}

// Open loads every document from the local store and starts persisting
// changes. It makes no remote calls. Stored documents that fail validation
// are ignored and the owner keeps its defaults.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}
	if s.opened {
		return nil
	}
	for _, b := range s.bindings {
		if data, ok := s.store.Raw(ctx, b.StorageKey); ok {
			if err := b.Domain.ImportJSON(data); err != nil {
				s.logger.Printf("Stored %s is invalid, using defaults: %v", b.name, err)
			}
		}
		b := b
		s.observers = append(s.observers, b.Domain.Observe(func(doc any) {
			s.changed(b, doc)
		}))
	}
	s.opened = true
	return nil
}

// changed runs after every owner change: persist, then sync.
func (s *Session) changed(b *binding, doc any) {
	s.store.Save(context.Background(), b.StorageKey, doc)

	s.mu.Lock()
	ch := s.channels[b.name]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Update(doc); err != nil && !errors.Is(err, channel.ErrStopped) {
		s.logger.Printf("Sync %s: %v", b.name, err)
	}
}

// Attach starts syncing every document with room code. A previously
// attached room is detached first. Each document is offered to its channel
// right away, so local state is pushed unless the room already holds a
// document that arrives before the debounce delay.
func (s *Session) Attach(ctx context.Context, code room.Code) error {
	if s.remote == nil {
		return fmt.Errorf("no remote store configured")
	}
	s.Detach()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	channels := make(map[string]*channel.Channel, len(s.bindings))
	for _, b := range s.bindings {
		b := b
		var ch *channel.Channel
		ch, err := channel.New(s.remote, channel.Config{
			Room:           string(code),
			Path:           b.name,
			Debounce:       s.debounce,
			OnRemoteUpdate: func(doc json.RawMessage) { s.importRemote(b, ch, doc) },
			OnError:        func(err error) { s.syncFailed(b, err) },
			Logger:         s.logger,
		})
		if err != nil {
			s.mu.Unlock()
			for _, c := range channels {
				c.Stop()
			}
			return fmt.Errorf("failed to create %s channel: %w", b.name, err)
		}
		channels[b.name] = ch
	}
	s.room = code
	s.channels = channels
	s.mu.Unlock()

	var errs []error
	for _, b := range s.bindings {
		ch := channels[b.name]
		if err := ch.Start(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ch.Update(b.Domain.Document()); err != nil && !errors.Is(err, channel.ErrStopped) {
			errs = append(errs, fmt.Errorf("failed to offer %s: %w", b.name, err))
		}
	}
	s.logger.Printf("Attached to room %s", code)
	return errors.Join(errs...)
}

// importRemote validates and imports a remote document. The imported form
// can differ from the received bytes (missing fields filled in), so the
// channel is told what was actually stored before the owner changes.
func (s *Session) importRemote(b *binding, ch *channel.Channel, data json.RawMessage) {
	doc, err := b.Domain.DecodeJSON(data)
	if err != nil {
		s.logger.Printf("Dropping remote %s: %v", b.name, err)
		return
	}
	if err := ch.Accepted(doc); err != nil {
		return
	}
	if err := b.Domain.ImportJSON(data); err != nil {
		s.logger.Printf("Dropping remote %s: %v", b.name, err)
	}
}

func (s *Session) syncFailed(b *binding, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.notifier.NotifyKey(b.name, notify.LevelError, "failed to sync "+b.name)
}

// Detach stops every channel. Local state is kept. Pending pushes are
// dropped.
func (s *Session) Detach() {
	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*channel.Channel)
	prev := s.room
	s.room = ""
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Stop()
	}
	if prev != "" {
		s.logger.Printf("Detached from room %s", prev)
	}
}

// Room returns the attached room code, if any.
func (s *Session) Room() (room.Code, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != ""
}

// Pending reports whether any channel has a debounced push waiting.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.Pending() {
			return true
		}
	}
	return false
}

// WaitReceived blocks until every channel has handled the room's current
// documents, so local edits made afterwards are not overwritten by them.
func (s *Session) WaitReceived(ctx context.Context) error {
	s.mu.Lock()
	channels := make([]*channel.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		select {
		case <-ch.Received():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Flush pushes every document immediately.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	channels := make(map[string]*channel.Channel, len(s.channels))
	for k, v := range s.channels {
		channels[k] = v
	}
	s.mu.Unlock()

	var errs []error
	for _, b := range s.bindings {
		ch, ok := channels[b.name]
		if !ok {
			continue
		}
		if err := ch.PushNow(ctx, b.Domain.Document()); err != nil && !errors.Is(err, channel.ErrStopped) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close detaches and stops persisting changes. The local store is not
// closed.
func (s *Session) Close() {
	s.Detach()
	s.mu.Lock()
	s.closed = true
	observers := s.observers
	s.observers = nil
	s.mu.Unlock()
	for _, cancel := range observers {
		cancel()
	}
}
