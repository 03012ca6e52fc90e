// Package channel bridges one local document to one path of the remote
// store.
//
// A Channel pushes local changes (debounced, skipping documents the remote
// already has) and hands remote changes back to the document's owner
// (skipping echoes of its own writes). Both directions run concurrently and
// are kept from looping by two fingerprints: the last document pushed and
// the last document received.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tripsync/tripsync/internal/jsondoc"
	"github.com/tripsync/tripsync/internal/remote"
)

// DefaultDebounce is how long Update waits for further edits before pushing.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrStopped is returned by operations on a stopped Channel.
	ErrStopped = errors.New("sync channel stopped")

	// ErrNotObject is returned for documents that are not JSON objects.
	ErrNotObject = jsondoc.ErrNotObject
)

// Config holds channel configuration.
type Config struct {
	// Room is the room code the channel is scoped to.
	Room string

	// Path names the document within the room ("trip", "budget", ...).
	Path string

	// Debounce delays outbound pushes (default: DefaultDebounce).
	Debounce time.Duration

	// OnRemoteUpdate receives each accepted remote document as canonical
	// JSON without the modification timestamp. It is never called
	// concurrently with itself.
	OnRemoteUpdate func(doc json.RawMessage)

	// OnError receives push and subscribe failures. It is never called
	// concurrently with itself.
	OnError func(err error)

	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger

	// Now stamps outgoing envelopes (default: time.Now).
	Now func() time.Time
}

// Channel syncs one document with rooms/{Room}/{Path}. A stopped Channel
// cannot be restarted; rejoining a room creates a new one.
type Channel struct {
	store    remote.Store
	path     string
	debounce time.Duration
	onRemote func(json.RawMessage)
	onError  func(error)
	logger   *log.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sched  scheduler
	errMu  sync.Mutex

	received     chan struct{}
	receivedOnce sync.Once

	mu           sync.Mutex
	lastPushed   string
	lastReceived string
	sub          remote.Subscription
	started      bool
	stopped      bool
}

// New creates a Channel. It does not subscribe until Start.
func New(store remote.Store, cfg Config) (*Channel, error) {
	if store == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if cfg.Room == "" || cfg.Path == "" {
		return nil, fmt.Errorf("room and path are required")
	}
	path := remote.RoomPath(cfg.Room, cfg.Path)
	if _, err := remote.SplitPath(path); err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.OnRemoteUpdate == nil {
		cfg.OnRemoteUpdate = func(json.RawMessage) {}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[channel] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		store:    store,
		path:     path,
		debounce: cfg.Debounce,
		onRemote: cfg.OnRemoteUpdate,
		onError:  cfg.OnError,
		logger:   cfg.Logger,
		now:      cfg.Now,
		ctx:      ctx,
		cancel:   cancel,
		received: make(chan struct{}),
	}, nil
}

// Path returns the remote path the channel syncs.
func (c *Channel) Path() string {
	return c.path
}

// Start subscribes to the remote document. Subscribe failures are also
// reported through OnError. Calling Start again is a no-op.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, c.path, c.handleRemote)
	if err != nil {
		err = fmt.Errorf("failed to subscribe to %s: %w", c.path, err)
		c.reportError(err)
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		// Stop ran while we were subscribing.
		sub.Unsubscribe()
		return ErrStopped
	}
	c.sub = sub
	return nil
}

// Received is closed once the first remote value, including an empty one,
// has been handled.
func (c *Channel) Received() <-chan struct{} {
	return c.received
}

// handleRemote is the inbound path.
func (c *Channel) handleRemote(value json.RawMessage) {
	defer c.receivedOnce.Do(func() { close(c.received) })
	if remote.IsNull(value) {
		return
	}
	if !jsondoc.IsObject(value) {
		c.logger.Printf("Ignoring non-object value at %s", c.path)
		return
	}
	doc, err := jsondoc.Unwrap(value)
	if err != nil {
		c.logger.Printf("Ignoring undecodable value at %s: %v", c.path, err)
		return
	}
	fp := string(doc)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if fp == c.lastPushed {
		// Our own write coming back.
		c.mu.Unlock()
		return
	}
	c.lastReceived = fp
	c.mu.Unlock()

	c.onRemote(doc)
}

// Accepted records doc as the local form of the last remote value. Call it
// from OnRemoteUpdate when importing changes the document's shape, so the
// imported form is not pushed back.
func (c *Channel) Accepted(doc any) error {
	data, err := canonicalObject(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	c.lastReceived = string(data)
	return nil
}

// Update hands the channel the current local document. Any pending push is
// dropped; unless doc matches what was last pushed or last received, a push
// of doc is scheduled after the debounce delay.
func (c *Channel) Update(doc any) error {
	data, err := canonicalObject(doc)
	if err != nil {
		return err
	}
	fp := string(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	c.sched.cancel()
	if fp == c.lastPushed || fp == c.lastReceived {
		return nil
	}
	c.sched.schedule(c.debounce, func() { c.push(fp, data) })
	return nil
}

// push runs when the debounce delay expires.
func (c *Channel) push(fp string, data []byte) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	// Either fingerprint may have moved while we waited.
	if fp == c.lastPushed || fp == c.lastReceived {
		c.mu.Unlock()
		return
	}
	c.lastPushed = fp
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.write(ctx, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.reportError(err)
	}
}

// PushNow writes doc immediately, dropping any pending debounced push. It
// skips the last-received check, so it always writes.
func (c *Channel) PushNow(ctx context.Context, doc any) error {
	data, err := canonicalObject(doc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.sched.cancel()
	c.lastPushed = string(data)
	c.mu.Unlock()

	if err := c.write(ctx, data); err != nil {
		c.reportError(err)
		return err
	}
	return nil
}

func (c *Channel) write(ctx context.Context, data []byte) error {
	envelope, err := jsondoc.Wrap(data, c.now())
	if err != nil {
		return fmt.Errorf("failed to build envelope for %s: %w", c.path, err)
	}
	if err := c.store.Set(ctx, c.path, envelope); err != nil {
		return fmt.Errorf("failed to push %s: %w", c.path, err)
	}
	return nil
}

func (c *Channel) reportError(err error) {
	c.logger.Printf("%v", err)
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.onError(err)
}

// Pending reports whether a debounced push is waiting.
func (c *Channel) Pending() bool {
	return c.sched.pending()
}

// Stop detaches the channel: the remote subscription is removed, a pending
// push is dropped and an in-flight write is cancelled. No push starts after
// Stop returns, and remote updates arriving later are ignored.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.sched.cancel()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.cancel()
}

func canonicalObject(doc any) ([]byte, error) {
	data, err := jsondoc.Canonical(doc)
	if err != nil {
		return nil, err
	}
	if !jsondoc.IsObject(data) {
		return nil, ErrNotObject
	}
	return data, nil
}
