package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tripsync/tripsync/internal/jsondoc"
)

// Hub is an in-process shared tree. Each Client is one device's view of it
// and can be taken offline independently, which makes Hub the store used
// by the relay server and by multi-device tests.
type Hub struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[*hubSub]struct{}
	onWrite []func()
}

type hubSub struct {
	client    *Client
	segs      []string
	connected bool
	last      []byte
	delivered bool
	box       *mailbox
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		root: map[string]any{},
		subs: map[*hubSub]struct{}{},
	}
}

// Client returns a new online view of the hub.
func (h *Hub) Client() *Client {
	return &Client{hub: h, online: true}
}

// OnWrite registers fn to run after every successful write. fn runs on the
// writer's goroutine with no hub lock held.
func (h *Hub) OnWrite(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onWrite = append(h.onWrite, fn)
}

// Snapshot returns the whole tree as canonical JSON.
func (h *Hub) Snapshot() (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := jsondoc.Canonical(h.root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return data, nil
}

// Restore replaces the whole tree with data and notifies every subscriber
// whose value changed.
func (h *Hub) Restore(data json.RawMessage) error {
	tree, err := jsondoc.Normalize(data)
	if err != nil {
		return fmt.Errorf("failed to decode tree: %w", err)
	}
	root, ok := tree.(map[string]any)
	if tree != nil && !ok {
		return fmt.Errorf("failed to restore tree: %w", jsondoc.ErrNotObject)
	}
	if root == nil {
		root = map[string]any{}
	}

	h.mu.Lock()
	h.root = root
	for sub := range h.subs {
		if !sub.connected {
			h.offer(sub)
		}
	}
	h.mu.Unlock()
	return nil
}

// offer posts the current value at sub's path when it differs from what
// the subscriber last saw. Callers hold h.mu.
func (h *Hub) offer(sub *hubSub) {
	if sub.client.closed {
		return
	}
	var v json.RawMessage
	if sub.connected {
		v = connectedValue(sub.client.online)
	} else {
		if !sub.client.online {
			return
		}
		if node := treeGet(h.root, sub.segs); node != nil {
			data, err := jsondoc.Canonical(node)
			if err != nil {
				return
			}
			v = data
		}
	}
	if sub.delivered && bytes.Equal(sub.last, v) {
		return
	}
	sub.last = v
	sub.delivered = true
	sub.box.post(v)
}

// Client is one connection to a Hub. It implements Store.
type Client struct {
	hub *Hub

	// guarded by hub.mu
	online bool
	closed bool
}

var _ Store = (*Client)(nil)

// SetOnline connects or disconnects the client. While offline, Get and Set
// fail with ErrOffline and changes are not delivered; on reconnect every
// subscription receives the current value if it changed meanwhile.
func (c *Client) SetOnline(online bool) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.online == online {
		return
	}
	c.online = online
	for sub := range h.subs {
		if sub.client == c {
			h.offer(sub)
		}
	}
}

// Online reports whether the client is connected.
func (c *Client) Online() bool {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.online
}

// Get implements Store.
func (c *Client) Get(_ context.Context, path string) (json.RawMessage, error) {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if path == ConnectedPath {
		return connectedValue(c.online), nil
	}
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if !c.online {
		return nil, ErrOffline
	}
	node := treeGet(h.root, segs)
	if node == nil {
		return nil, nil
	}
	data, err := jsondoc.Canonical(node)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return data, nil
}

// Set implements Store. A cancelled ctx fails the write before the tree is
// touched.
func (c *Client) Set(ctx context.Context, path string, value json.RawMessage) error {
	if path == ConnectedPath {
		return fmt.Errorf("%w: %s is read-only", ErrInvalidPath, path)
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	var tree any
	if !IsNull(value) {
		tree, err = jsondoc.Normalize(value)
		if err != nil {
			return fmt.Errorf("failed to decode value for %s: %w", path, err)
		}
	}

	h := c.hub
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		h.mu.Unlock()
		return err
	}
	if !c.online {
		h.mu.Unlock()
		return ErrOffline
	}
	treeSet(h.root, segs, tree)
	for sub := range h.subs {
		if !sub.connected && overlaps(sub.segs, segs) {
			h.offer(sub)
		}
	}
	hooks := append([]func(){}, h.onWrite...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Subscribe implements Store.
func (c *Client) Subscribe(_ context.Context, path string, fn func(json.RawMessage)) (Subscription, error) {
	sub := &hubSub{client: c}
	if path == ConnectedPath {
		sub.connected = true
	} else {
		segs, err := SplitPath(path)
		if err != nil {
			return nil, err
		}
		sub.segs = segs
	}

	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	sub.box = newMailbox(fn)
	h.subs[sub] = struct{}{}
	h.offer(sub)
	return &hubSubscription{hub: h, sub: sub}, nil
}

// Close implements Store.
func (c *Client) Close() error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for sub := range h.subs {
		if sub.client == c {
			sub.box.close()
			delete(h.subs, sub)
		}
	}
	return nil
}

type hubSubscription struct {
	hub  *Hub
	sub  *hubSub
	once sync.Once
}

func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.sub)
		s.hub.mu.Unlock()
		s.sub.box.close()
	})
}
