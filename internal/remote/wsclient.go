package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/coder/websocket"
)

// WSOptions configures a WSClient.
type WSOptions struct {
	// RequestTimeout bounds a single request when the caller's context has
	// no deadline (default: 10s).
	RequestTimeout time.Duration

	// MaxReconnectInterval caps the delay between reconnect attempts
	// (default: 30s).
	MaxReconnectInterval time.Duration

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

// WSClient is a Store backed by a relay server.
//
// The client reconnects with exponential backoff after the connection
// drops and re-registers every subscription; while disconnected, Get and
// Set fail with ErrOffline.
type WSClient struct {
	url     string
	timeout time.Duration
	maxWait time.Duration
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan Frame
	subs    map[uint64]*wsSub
	closed  bool
}

type wsSub struct {
	id        uint64
	path      string
	connected bool
	box       *mailbox

	// guarded by WSClient.mu
	last      []byte
	delivered bool
}

var _ Store = (*WSClient)(nil)

// DialWS connects to the relay at url. A failed first attempt is not an
// error: the client starts offline and keeps retrying in the background.
func DialWS(ctx context.Context, url string, opts WSOptions) (*WSClient, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &WSClient{
		url:     url,
		timeout: opts.RequestTimeout,
		maxWait: opts.MaxReconnectInterval,
		logger:  opts.Logger,
		ctx:     cctx,
		cancel:  cancel,
		pending: make(map[uint64]chan Frame),
		subs:    make(map[uint64]*wsSub),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Printf("Relay %s unreachable, retrying in background: %v", url, err)
	}

	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	conn.SetReadLimit(8 << 20)
	return conn, nil
}

// run owns the connection lifecycle until Close.
func (c *WSClient) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		if conn == nil {
			conn = c.reconnect()
			if conn == nil {
				return
			}
		}
		c.attach(conn)
		c.readLoop(conn)
		c.detach(conn)
		conn = nil
	}
}

func (c *WSClient) reconnect() *websocket.Conn {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.maxWait
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, err = c.dial(c.ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Printf("Reconnect failed, next attempt in %s: %v", wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		return nil
	}
	return conn
}

// attach installs conn and re-registers every subscription on it.
func (c *WSClient) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.conn = conn
	var frames [][]byte
	for _, sub := range c.subs {
		if sub.connected {
			c.deliver(sub, connectedValue(true))
			continue
		}
		data, _ := json.Marshal(Frame{Op: OpSubscribe, Path: sub.path, Sub: sub.id})
		frames = append(frames, data)
	}
	c.mu.Unlock()

	c.logger.Printf("Connected to %s", c.url)
	for _, data := range frames {
		wctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		err := conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			c.logger.Printf("Failed to resubscribe: %v", err)
			return
		}
	}
}

// detach fails in-flight requests and reports the disconnect.
func (c *WSClient) detach(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusGoingAway, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		ch <- Frame{ID: id, Op: OpResult, Error: ErrOffline.Error()}
		delete(c.pending, id)
	}
	for _, sub := range c.subs {
		if sub.connected {
			c.deliver(sub, connectedValue(false))
		}
	}
	if !c.closed {
		c.logger.Printf("Disconnected from %s", c.url)
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}
		switch f.Op {
		case OpResult:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case OpEvent:
			c.mu.Lock()
			if sub, ok := c.subs[f.Sub]; ok {
				v := f.Value
				if IsNull(v) {
					v = nil
				}
				c.deliver(sub, v)
			}
			c.mu.Unlock()
		}
	}
}

// deliver posts v unless the subscriber already saw it. Callers hold c.mu.
func (c *WSClient) deliver(sub *wsSub, v json.RawMessage) {
	if sub.delivered && bytes.Equal(sub.last, v) {
		return
	}
	sub.last = v
	sub.delivered = true
	sub.box.post(v)
}

func (c *WSClient) request(ctx context.Context, f Frame) (Frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return Frame{}, ErrOffline
	}
	c.nextID++
	f.ID = c.nextID
	ch := make(chan Frame, 1)
	c.pending[f.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}

	data, err := json.Marshal(f)
	if err != nil {
		forget()
		return Frame{}, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		forget()
		return Frame{}, fmt.Errorf("%w: %v", ErrOffline, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, responseError(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return Frame{}, ctx.Err()
	case <-c.ctx.Done():
		forget()
		return Frame{}, ErrClosed
	}
}

func responseError(msg string) error {
	for _, known := range []error{ErrOffline, ErrClosed, ErrInvalidPath} {
		if msg == known.Error() {
			return known
		}
	}
	return errors.New(msg)
}

// Connected reports whether the client currently holds a live connection.
func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Get implements Store.
func (c *WSClient) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if path == ConnectedPath {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil, ErrClosed
		}
		return connectedValue(c.conn != nil), nil
	}
	if _, err := SplitPath(path); err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, Frame{Op: OpGet, Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	if IsNull(resp.Value) {
		return nil, nil
	}
	return resp.Value, nil
}

// Set implements Store.
func (c *WSClient) Set(ctx context.Context, path string, value json.RawMessage) error {
	if _, err := SplitPath(path); err != nil || path == ConnectedPath {
		return fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	if IsNull(value) {
		value = nil
	} else if !json.Valid(value) {
		return fmt.Errorf("failed to set %s: value is not valid JSON", path)
	}
	if _, err := c.request(ctx, Frame{Op: OpSet, Path: path, Value: value}); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Subscribe implements Store. A subscription made while offline is
// registered with the relay once the connection comes back.
func (c *WSClient) Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (Subscription, error) {
	connected := path == ConnectedPath
	if !connected {
		if _, err := SplitPath(path); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	sub := &wsSub{
		id:        c.nextID,
		path:      path,
		connected: connected,
		box:       newMailbox(fn),
	}
	c.subs[sub.id] = sub
	online := c.conn != nil
	if connected {
		c.deliver(sub, connectedValue(online))
	}
	c.mu.Unlock()

	handle := &wsSubscription{client: c, sub: sub}
	if connected || !online {
		return handle, nil
	}
	if _, err := c.request(ctx, Frame{Op: OpSubscribe, Path: path, Sub: sub.id}); err != nil {
		if errors.Is(err, ErrOffline) {
			// Registered; attach re-sends it on reconnect.
			return handle, nil
		}
		handle.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}
	return handle, nil
}

// Close implements Store.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	for id, sub := range c.subs {
		sub.box.close()
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	c.wg.Wait()
	return nil
}

type wsSubscription struct {
	client *WSClient
	sub    *wsSub
	once   sync.Once
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		delete(c.subs, s.sub.id)
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		s.sub.box.close()

		if s.sub.connected || conn == nil || closed {
			return
		}
		// Fire-and-forget; events for an unknown sub are ignored anyway.
		data, _ := json.Marshal(Frame{Op: OpUnsubscribe, Sub: s.sub.id})
		go func() {
			ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
			defer cancel()
			_ = conn.Write(ctx, websocket.MessageText, data)
		}()
	})
}
