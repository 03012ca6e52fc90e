package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tripsync/tripsync/internal/remote"
)

const writeTimeout = 5 * time.Second

// session serves one device connection through its own hub client.
type session struct {
	server *Server
	conn   *websocket.Conn
	client *remote.Client

	mu     sync.Mutex
	subs   map[uint64]remote.Subscription
	closed bool
}

func newSession(s *Server, conn *websocket.Conn) *session {
	return &session{
		server: s,
		conn:   conn,
		client: s.hub.Client(),
		subs:   make(map[uint64]remote.Subscription),
	}
}

// readLoop handles frames in arrival order until the connection drops.
func (c *session) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var f remote.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.server.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *session) handle(ctx context.Context, f remote.Frame) {
	var (
		value json.RawMessage
		err   error
	)
	switch f.Op {
	case remote.OpGet:
		value, err = c.client.Get(ctx, f.Path)
	case remote.OpSet:
		err = c.client.Set(ctx, f.Path, f.Value)
	case remote.OpSubscribe:
		err = c.subscribe(ctx, f.Sub, f.Path)
	case remote.OpUnsubscribe:
		c.unsubscribe(f.Sub)
	default:
		err = errors.New("unknown op " + f.Op)
	}

	if f.ID == 0 {
		if err != nil {
			c.server.logger.Printf("%s %s: %v", f.Op, f.Path, err)
		}
		return
	}
	resp := remote.Frame{ID: f.ID, Op: remote.OpResult, Value: value}
	if err != nil {
		resp.Error = rootError(err).Error()
	}
	c.send(resp)
}

func (c *session) subscribe(ctx context.Context, id uint64, path string) error {
	if id == 0 {
		return errors.New("subscription id is required")
	}
	c.unsubscribe(id)
	sub, err := c.client.Subscribe(ctx, path, func(v json.RawMessage) {
		c.send(remote.Frame{Op: remote.OpEvent, Sub: id, Path: path, Value: v})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.Unsubscribe()
		return remote.ErrClosed
	}
	c.subs[id] = sub
	return nil
}

func (c *session) unsubscribe(id uint64) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

func (c *session) send(f remote.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.server.logger.Printf("Failed to marshal frame: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(c.server.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.server.logger.Printf("Failed to send to client: %v", err)
	}
}

func (c *session) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	_ = c.client.Close()
}

// rootError maps wrapped store errors to the sentinel texts clients
// recognize.
func rootError(err error) error {
	for _, known := range []error{remote.ErrOffline, remote.ErrClosed, remote.ErrInvalidPath} {
		if errors.Is(err, known) {
			return known
		}
	}
	return err
}
