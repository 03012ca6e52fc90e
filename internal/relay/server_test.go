package relay

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/tripsync/tripsync/internal/remote"
	"github.com/tripsync/tripsync/internal/storage"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func startServer(t *testing.T, backend storage.Backend) *Server {
	t.Helper()
	s := NewServer(&Config{
		Addr:         "127.0.0.1:0",
		Backend:      backend,
		PersistDelay: 20 * time.Millisecond,
		Logger:       quiet(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	return s
}

func dial(t *testing.T, s *Server) *remote.WSClient {
	t.Helper()
	c, err := remote.DialWS(context.Background(), "ws://"+s.GetAddr()+"/ws", remote.WSOptions{
		RequestTimeout:       2 * time.Second,
		MaxReconnectInterval: 100 * time.Millisecond,
		Logger:               quiet(),
	})
	if err != nil {
		t.Fatalf("DialWS failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayGetSetSubscribe(t *testing.T) {
	ctx := context.Background()
	s := startServer(t, nil)
	defer s.Stop()

	a := dial(t, s)
	b := dial(t, s)
	waitFor(t, "clients to connect", func() bool { return a.Connected() && b.Connected() })

	got := make(chan json.RawMessage, 8)
	sub, err := b.Subscribe(ctx, "rooms/ABC234/budget", func(v json.RawMessage) { got <- v })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case v := <-got:
		if v != nil {
			t.Errorf("initial value = %s, want nil", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial value")
	}

	if err := a.Set(ctx, "rooms/ABC234/budget", json.RawMessage(`{"budget":100,"expenses":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	select {
	case v := <-got:
		if string(v) != `{"budget":100,"expenses":[]}` {
			t.Errorf("event value = %s", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event after Set")
	}

	v, err := b.Get(ctx, "rooms/ABC234")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != `{"budget":{"budget":100,"expenses":[]}}` {
		t.Errorf("room = %s", v)
	}

	missing, err := b.Get(ctx, "rooms/ZZZ999")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %s, %v", missing, err)
	}

	if s.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", s.ClientCount())
	}
}

func TestRelayPersistsTree(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)

	s := startServer(t, backend)
	c := dial(t, s)
	waitFor(t, "client to connect", c.Connected)
	if err := c.Set(ctx, "rooms/ABC234", json.RawMessage(`{"createdAt":"2026-10-01T12:00:00.000Z"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	waitFor(t, "tree to be persisted", func() bool {
		_, ok, _ := backend.Get(ctx, TreeKey)
		return ok
	})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	restarted := startServer(t, backend)
	defer restarted.Stop()
	v, err := restarted.Hub().Client().Get(ctx, "rooms/ABC234/createdAt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != `"2026-10-01T12:00:00.000Z"` {
		t.Errorf("restored createdAt = %s", v)
	}
}

func TestRelayReconnect(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	s := startServer(t, backend)
	addr := s.GetAddr()

	c := dial(t, s)
	waitFor(t, "client to connect", c.Connected)

	states := make(chan bool, 8)
	if _, err := c.Subscribe(ctx, remote.ConnectedPath, func(v json.RawMessage) {
		states <- string(v) == "true"
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !<-states {
		t.Fatal("expected connected")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case up := <-states:
		if up {
			t.Fatal("expected disconnected")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect not reported")
	}
	if err := c.Set(ctx, "rooms/ABC234/x", json.RawMessage(`1`)); err == nil {
		t.Error("Set while disconnected should fail")
	}

	// Restart on the same address; the client comes back on its own.
	s2 := NewServer(&Config{Addr: addr, Backend: backend, Logger: quiet()})
	if err := s2.Start(ctx); err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer s2.Stop()
	select {
	case up := <-states:
		if !up {
			t.Fatal("expected reconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect not reported")
	}
}

func TestHealth(t *testing.T) {
	s := startServer(t, nil)
	defer s.Stop()

	resp, err := http.Get("http://" + s.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected health %v", body)
	}
}
