package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"
)

// Set TRIPSYNC_TEST_REDIS_URL (e.g. redis://localhost:6379/15) to run.
func openTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("TRIPSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TRIPSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("tripsync-test-%d:", time.Now().UnixNano())
	s, err := OpenRedis(ctx, url, RedisOptions{Prefix: prefix, HealthInterval: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Set(ctx, RoomsRoot, nil)
		_ = s.Close()
	})
	return s
}

func TestRedisTree(t *testing.T) {
	s := openTestRedis(t)
	ctx := context.Background()

	if err := s.Set(ctx, "rooms/ABC234", json.RawMessage(`{"createdAt":"t0","budget":{"budget":1}}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "rooms/ABC234/trip", json.RawMessage(`{"days":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"rooms/ABC234/budget", `{"budget":1}`},
		{"rooms/ABC234/trip", `{"days":[]}`},
		{"rooms/ABC234", `{"budget":{"budget":1},"createdAt":"t0","trip":{"days":[]}}`},
		{"rooms/ZZZ999", ``},
	}
	for _, tt := range tests {
		v, err := s.Get(ctx, tt.path)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", tt.path, err)
		}
		if string(v) != tt.want {
			t.Errorf("Get(%s) = %s, want %s", tt.path, v, tt.want)
		}
	}

	// Overwriting a path held inside an ancestor value replaces that part.
	if err := s.Set(ctx, "rooms/ABC234/budget", json.RawMessage(`{"budget":2}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := s.Get(ctx, "rooms/ABC234/budget"); string(v) != `{"budget":2}` {
		t.Errorf("got %s", v)
	}
}

func TestRedisSubscribe(t *testing.T) {
	s := openTestRedis(t)
	ctx := context.Background()

	rec := newRecorder()
	sub, err := s.Subscribe(ctx, "rooms/ABC234/budget", rec.fn)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()
	if v := rec.next(t); v != nil {
		t.Errorf("initial value = %s, want nil", v)
	}

	if err := s.Set(ctx, "rooms/ABC234/budget", json.RawMessage(`{"budget":100,"expenses":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v := rec.next(t); string(v) != `{"budget":100,"expenses":[]}` {
		t.Errorf("got %s", v)
	}
}
