package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/tripsync/tripsync/internal/jsondoc"
	"github.com/tripsync/tripsync/internal/remote"
)

const testDebounce = 30 * time.Millisecond

type budget struct {
	Budget   int       `json:"budget"`
	Expenses []expense `json:"expenses"`
}

type expense struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

// countingStore counts writes that reach the remote store.
type countingStore struct {
	remote.Store
	mu     sync.Mutex
	writes []json.RawMessage
}

func (s *countingStore) Set(ctx context.Context, path string, value json.RawMessage) error {
	err := s.Store.Set(ctx, path, value)
	if err == nil {
		s.mu.Lock()
		s.writes = append(s.writes, value)
		s.mu.Unlock()
	}
	return err
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *countingStore) last() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return nil
	}
	return s.writes[len(s.writes)-1]
}

// device is one participant: a hub client, a channel and what it received.
type device struct {
	client  *remote.Client
	store   *countingStore
	ch      *Channel
	updates chan json.RawMessage
	errs    chan error
}

func newDevice(t *testing.T, hub *remote.Hub, room string) *device {
	t.Helper()
	d := &device{
		client:  hub.Client(),
		updates: make(chan json.RawMessage, 16),
		errs:    make(chan error, 16),
	}
	d.store = &countingStore{Store: d.client}
	ch, err := New(d.store, Config{
		Room:           room,
		Path:           "budget",
		Debounce:       testDebounce,
		OnRemoteUpdate: func(doc json.RawMessage) { d.updates <- doc },
		OnError:        func(err error) { d.errs <- err },
		Logger:         log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	d.ch = ch
	t.Cleanup(func() {
		ch.Stop()
		_ = d.client.Close()
	})
	return d
}

func (d *device) nextUpdate(t *testing.T) json.RawMessage {
	t.Helper()
	select {
	case doc := <-d.updates:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote update")
		return nil
	}
}

func (d *device) expectNoUpdate(t *testing.T) {
	t.Helper()
	select {
	case doc := <-d.updates:
		t.Fatalf("unexpected remote update: %s", doc)
	case <-time.After(5 * testDebounce):
	}
}

func settle() {
	time.Sleep(5 * testDebounce)
}

func mustFingerprint(t *testing.T, v any) string {
	t.Helper()
	fp, err := jsondoc.Fingerprint(v)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	return fp
}

func TestSelfEchoIsNotImported(t *testing.T) {
	a := newDevice(t, remote.NewHub(), "ABC234")

	if err := a.ch.Update(budget{Budget: 100, Expenses: []expense{}}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	settle()

	if a.store.count() != 1 {
		t.Fatalf("expected 1 write, got %d", a.store.count())
	}
	a.expectNoUpdate(t)
}

func TestDebounceCoalesces(t *testing.T) {
	a := newDevice(t, remote.NewHub(), "ABC234")

	for i := 1; i <= 10; i++ {
		if err := a.ch.Update(budget{Budget: i, Expenses: []expense{}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	settle()

	if n := a.store.count(); n != 1 {
		t.Fatalf("expected 1 write for 10 edits, got %d", n)
	}
	doc, err := jsondoc.Unwrap(a.store.last())
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if want := mustFingerprint(t, budget{Budget: 10, Expenses: []expense{}}); string(doc) != want {
		t.Errorf("pushed %s, want %s", doc, want)
	}
	if _, ok := jsondoc.LastModified(a.store.last()); !ok {
		t.Error("pushed envelope has no _lastModified")
	}
}

func TestUnchangedDocumentIsNotPushedTwice(t *testing.T) {
	a := newDevice(t, remote.NewHub(), "ABC234")
	doc := budget{Budget: 5, Expenses: []expense{}}

	_ = a.ch.Update(doc)
	settle()
	_ = a.ch.Update(doc)
	settle()

	if n := a.store.count(); n != 1 {
		t.Errorf("expected 1 write, got %d", n)
	}
}

func TestRemoteUpdateIsDeliveredAndNotPushedBack(t *testing.T) {
	hub := remote.NewHub()
	a := newDevice(t, hub, "ABC234")
	b := newDevice(t, hub, "ABC234")

	doc := budget{Budget: 100, Expenses: []expense{}}
	_ = a.ch.Update(doc)

	got := b.nextUpdate(t)
	if want := mustFingerprint(t, doc); string(got) != want {
		t.Fatalf("B received %s, want %s", got, want)
	}

	// B's owner imports the document and reports it back unchanged.
	if err := b.ch.Update(doc); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	settle()
	if n := b.store.count(); n != 0 {
		t.Errorf("B pushed a document it just received (%d writes)", n)
	}
	a.expectNoUpdate(t)
}

func TestUpdateDropsPendingPushWhenDocumentReverts(t *testing.T) {
	hub := remote.NewHub()
	a := newDevice(t, hub, "ABC234")
	b := newDevice(t, hub, "ABC234")

	received := budget{Budget: 100, Expenses: []expense{}}
	_ = a.ch.Update(received)
	b.nextUpdate(t)

	// An edit is followed by a revert before the debounce fires.
	_ = b.ch.Update(budget{Budget: 999, Expenses: []expense{}})
	_ = b.ch.Update(received)
	settle()

	if n := b.store.count(); n != 0 {
		t.Errorf("expected the pending push to be dropped, got %d writes", n)
	}
}

func TestPushNow(t *testing.T) {
	hub := remote.NewHub()
	a := newDevice(t, hub, "ABC234")
	b := newDevice(t, hub, "ABC234")

	doc := budget{Budget: 7, Expenses: []expense{}}
	_ = a.ch.Update(budget{Budget: 1, Expenses: []expense{}})
	if err := a.ch.PushNow(context.Background(), doc); err != nil {
		t.Fatalf("PushNow failed: %v", err)
	}
	if a.store.count() != 1 {
		t.Fatalf("expected an immediate write, got %d", a.store.count())
	}
	if a.ch.Pending() {
		t.Error("PushNow should drop the pending debounced push")
	}
	if got := b.nextUpdate(t); string(got) != mustFingerprint(t, doc) {
		t.Errorf("B received %s", got)
	}

	// PushNow ignores the last-received guard: B can force the same doc.
	if err := b.ch.PushNow(context.Background(), doc); err != nil {
		t.Fatalf("PushNow failed: %v", err)
	}
	if b.store.count() != 1 {
		t.Errorf("expected B to write, got %d writes", b.store.count())
	}
	settle()
	if a.store.count() != 1 {
		t.Errorf("dropped debounced push fired anyway (%d writes)", a.store.count())
	}
}

func TestStopCancelsPendingPush(t *testing.T) {
	hub := remote.NewHub()
	a := newDevice(t, hub, "ABC234")
	b := newDevice(t, hub, "ABC234")

	_ = a.ch.Update(budget{Budget: 1, Expenses: []expense{}})
	a.ch.Stop()
	settle()

	if n := a.store.count(); n != 0 {
		t.Errorf("push ran after Stop (%d writes)", n)
	}
	if err := a.ch.Update(budget{Budget: 2}); !errors.Is(err, ErrStopped) {
		t.Errorf("Update after Stop: got %v, want ErrStopped", err)
	}
	if err := a.ch.PushNow(context.Background(), budget{Budget: 2}); !errors.Is(err, ErrStopped) {
		t.Errorf("PushNow after Stop: got %v, want ErrStopped", err)
	}
	if err := a.ch.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop: got %v, want ErrStopped", err)
	}

	// Remote changes no longer reach a stopped channel.
	_ = b.ch.PushNow(context.Background(), budget{Budget: 3, Expenses: []expense{}})
	a.expectNoUpdate(t)

	a.ch.Stop()
}

func TestPushFailureIsReported(t *testing.T) {
	hub := remote.NewHub()
	a := newDevice(t, hub, "ABC234")

	a.client.SetOnline(false)
	_ = a.ch.Update(budget{Budget: 1, Expenses: []expense{}})

	select {
	case err := <-a.errs:
		if !errors.Is(err, remote.ErrOffline) {
			t.Errorf("expected ErrOffline, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}

	// No automatic retry; the next edit after reconnecting goes through.
	a.client.SetOnline(true)
	settle()
	if a.store.count() != 0 {
		t.Fatalf("failed push was retried")
	}
	_ = a.ch.Update(budget{Budget: 2, Expenses: []expense{}})
	settle()
	if a.store.count() != 1 {
		t.Errorf("expected push after reconnect, got %d writes", a.store.count())
	}
}

func TestRejectsNonObjects(t *testing.T) {
	a := newDevice(t, remote.NewHub(), "ABC234")

	for _, doc := range []any{[]int{1, 2}, "text", 42, nil} {
		if err := a.ch.Update(doc); !errors.Is(err, ErrNotObject) {
			t.Errorf("Update(%v): got %v, want ErrNotObject", doc, err)
		}
	}
}

func TestNewValidates(t *testing.T) {
	hub := remote.NewHub()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing room", Config{Path: "budget"}},
		{"missing path", Config{Room: "ABC234"}},
		{"bad path", Config{Room: "ABC234", Path: "a*b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(hub.Client(), tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := New(nil, Config{Room: "ABC234", Path: "budget"}); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestSchedulerReplaces(t *testing.T) {
	var s scheduler
	var mu sync.Mutex
	var ran []int

	for i := 1; i <= 3; i++ {
		i := i
		s.schedule(10*time.Millisecond, func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		})
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != 3 {
		t.Errorf("expected only the last task to run, got %v", ran)
	}
	if s.pending() {
		t.Error("scheduler still pending after run")
	}
}

func TestReceivedClosesAfterFirstValue(t *testing.T) {
	hub := remote.NewHub()
	a := newDevice(t, hub, "ABC234")
	select {
	case <-a.ch.Received():
	case <-time.After(2 * time.Second):
		t.Fatal("Received not closed for an empty room")
	}

	_ = a.ch.Update(budget{Budget: 7, Expenses: []expense{}})
	settle()

	b := newDevice(t, hub, "ABC234")
	select {
	case <-b.ch.Received():
	case <-time.After(2 * time.Second):
		t.Fatal("Received not closed")
	}
	// The initial value was handed over before Received closed.
	select {
	case <-b.updates:
	default:
		t.Error("Received closed before the document was delivered")
	}
}

func TestAcceptedFormIsNotPushedBack(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	b := newDevice(t, hub, "ABC234")

	if err := hub.Client().Set(ctx, remote.RoomPath("ABC234", "budget"), json.RawMessage(`{"budget":5}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := string(b.nextUpdate(t)); got != `{"budget":5}` {
		t.Fatalf("received %s", got)
	}

	// The importer fills in the missing list.
	imported := budget{Budget: 5, Expenses: []expense{}}
	if err := b.ch.Accepted(imported); err != nil {
		t.Fatalf("Accepted failed: %v", err)
	}
	if err := b.ch.Update(imported); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if b.ch.Pending() {
		t.Error("imported form scheduled for push")
	}
	settle()
	if n := b.store.count(); n != 0 {
		t.Errorf("imported form pushed %d times", n)
	}

	// A later local edit still goes out.
	_ = b.ch.Update(budget{Budget: 6, Expenses: []expense{}})
	settle()
	if n := b.store.count(); n != 1 {
		t.Errorf("expected 1 push after local edit, got %d", n)
	}

	b.ch.Stop()
	if err := b.ch.Accepted(imported); !errors.Is(err, ErrStopped) {
		t.Errorf("Accepted after Stop = %v, want ErrStopped", err)
	}
}
