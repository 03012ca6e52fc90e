package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/jsondoc"
	"github.com/tripsync/tripsync/internal/notify"
	"github.com/tripsync/tripsync/internal/remote"
	"github.com/tripsync/tripsync/internal/room"
	"github.com/tripsync/tripsync/internal/storage"
)

const testDebounce = 100 * time.Millisecond

type device struct {
	client  *remote.Client
	store   *storage.Store
	owners  Owners
	session *Session
	rooms   *Rooms
	notes   chan string
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newDevice(t *testing.T, hub *remote.Hub) *device {
	t.Helper()
	d := &device{
		client: hub.Client(),
		store:  storage.NewStore(storage.NewMemoryBackend(0), storage.Options{Logger: quiet()}),
		owners: DefaultOwners(domain.Options{}),
		notes:  make(chan string, 16),
	}
	s, err := New(Config{
		Store:    d.store,
		Remote:   d.client,
		Bindings: d.owners.Bindings(),
		Debounce: testDebounce,
		Notifier: notify.NotifierFunc(func(_ notify.Level, msg string) { d.notes <- msg }),
		Logger:   quiet(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	d.session = s
	svc := room.NewService(d.client, room.NewManager(d.store.Backend()), room.ServiceOptions{Logger: quiet()})
	d.rooms = NewRooms(svc, s)
	t.Cleanup(func() {
		s.Close()
		_ = d.client.Close()
	})
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fingerprint(t *testing.T, v any) string {
	t.Helper()
	fp, err := jsondoc.Fingerprint(v)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	return fp
}

func sameBudget(t *testing.T, a, b *device) func() bool {
	return func() bool {
		return fingerprint(t, a.owners.Budget.Snapshot()) == fingerprint(t, b.owners.Budget.Snapshot())
	}
}

func TestTwoDeviceBudgetScenario(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	a := newDevice(t, hub)
	b := newDevice(t, hub)

	a.owners.Budget.Import(domain.BudgetState{Budget: 100})
	code, err := a.rooms.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, "A's budget in the room", func() bool {
		v, _ := hub.Client().Get(ctx, remote.RoomPath(string(code), "budget"))
		return v != nil
	})

	ok, err := b.rooms.Join(ctx, string(code))
	if err != nil || !ok {
		t.Fatalf("Join() = %v, %v", ok, err)
	}
	waitFor(t, "B to import A's budget", func() bool {
		s := b.owners.Budget.Snapshot()
		return s.Budget == 100 && len(s.Expenses) == 0
	})

	b.owners.Budget.AddExpense(domain.NewExpense{Date: "2026-11-06", Amount: 1200, AmountPLN: 32, Category: domain.ExpenseFood})
	waitFor(t, "A to receive B's expense", sameBudget(t, a, b))

	// A goes offline: the push fails, the edit stays local.
	a.client.SetOnline(false)
	a.owners.Budget.SetBudget(200)
	select {
	case msg := <-a.notes:
		if msg != "failed to sync budget" {
			t.Errorf("unexpected notification %q", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no failure notification")
	}
	stored := storage.Load(ctx, a.store, storage.KeyBudget, domain.BudgetState{})
	if stored.Budget != 200 || len(stored.Expenses) != 1 {
		t.Errorf("offline edit not persisted: %+v", stored)
	}
	if a.owners.Budget.Snapshot().Budget != 200 {
		t.Error("offline edit lost")
	}

	// Back online, the next edit pushes everything A has.
	a.client.SetOnline(true)
	a.owners.Budget.AddExpense(domain.NewExpense{Date: "2026-11-07", Amount: 500, AmountPLN: 13.5, Category: domain.ExpenseTransport})
	waitFor(t, "B to receive A's offline edits", func() bool {
		s := b.owners.Budget.Snapshot()
		return s.Budget == 200 && len(s.Expenses) == 2
	})
	waitFor(t, "devices to converge", sameBudget(t, a, b))
}

func TestJoinSharesAllDocuments(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	a := newDevice(t, hub)
	b := newDevice(t, hub)

	a.owners.Packing.Add("Parasolka", domain.PackingOther)
	a.owners.Trip.UpdateNotes("day-2", "Asakusa rano")
	code, err := a.rooms.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, "A's documents in the room", func() bool { return !a.session.Pending() })

	if ok, err := b.rooms.Join(ctx, string(code)); err != nil || !ok {
		t.Fatalf("Join() = %v, %v", ok, err)
	}
	waitFor(t, "B to import the packing list", func() bool {
		return len(b.owners.Packing.Snapshot().Items) == 21
	})
	waitFor(t, "B to import the trip", func() bool {
		return b.owners.Trip.Snapshot().Days[1].Notes == "Asakusa rano"
	})

	st := b.rooms.Status(ctx)
	if st.Room != code || !st.Attached || !st.Connected {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestOpenLoadsLocalDocuments(t *testing.T) {
	ctx := context.Background()
	store := storage.NewStore(storage.NewMemoryBackend(0), storage.Options{Logger: quiet()})
	store.Save(ctx, storage.KeyBudget, domain.BudgetState{Expenses: []domain.Expense{}, Budget: 4321, ExchangeRate: 0.03})
	if err := store.Backend().Put(ctx, storage.KeyPacking, []byte(`{"items":"broken"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	owners := DefaultOwners(domain.Options{})
	s, err := New(Config{Store: store, Bindings: owners.Bindings(), Logger: quiet()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got := owners.Budget.Snapshot().Budget; got != 4321 {
		t.Errorf("budget = %v, want the stored 4321", got)
	}
	if got := len(owners.Packing.Snapshot().Items); got != 20 {
		t.Errorf("invalid stored packing should leave defaults, got %d items", got)
	}

	// Changes persist without a room.
	owners.Budget.SetBudget(5000)
	if got := storage.Load(ctx, store, storage.KeyBudget, domain.BudgetState{}); got.Budget != 5000 {
		t.Errorf("stored budget = %v", got.Budget)
	}
	if err := s.Attach(ctx, "ABC234"); err == nil {
		t.Error("Attach without a remote store should fail")
	}
}

func TestLeaveStopsSync(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	a := newDevice(t, hub)
	b := newDevice(t, hub)

	code, err := a.rooms.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ok, err := b.rooms.Join(ctx, string(code)); err != nil || !ok {
		t.Fatalf("Join() = %v, %v", ok, err)
	}
	waitFor(t, "budgets to match", sameBudget(t, a, b))

	if err := b.rooms.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	a.owners.Budget.SetBudget(777)
	if err := a.session.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	time.Sleep(5 * testDebounce)
	if b.owners.Budget.Snapshot().Budget == 777 {
		t.Error("B received an update after leaving")
	}
	if st := b.rooms.Status(ctx); st.Room != "" || st.Attached {
		t.Errorf("unexpected status after leave: %+v", st)
	}

	// Resume reattaches to the saved room.
	if got, ok, err := a.rooms.Resume(ctx); err != nil || !ok || got != code {
		t.Errorf("Resume() = %q, %v, %v", got, ok, err)
	}
}

func TestNewRejectsDuplicateDomains(t *testing.T) {
	owners := DefaultOwners(domain.Options{})
	store := storage.NewStore(nil, storage.Options{Logger: quiet()})
	_, err := New(Config{
		Store: store,
		Bindings: []Binding{
			{Domain: owners.Budget, StorageKey: "a"},
			{Domain: owners.Budget, StorageKey: "b"},
		},
	})
	if err == nil {
		t.Error("expected error for duplicate domain")
	}
}

func TestWaitReceivedBeforeLocalEdit(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	a := newDevice(t, hub)
	b := newDevice(t, hub)

	a.owners.Budget.SetBudget(2500)
	code, err := a.rooms.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := a.session.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if ok, err := b.rooms.Join(ctx, string(code)); err != nil || !ok {
		t.Fatalf("Join() = %v, %v", ok, err)
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.session.WaitReceived(wctx); err != nil {
		t.Fatalf("WaitReceived failed: %v", err)
	}
	if got := b.owners.Budget.Snapshot().Budget; got != 2500 {
		t.Fatalf("B budget after WaitReceived = %v, want 2500", got)
	}

	b.owners.Budget.SetBudget(3000)
	if err := b.session.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	waitFor(t, "A to see B's edit", func() bool { return a.owners.Budget.Snapshot().Budget == 3000 })
}

func TestJoinAttachesToExactCode(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	a := newDevice(t, hub)
	b := newDevice(t, hub)

	code, err := a.rooms.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	lower := strings.ToLower(string(code))
	if ok, err := b.rooms.Join(ctx, lower); ok || !errors.Is(err, room.ErrInvalidCode) {
		t.Errorf("Join(%q) = %v, %v; want false, ErrInvalidCode", lower, ok, err)
	}
	if _, attached := b.session.Room(); attached {
		t.Error("attached after a rejected join")
	}

	if ok, err := b.rooms.Join(ctx, string(code)); err != nil || !ok {
		t.Fatalf("Join() = %v, %v", ok, err)
	}
	if got, attached := b.session.Room(); !attached || got != code {
		t.Errorf("Room() = %q, %v; want %q", got, attached, code)
	}
}

func TestRemoteImportIsNotPushedBack(t *testing.T) {
	ctx := context.Background()
	hub := remote.NewHub()
	seeded := json.RawMessage(`{"budget":100,"expenses":[]}`)
	path := remote.RoomPath("ABCDEF", "budget")
	if err := hub.Client().Set(ctx, path, seeded); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	b := newDevice(t, hub)
	if ok, err := b.rooms.Join(ctx, "ABCDEF"); err != nil || !ok {
		t.Fatalf("Join() = %v, %v", ok, err)
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.session.WaitReceived(wctx); err != nil {
		t.Fatalf("WaitReceived failed: %v", err)
	}
	if got := b.owners.Budget.Snapshot().Budget; got != 100 {
		t.Fatalf("budget = %v, want 100", got)
	}

	time.Sleep(5 * testDebounce)
	if b.session.Pending() {
		t.Error("imported budget is waiting to be pushed")
	}
	v, err := hub.Client().Get(ctx, path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fingerprint(t, v) != fingerprint(t, seeded) {
		t.Errorf("remote budget rewritten to %s", v)
	}
}
