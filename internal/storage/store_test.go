package storage

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type budgetDoc struct {
	Budget   float64   `json:"budget"`
	Expenses []expense `json:"expenses"`
}

type expense struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

// failingBackend rejects every operation.
type failingBackend struct{}

var errBroken = errors.New("backend broken")

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errBroken }
func (failingBackend) Put(context.Context, string, []byte) error       { return errBroken }
func (failingBackend) Delete(context.Context, string) error            { return errBroken }
func (failingBackend) Close() error                                    { return nil }

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sqlite, err := OpenSQLite(ctx, filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	bolt, err := OpenBolt(filepath.Join(dir, "test.bolt"))
	if err != nil {
		t.Fatalf("failed to open bolt: %v", err)
	}
	t.Cleanup(func() { _ = bolt.Close() })

	backends := map[string]Backend{
		"memory": NewMemoryBackend(0),
		"sqlite": sqlite,
		"bolt":   bolt,
	}

	if dsn := os.Getenv("TRIPSYNC_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("failed to open postgres: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		backends["postgres"] = pg
	}
	return backends
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	want := budgetDoc{
		Budget: 10000,
		Expenses: []expense{
			{ID: "exp-1", Amount: 1200},
			{ID: "exp-2", Amount: 350.5},
		},
	}

	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(backend, Options{Logger: quietLogger()})
			store.Save(ctx, KeyBudget, want)

			got := Load(ctx, store, KeyBudget, budgetDoc{})
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadReturnsDefault(t *testing.T) {
	ctx := context.Background()
	def := budgetDoc{Budget: 10000}

	t.Run("missing key", func(t *testing.T) {
		store := NewStore(NewMemoryBackend(0), Options{Logger: quietLogger()})
		if got := Load(ctx, store, KeyBudget, def); got.Budget != 10000 {
			t.Errorf("expected default, got %+v", got)
		}
	})

	t.Run("backend error", func(t *testing.T) {
		store := NewStore(failingBackend{}, Options{Logger: quietLogger()})
		if got := Load(ctx, store, KeyBudget, def); got.Budget != 10000 {
			t.Errorf("expected default, got %+v", got)
		}
	})

	t.Run("undecodable value", func(t *testing.T) {
		backend := NewMemoryBackend(0)
		if err := backend.Put(ctx, KeyBudget, []byte(`{"budget":"lots"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		store := NewStore(backend, Options{Logger: quietLogger()})
		if got := Load(ctx, store, KeyBudget, def); got.Budget != 10000 {
			t.Errorf("expected default, got %+v", got)
		}
	})
}

func TestSaveFallsBackOnPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	fallback := NewMemoryBackend(1024)
	store := NewStore(failingBackend{}, Options{Fallback: fallback, Logger: quietLogger()})

	store.Save(ctx, KeyBudget, budgetDoc{Budget: 42})

	if _, ok, _ := fallback.Get(ctx, KeyBudget); !ok {
		t.Fatal("expected document in fallback store")
	}
	if got := Load(ctx, store, KeyBudget, budgetDoc{}); got.Budget != 42 {
		t.Errorf("expected fallback copy, got %+v", got)
	}
}

func TestFallbackCapacityIsSwallowed(t *testing.T) {
	ctx := context.Background()
	fallback := NewMemoryBackend(8)
	store := NewStore(failingBackend{}, Options{Fallback: fallback, Logger: quietLogger()})

	// Must not panic or report anything to the caller.
	store.Save(ctx, KeyBudget, budgetDoc{Budget: 123456789})

	if fallback.Size() != 0 {
		t.Errorf("expected empty fallback, got %d bytes", fallback.Size())
	}
}

func TestPrimaryRecoveryClearsFallback(t *testing.T) {
	ctx := context.Background()
	primary := &toggleBackend{MemoryBackend: NewMemoryBackend(0), broken: true}
	fallback := NewMemoryBackend(0)
	store := NewStore(primary, Options{Fallback: fallback, Logger: quietLogger()})

	store.Save(ctx, KeyBudget, budgetDoc{Budget: 1})
	primary.broken = false
	store.Save(ctx, KeyBudget, budgetDoc{Budget: 2})

	if _, ok, _ := fallback.Get(ctx, KeyBudget); ok {
		t.Error("fallback entry should be removed once the primary accepts writes")
	}
	if got := Load(ctx, store, KeyBudget, budgetDoc{}); got.Budget != 2 {
		t.Errorf("expected latest value, got %+v", got)
	}
}

type toggleBackend struct {
	*MemoryBackend
	broken bool
}

func (b *toggleBackend) Put(ctx context.Context, key string, value []byte) error {
	if b.broken {
		return errBroken
	}
	return b.MemoryBackend.Put(ctx, key, value)
}

func TestMemoryBackendCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(10)

	if err := m.Put(ctx, "a", []byte("12345")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Replacing a value only counts the difference.
	if err := m.Put(ctx, "a", []byte("1234567890")); err != nil {
		t.Fatalf("replacing Put failed: %v", err)
	}
	if err := m.Put(ctx, "b", []byte("x")); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if m.Size() != 0 {
		t.Errorf("expected size 0, got %d", m.Size())
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{name: "bare path", dsn: filepath.Join(dir, "a.db")},
		{name: "sqlite scheme", dsn: "sqlite:" + filepath.Join(dir, "b.db")},
		{name: "bolt scheme", dsn: "bolt://" + filepath.Join(dir, "c.bolt")},
		{name: "memory", dsn: "memory:"},
		{name: "empty", dsn: "", wantErr: true},
		{name: "unknown scheme", dsn: "cassandra://x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(ctx, tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.dsn, err, tt.wantErr)
			}
			if b != nil {
				_ = b.Close()
			}
		})
	}
}
