package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/remote"
	"github.com/tripsync/tripsync/internal/room"
	"github.com/tripsync/tripsync/internal/session"
	"github.com/tripsync/tripsync/internal/storage"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

type fixture struct {
	daemon *Daemon
	owners session.Owners
	rooms  *session.Rooms
	hub    *remote.Hub
	inbox  string
	cancel context.CancelFunc
	done   chan error
}

// setupDaemon starts a daemon over an in-memory hub and returns once it is
// watching the inbox.
func setupDaemon(t *testing.T, before func(*fixture)) *fixture {
	t.Helper()
	hub := remote.NewHub()
	client := hub.Client()
	store := storage.NewStore(storage.NewMemoryBackend(0), storage.Options{Logger: quiet()})
	owners := session.DefaultOwners(domain.Options{})

	sess, err := session.New(session.Config{
		Store:    store,
		Remote:   client,
		Bindings: owners.Bindings(),
		Debounce: 20 * time.Millisecond,
		Logger:   quiet(),
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	svc := room.NewService(client, room.NewManager(store.Backend()), room.ServiceOptions{Logger: quiet()})
	f := &fixture{
		owners: owners,
		rooms:  session.NewRooms(svc, sess),
		hub:    hub,
		inbox:  filepath.Join(t.TempDir(), "inbox"),
		done:   make(chan error, 1),
	}
	if before != nil {
		before(f)
	}

	d, err := New(sess, f.rooms, &Config{
		InboxDir: f.inbox,
		Importers: map[string]Importer{
			"trip":    owners.Trip.ImportJSON,
			"budget":  owners.Budget.ImportJSON,
			"packing": owners.Packing.ImportJSON,
		},
		DebounceInterval: 20 * time.Millisecond,
		Logger:           quiet(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.daemon = d

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-f.done
		sess.Close()
		_ = client.Close()
	})

	waitFor(t, "inbox to exist", func() bool {
		_, err := os.Stat(f.inbox)
		return err == nil
	})
	// Give the watcher a moment to register.
	time.Sleep(50 * time.Millisecond)
	return f
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

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestInboxImport(t *testing.T) {
	f := setupDaemon(t, nil)

	path := filepath.Join(f.inbox, "budget.json")
	writeFile(t, path, `{"expenses":[],"budget":2500,"exchangeRate":0.027,"lastRateUpdate":null}`)

	waitFor(t, "budget import", func() bool { return f.owners.Budget.Snapshot().Budget == 2500 })
	waitFor(t, "inbox file removal", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestInboxRejectsInvalid(t *testing.T) {
	f := setupDaemon(t, nil)

	path := filepath.Join(f.inbox, "packing.json")
	writeFile(t, path, `{"items":"none"}`)

	waitFor(t, "rejected file", func() bool {
		_, err := os.Stat(path + RejectedSuffix)
		return err == nil
	})
	if got := len(f.owners.Packing.Snapshot().Items); got != 20 {
		t.Errorf("invalid import changed the packing list (%d items)", got)
	}
}

func TestImportPendingOnStart(t *testing.T) {
	var code room.Code
	f := setupDaemon(t, func(f *fixture) {
		if err := os.MkdirAll(f.inbox, 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		writeFile(t, filepath.Join(f.inbox, "budget.json"), `{"expenses":[],"budget":42}`)
		writeFile(t, filepath.Join(f.inbox, "notes.json"), `{}`)

		// A saved room is resumed on start.
		var err error
		code, err = f.rooms.Create(context.Background())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	})

	waitFor(t, "pending import", func() bool { return f.owners.Budget.Snapshot().Budget == 42 })
	if _, err := os.Stat(filepath.Join(f.inbox, "notes.json")); err != nil {
		t.Errorf("unknown inbox file should be left alone: %v", err)
	}

	// The imported budget reaches the room.
	waitFor(t, "budget in room", func() bool {
		v, _ := f.hub.Client().Get(context.Background(), remote.RoomPath(string(code), "budget", "budget"))
		return string(v) == "42"
	})
}

func TestLock(t *testing.T) {
	dir := t.TempDir()
	l, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if _, err := AcquireLock(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second AcquireLock: got %v, want ErrLocked", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	l2, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	_ = l2.Release()
}
