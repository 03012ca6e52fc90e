package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripsync/tripsync/internal/daemon"
	"github.com/tripsync/tripsync/internal/domain"
	"github.com/tripsync/tripsync/internal/notify"
	"github.com/tripsync/tripsync/internal/remote"
	"github.com/tripsync/tripsync/internal/room"
	"github.com/tripsync/tripsync/internal/session"
	"github.com/tripsync/tripsync/internal/storage"
	"github.com/tripsync/tripsync/internal/ui"
)

// catchUpTimeout bounds how long a command waits for the room's documents
// before editing.
const catchUpTimeout = 5 * time.Second

// app is one device: its store, documents and, when a remote is
// configured, its room.
type app struct {
	store   *storage.Store
	remote  remote.Store
	owners  session.Owners
	session *session.Session
	rooms   *session.Rooms
	lock    *daemon.Lock
}

type appOptions struct {
	// lock takes the device lock so no daemon edits the same store.
	lock bool
	// offline skips connecting to the remote store.
	offline bool
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	a := &app{}
	if opts.lock {
		l, err := daemon.AcquireLock(cfg.DataDir)
		if errors.Is(err, daemon.ErrLocked) {
			return nil, fmt.Errorf("a tripsync daemon is running for %s; stop it first, or drop documents into %s", cfg.DataDir, cfg.Inbox.Dir)
		}
		if err != nil {
			return nil, err
		}
		a.lock = l
	}

	backend, err := storage.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		// The device keeps working on the in-memory fallback.
		fmt.Fprintf(os.Stderr, "%s local storage unavailable, changes will not survive this run: %v\n", ui.RenderWarn("!"), err)
		backend = nil
	}
	a.store = storage.NewStore(backend, storage.Options{
		Fallback: storage.NewMemoryBackend(cfg.Storage.FallbackBytes),
		Logger:   newLogger("[storage] "),
	})

	if cfg.Remote.URL != "" && !opts.offline {
		rs, err := remote.Open(ctx, cfg.Remote.URL, remote.Options{Logger: newLogger("[remote] ")})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s remote %s unavailable: %v\n", ui.RenderWarn("!"), cfg.Remote.URL, err)
		} else {
			a.remote = rs
		}
	}

	a.owners = session.DefaultOwners(domain.Options{})
	sess, err := session.New(session.Config{
		Store:        a.store,
		Remote:       a.remote,
		Bindings:     a.owners.Bindings(),
		Debounce:     cfg.Sync.Debounce,
		Notifier:     cliNotifier(),
		NotifyWindow: cfg.Sync.NotifyWindow,
		Logger:       newLogger("[session] "),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.session = sess
	if err := sess.Open(ctx); err != nil {
		a.close()
		return nil, err
	}

	if a.remote != nil {
		svc := room.NewService(a.remote, room.NewManager(a.store.Backend()), room.ServiceOptions{
			Logger: newLogger("[room] "),
		})
		a.rooms = session.NewRooms(svc, sess)
	}
	return a, nil
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.remote != nil {
		_ = a.remote.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
	}
}

// requireRooms fails when no remote store is configured.
func (a *app) requireRooms() (*session.Rooms, error) {
	if a.rooms == nil {
		if cfg.Remote.URL == "" {
			return nil, fmt.Errorf("no remote configured; set remote.url in %s or pass --remote", configPathHint())
		}
		return nil, fmt.Errorf("remote %s is unavailable", cfg.Remote.URL)
	}
	return a.rooms, nil
}

// catchUp attaches to the saved room and waits for its documents so a
// following edit starts from the shared state.
func (a *app) catchUp(ctx context.Context) {
	if a.rooms == nil {
		return
	}
	code, ok, err := a.rooms.Resume(ctx)
	if !ok {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s room %s: %v\n", ui.RenderWarn("!"), code, err)
	}
	wctx, cancel := context.WithTimeout(ctx, catchUpTimeout)
	defer cancel()
	if err := a.session.WaitReceived(wctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s room %s did not answer; editing the local copy\n", ui.RenderWarn("!"), code)
	}
}

// flush pushes local edits to the attached room. Failures leave the edits
// saved locally.
func (a *app) flush(ctx context.Context) {
	code, attached := a.session.Room()
	if !attached {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, catchUpTimeout)
	defer cancel()
	if err := a.session.Flush(fctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s saved locally but not synced to room %s\n", ui.RenderWarn("!"), code)
	}
}

// editDevice runs an edit against the shared state: it locks the device,
// catches up with the room, applies edit and pushes the result.
func editDevice(cmd *cobra.Command, edit func(a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{lock: true})
	if err != nil {
		return err
	}
	defer a.close()

	a.catchUp(ctx)
	if err := edit(a); err != nil {
		return err
	}
	a.flush(ctx)
	return nil
}

// viewDevice runs view against the local copy without touching the remote.
func viewDevice(cmd *cobra.Command, view func(a *app) error) error {
	a, err := openApp(cmd.Context(), appOptions{offline: true})
	if err != nil {
		return err
	}
	defer a.close()
	return view(a)
}

func cliNotifier() notify.Notifier {
	return notify.NotifierFunc(func(level notify.Level, message string) {
		if level == notify.LevelError {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("✗"), message)
			return
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderAccent("•"), message)
	})
}

func configPathHint() string {
	if cfg.File != "" {
		return cfg.File
	}
	return "tripsync.toml"
}
