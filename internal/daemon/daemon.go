// Package daemon keeps a device's documents synced in the background.
//
// The daemon:
// 1. Takes the device lock so only one daemon serves a data directory
// 2. Resumes the saved room, if any
// 3. Watches an inbox directory and imports documents dropped into it
// 4. Flushes pending pushes and detaches on shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tripsync/tripsync/internal/session"
)

// Importer applies the contents of an inbox file.
type Importer func(data []byte) error

// RejectedSuffix is appended to inbox files that failed to import.
const RejectedSuffix = ".rejected"

// Config holds configuration for the daemon.
type Config struct {
	// InboxDir is watched for <name>.json files, where name is a key of
	// Importers.
	InboxDir string

	// Importers maps inbox file names (without .json) to importers.
	Importers map[string]Importer

	// DebounceInterval is how long a file must stay unchanged before it is
	// imported. This batches the events of a single write.
	DebounceInterval time.Duration

	// FlushTimeout bounds the final push on shutdown.
	FlushTimeout time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		FlushTimeout:     5 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon drives one device's session.
type Daemon struct {
	session *session.Session
	rooms   *session.Rooms
	config  *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon for an opened session. A nil rooms runs the daemon
// local-only.
func New(sess *session.Session, rooms *session.Rooms, config *Config) (*Daemon, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = defaults.FlushTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	var watcher *fsnotify.Watcher
	if config.InboxDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		session:     sess,
		rooms:       rooms,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon. It blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.rooms == nil {
		d.config.Logger.Println("No remote store; changes stay local")
	} else if code, ok, err := d.rooms.Resume(ctx); err != nil {
		d.config.Logger.Printf("Resuming room %s: %v", code, err)
	} else if ok {
		d.config.Logger.Printf("Syncing room %s", code)
	} else {
		d.config.Logger.Println("No room saved; changes stay local")
	}

	if d.watcher != nil {
		if err := os.MkdirAll(d.config.InboxDir, 0o755); err != nil {
			return fmt.Errorf("failed to create inbox: %w", err)
		}
		if err := d.watcher.Add(d.config.InboxDir); err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
		d.config.Logger.Printf("Watching inbox: %s", d.config.InboxDir)
		d.ImportPending()

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop flushes pending pushes, detaches and stops watching.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if d.watcher != nil {
			if cerr := d.watcher.Close(); cerr != nil {
				d.config.Logger.Printf("Error closing watcher: %v", cerr)
			}
		}
		d.wg.Wait()

		if _, attached := d.session.Room(); attached {
			ctx, cancel := context.WithTimeout(context.Background(), d.config.FlushTimeout)
			err = d.session.Flush(ctx)
			cancel()
			if err != nil {
				d.config.Logger.Printf("Final flush failed: %v", err)
			}
		}
		d.session.Detach()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// ImportPending imports every inbox file already present.
func (d *Daemon) ImportPending() {
	entries, err := os.ReadDir(d.config.InboxDir)
	if err != nil {
		d.config.Logger.Printf("Reading inbox: %v", err)
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		d.importFile(filepath.Join(d.config.InboxDir, name))
	}
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	now := time.Now()
	var ready []string

	d.changeQueueMu.Lock()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		d.importFile(path)
	}
}

// importFile applies one inbox file and removes it. Files that fail are
// renamed with RejectedSuffix so they are not retried.
func (d *Daemon) importFile(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	importer, ok := d.config.Importers[name]
	if !ok {
		d.config.Logger.Printf("Ignoring %s: unknown document", filepath.Base(path))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.config.Logger.Printf("Reading %s: %v", path, err)
		}
		return
	}
	if err := importer(data); err != nil {
		d.config.Logger.Printf("Rejected %s: %v", filepath.Base(path), err)
		if rerr := os.Rename(path, path+RejectedSuffix); rerr != nil {
			d.config.Logger.Printf("Error renaming %s: %v", path, rerr)
		}
		return
	}
	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Error removing %s: %v", path, err)
	}
	d.config.Logger.Printf("Imported %s", filepath.Base(path))
}
