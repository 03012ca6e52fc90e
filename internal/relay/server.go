// Package relay serves a shared tree to devices over WebSocket.
//
// Devices on a network that cannot reach a hosted real-time database point
// their remote URL at a relay. The relay hosts a remote.Hub, speaks the
// frame protocol of remote.WSClient on /ws and, when given a storage
// backend, persists the tree so rooms survive a restart.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tripsync/tripsync/internal/remote"
	"github.com/tripsync/tripsync/internal/storage"
)

// TreeKey is the storage key of the persisted tree.
const TreeKey = "relay-tree"

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":7420"). Use "127.0.0.1:0" for a random
	// port.
	Addr string

	// Backend persists the tree. Nil keeps it in memory only.
	Backend storage.Backend

	// PersistDelay batches writes before the tree is saved (default: 1s).
	PersistDelay time.Duration

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":7420",
		PersistDelay: time.Second,
	}
}

// Server manages WebSocket connections to a Hub.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	hub      *remote.Hub
	backend  storage.Backend
	delay    time.Duration

	clients   map[*websocket.Conn]*session
	clientsMu sync.RWMutex

	persistMu    sync.Mutex
	persistTimer *time.Timer
	dirty        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a relay server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = ":7420"
	}
	if config.PersistDelay <= 0 {
		config.PersistDelay = time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[relay] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:    config.Addr,
		hub:     remote.NewHub(),
		backend: config.Backend,
		delay:   config.PersistDelay,
		clients: make(map[*websocket.Conn]*session),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
	s.hub.OnWrite(s.schedulePersist)
	return s
}

// Hub returns the hosted tree.
func (s *Server) Hub() *remote.Hub {
	return s.hub
}

// Start restores the persisted tree and begins serving.
func (s *Server) Start(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Relay listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every connection, shuts the server down and saves the tree.
func (s *Server) Stop() error {
	s.logger.Println("Stopping relay")
	s.cancel()

	s.clientsMu.Lock()
	for conn, sess := range s.clients {
		sess.close()
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var errs []error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	s.wg.Wait()

	s.persistMu.Lock()
	if s.persistTimer != nil {
		s.persistTimer.Stop()
		s.persistTimer = nil
	}
	s.persistMu.Unlock()
	if err := s.persist(context.Background()); err != nil {
		errs = append(errs, err)
	}

	s.logger.Println("Relay stopped")
	return errors.Join(errs...)
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected devices.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(8 << 20)

	sess := newSession(s, conn)
	s.clientsMu.Lock()
	s.clients[conn] = sess
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", clientCount)

	// The handler goroutine serves the connection until it drops.
	sess.readLoop(s.ctx)
	s.removeClient(conn)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	sess, exists := s.clients[conn]
	if !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	sess.close()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) restore(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	data, ok, err := s.backend.Get(ctx, TreeKey)
	if err != nil {
		return fmt.Errorf("failed to load tree: %w", err)
	}
	if !ok {
		return nil
	}
	if err := s.hub.Restore(data); err != nil {
		return err
	}
	s.logger.Printf("Restored tree (%d bytes)", len(data))
	return nil
}

// schedulePersist saves the tree once writes pause for the persist delay.
func (s *Server) schedulePersist() {
	if s.backend == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.dirty = true
	if s.persistTimer != nil {
		s.persistTimer.Stop()
	}
	s.persistTimer = time.AfterFunc(s.delay, func() {
		if err := s.persist(context.Background()); err != nil {
			s.logger.Printf("%v", err)
		}
	})
}

func (s *Server) persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.persistMu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.persistMu.Unlock()
	if !dirty {
		return nil
	}

	data, err := s.hub.Snapshot()
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, TreeKey, data); err != nil {
		s.persistMu.Lock()
		s.dirty = true
		s.persistMu.Unlock()
		return fmt.Errorf("failed to persist tree: %w", err)
	}
	return nil
}
