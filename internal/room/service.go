package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tripsync/tripsync/internal/jsondoc"
	"github.com/tripsync/tripsync/internal/remote"
)

// ErrRoomNotFound is what callers report when Join returns false.
var ErrRoomNotFound = errors.New("room not found")

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Logger for room lifecycle events (default: stderr logger).
	Logger *log.Logger
}

// Service creates, joins and leaves rooms on a remote store.
type Service struct {
	remote  remote.Store
	manager *Manager
	now     func() time.Time
	logger  *log.Logger
}

// NewService creates a Service.
func NewService(store remote.Store, manager *Manager, opts ServiceOptions) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[room] ", log.LstdFlags)
	}
	return &Service{
		remote:  store,
		manager: manager,
		now:     opts.Now,
		logger:  opts.Logger,
	}
}

type roomRecord struct {
	CreatedAt string `json:"createdAt"`
}

// Create generates a code, initializes the room namespace with its creation
// time and makes it the active room.
func (s *Service) Create(ctx context.Context) (Code, error) {
	code, err := Generate()
	if err != nil {
		return "", err
	}
	record, err := json.Marshal(roomRecord{CreatedAt: jsondoc.Timestamp(s.now())})
	if err != nil {
		return "", fmt.Errorf("failed to encode room record: %w", err)
	}
	if err := s.remote.Set(ctx, remote.RoomPath(string(code)), record); err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	if err := s.manager.Save(ctx, code); err != nil {
		return "", err
	}
	s.logger.Printf("Created room %s", code)
	return code, nil
}

// Join makes code the active room if it exists remotely.
//
// code must match the pattern exactly; it is not trimmed or uppercased, so
// callers taking user input run it through Normalize first. Malformed codes
// fail with ErrInvalidCode before the remote store is contacted. A
// well-formed code with no room behind it returns false and a nil error,
// leaving the saved code untouched.
func (s *Service) Join(ctx context.Context, raw string) (bool, error) {
	if err := Validate(raw); err != nil {
		return false, err
	}
	code := Code(raw)
	value, err := s.remote.Get(ctx, remote.RoomPath(string(code)))
	if err != nil {
		return false, fmt.Errorf("failed to look up room %s: %w", code, err)
	}
	if value == nil {
		return false, nil
	}
	if err := s.manager.Save(ctx, code); err != nil {
		return false, err
	}
	s.logger.Printf("Joined room %s", code)
	return true, nil
}

// Leave forgets the active room. The remote namespace is left as it is.
func (s *Service) Leave(ctx context.Context) error {
	if err := s.manager.Clear(ctx); err != nil {
		return err
	}
	s.logger.Printf("Left room")
	return nil
}

// Current returns the active room code, if any.
func (s *Service) Current(ctx context.Context) (Code, bool) {
	return s.manager.Saved(ctx)
}

// Connected reports whether the remote store is reachable.
func (s *Service) Connected(ctx context.Context) bool {
	v, err := s.remote.Get(ctx, remote.ConnectedPath)
	if err != nil {
		return false
	}
	var ok bool
	return json.Unmarshal(v, &ok) == nil && ok
}
