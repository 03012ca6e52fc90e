package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/tripsync/tripsync/internal/storage"
)

// Manager persists the device's single active room code.
type Manager struct {
	backend storage.Backend
	key     string
}

// NewManager creates a Manager storing the code in backend under
// storage.KeyRoomCode.
func NewManager(backend storage.Backend) *Manager {
	return &Manager{backend: backend, key: storage.KeyRoomCode}
}

// Saved returns the persisted room code. A stored value that is no longer a
// valid code is treated as absent.
func (m *Manager) Saved(ctx context.Context) (Code, bool) {
	data, ok, err := m.backend.Get(ctx, m.key)
	if err != nil || !ok {
		return "", false
	}
	code, err := Normalize(string(data))
	if err != nil {
		return "", false
	}
	return code, true
}

// Save persists code, uppercased. It replaces any previous code.
func (m *Manager) Save(ctx context.Context, code Code) error {
	value := strings.ToUpper(string(code))
	if err := m.backend.Put(ctx, m.key, []byte(value)); err != nil {
		return fmt.Errorf("failed to save room code: %w", err)
	}
	return nil
}

// Clear removes the persisted code.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.backend.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("failed to clear room code: %w", err)
	}
	return nil
}
