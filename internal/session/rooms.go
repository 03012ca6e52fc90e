package session

import (
	"context"

	"github.com/tripsync/tripsync/internal/room"
)

// Rooms ties the room lifecycle to a session: creating or joining a room
// attaches to it, leaving detaches.
type Rooms struct {
	service *room.Service
	session *Session
}

// NewRooms creates a Rooms.
func NewRooms(service *room.Service, session *Session) *Rooms {
	return &Rooms{service: service, session: session}
}

// Status describes the room state of a device.
type Status struct {
	Room      room.Code
	Attached  bool
	Connected bool
	Pending   bool
}

// Create creates a room and attaches to it.
func (r *Rooms) Create(ctx context.Context) (room.Code, error) {
	code, err := r.service.Create(ctx)
	if err != nil {
		return "", err
	}
	return code, r.session.Attach(ctx, code)
}

// Join joins the room raw and attaches to it. It returns false with a nil
// error when the code is well-formed but no such room exists.
func (r *Rooms) Join(ctx context.Context, raw string) (bool, error) {
	ok, err := r.service.Join(ctx, raw)
	if err != nil || !ok {
		return false, err
	}
	return true, r.session.Attach(ctx, room.Code(raw))
}

// Leave detaches and forgets the saved room.
func (r *Rooms) Leave(ctx context.Context) error {
	r.session.Detach()
	return r.service.Leave(ctx)
}

// Resume attaches to the saved room, if there is one.
func (r *Rooms) Resume(ctx context.Context) (room.Code, bool, error) {
	code, ok := r.service.Current(ctx)
	if !ok {
		return "", false, nil
	}
	return code, true, r.session.Attach(ctx, code)
}

// Status reports the saved room and connection state.
func (r *Rooms) Status(ctx context.Context) Status {
	code, _ := r.service.Current(ctx)
	_, attached := r.session.Room()
	return Status{
		Room:      code,
		Attached:  attached,
		Connected: r.service.Connected(ctx),
		Pending:   r.session.Pending(),
	}
}
