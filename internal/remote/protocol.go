package remote

import "encoding/json"

// Frame operations of the relay wire protocol. Every WebSocket text frame
// carries one JSON-encoded Frame.
const (
	OpGet         = "get"
	OpSet         = "set"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpResult      = "result"
	OpEvent       = "event"
)

// Frame is a relay protocol message.
//
// Requests carry a non-zero ID and get exactly one "result" frame back with
// the same ID; a request with ID 0 gets no reply. Subscriptions are named by
// the client-chosen Sub number, which tags every "event" frame sent for it.
type Frame struct {
	ID    uint64          `json:"id,omitempty"`
	Op    string          `json:"op"`
	Path  string          `json:"path,omitempty"`
	Sub   uint64          `json:"sub,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}
