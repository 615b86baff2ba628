package ipc

import "encoding/json"

// Frame is the JSON message exchanged with a window over its connection.
// A request carries ID, Channel and Args; its reply carries the same ID
// and either Result or Error. Events pushed by the server carry Event and
// Payload and no ID.
type Frame struct {
	ID      uint64          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsEvent reports whether f is a server push rather than a reply.
func (f Frame) IsEvent() bool {
	return f.ID == 0 && f.Event != ""
}
