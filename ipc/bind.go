package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NoArgs is the argument type of handlers that take no arguments.
type NoArgs struct{}

// Bind adapts a typed function to a Handler. Arguments are decoded from
// JSON into A; a missing or null argument leaves A at its zero value.
func Bind[A, R any](fn func(c *Call, args A) (R, error)) Handler {
	return func(c *Call, raw json.RawMessage) (any, error) {
		var args A
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return fn(c, args)
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if _, ok := v.(*NoArgs); ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
