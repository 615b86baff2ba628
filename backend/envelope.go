package backend

import (
	"encoding/json"
	"fmt"
)

// Pagination accompanies list results.
type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Count int `json:"count"`
}

// Envelope is the backend's response wrapper.
type Envelope[T any] struct {
	Success    bool            `json:"success"`
	Result     T               `json:"result"`
	Pagination *Pagination     `json:"pagination,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// Error is a failed backend exchange. Message is the backend's own error
// or message text when it sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Decode parses reply as an Envelope of T. A non-2xx status, a body that
// does not parse, or success=false all yield an *Error carrying the
// backend's error text, then its message, then the HTTP status.
func Decode[T any](reply *Reply) (*Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(reply.Body, &env); err != nil {
		if !reply.OK() {
			return nil, &Error{Status: reply.Status, Message: fmt.Sprintf("HTTP %d", reply.Status)}
		}
		return nil, &Error{Status: reply.Status, Message: fmt.Sprintf("invalid backend response: %v", err)}
	}
	if !reply.OK() || !env.Success {
		msg := errorText(env.Error)
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", reply.Status)
		}
		return nil, &Error{Status: reply.Status, Message: msg}
	}
	return &env, nil
}

// errorText renders the error field, which the backend sends either as a
// string or as an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
