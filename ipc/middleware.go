package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/clinicdesk/session"
)

// Handler serves one channel. args is the raw JSON argument of the call
// and may be empty.
type Handler func(c *Call, args json.RawMessage) (any, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Failure is the result shape for failures the UI is expected to display.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Fail returns a Failure carrying msg.
func Fail(msg string) Failure {
	return Failure{Success: false, Error: msg}
}

// Messages returned by WithSession.
const (
	MsgNoWindow       = "no sender window id"
	MsgInvalidSession = "invalid or expired session"
)

// Chain composes middlewares right to left: Chain(A, B, C)(h) is
// A(B(C(h))), so A runs first on the way in.
func Chain(mws ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				h = mws[i](h)
			}
		}
		return h
	}
}

// WithError turns an error or panic from next into a Failure result.
func WithError(next Handler) Handler {
	return func(c *Call, args json.RawMessage) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				result, err = Fail(fmt.Sprint(r)), nil
			}
		}()
		result, err = next(c, args)
		if err != nil {
			return Fail(err.Error()), nil
		}
		return result, nil
	}
}

// WithSession requires the calling window to be bound to a valid session
// in store. On success the session and user are attached to the Call.
func WithSession(store *session.Store) Middleware {
	return func(next Handler) Handler {
		return func(c *Call, args json.RawMessage) (any, error) {
			if c.WindowID <= 0 {
				return Fail(MsgNoWindow), nil
			}
			sess, ok := store.WindowSession(c.WindowID)
			if !ok {
				return Fail(MsgInvalidSession), nil
			}
			c.setSession(sess)
			return next(c, args)
		}
	}
}
