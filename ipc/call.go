// Package ipc routes named calls from connected windows to handlers,
// wrapping each handler in a middleware chain.
package ipc

import (
	"context"
	"encoding/json"

	"github.com/jmcleod/clinicdesk/session"
)

// Sender is the originating window connection. It lets a handler push
// events back to the window that called it.
type Sender interface {
	Notify(event string, payload any) error
}

// User is the identity derived from a resolved session.
type User struct {
	ID string `json:"id"`
}

// Inbound is one call received from a window.
type Inbound struct {
	// WindowID identifies the calling window. Zero means the caller is not
	// a window.
	WindowID int
	Channel  string
	Args     json.RawMessage
	Sender   Sender
}

// Call is the per-invocation context handed to handlers and middleware.
// Session and User are populated by session resolution.
type Call struct {
	ctx      context.Context
	Channel  string
	WindowID int
	Sender   Sender
	Sessions *session.Store
	Session  *session.Session
	User     *User
}

// NewCall builds a Call outside of a Router, for tests and tooling.
func NewCall(ctx context.Context, windowID int, sessions *session.Store) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Call{ctx: ctx, WindowID: windowID, Sessions: sessions}
}

// Context returns the call's context. It is canceled when the calling
// window disconnects.
func (c *Call) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// setSession attaches sess and the identity derived from it.
func (c *Call) setSession(sess session.Session) {
	c.Session = &sess
	c.User = &User{ID: sess.UserID}
}
