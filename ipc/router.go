package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/clinicdesk/session"
)

type route struct {
	channel string
	handler Handler
}

// Router owns the channel dispatch table. Registration and dispatch may
// happen concurrently.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]*route
	order    []string
	sessions *session.Store

	logger         *slog.Logger
	metrics        *Metrics
	tokenArguments bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records every dispatch in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithTokenArguments enables the alternate authentication path: when the
// call arguments are a JSON object whose "token" field names a valid
// session, that session is attached to the Call before the handler runs.
// Session-enforcing middleware still resolves the window binding on its
// own.
func WithTokenArguments() Option {
	return func(r *Router) {
		r.tokenArguments = true
	}
}

// NewRouter creates a Router. sessions may be nil when no handler needs
// session state.
func NewRouter(sessions *session.Store, opts ...Option) *Router {
	r := &Router{
		routes:   make(map[string]*route),
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "ipc")
	return r
}

// Sessions returns the session store given to NewRouter.
func (r *Router) Sessions() *session.Store {
	return r.sessions
}

// Register wraps handler in mws and stores it under channel. A channel
// that is already registered keeps its first handler; the new one is
// dropped with a warning and ErrDuplicateChannel is returned.
func (r *Router) Register(channel string, mws []Middleware, handler Handler) error {
	if channel == "" {
		return fmt.Errorf("register: empty channel name")
	}
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", channel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[channel]; exists {
		r.logger.Warn("channel already registered", "channel", channel)
		return fmt.Errorf("%s: %w", channel, ErrDuplicateChannel)
	}
	r.routes[channel] = &route{
		channel: channel,
		handler: Chain(mws...)(handler),
	}
	r.order = append(r.order, channel)
	r.logger.Debug("registered channel", "channel", channel, "middlewares", len(mws))
	return nil
}

// Has reports whether channel is registered.
func (r *Router) Has(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[channel]
	return ok
}

// Channels returns the registered channel names in registration order.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Dispatch runs the handler registered for in.Channel. A handler error is
// returned as is; callers that want UI-shaped failures register the
// channel with WithError.
func (r *Router) Dispatch(ctx context.Context, in Inbound) (any, error) {
	r.mu.RLock()
	rt, ok := r.routes[in.Channel]
	r.mu.RUnlock()
	if !ok {
		r.metrics.unknown()
		r.logger.Debug("unknown channel", "channel", in.Channel, "window", in.WindowID)
		return nil, fmt.Errorf("%s: %w", in.Channel, ErrUnknownChannel)
	}

	c := &Call{
		ctx:      ctx,
		Channel:  in.Channel,
		WindowID: in.WindowID,
		Sender:   in.Sender,
		Sessions: r.sessions,
	}
	if r.tokenArguments && r.sessions != nil {
		if token := argumentToken(in.Args); token != "" {
			if sess, ok := r.sessions.Get(token); ok {
				c.setSession(sess)
			}
		}
	}

	start := time.Now()
	result, err := rt.handler(c, in.Args)
	r.metrics.observe(in.Channel, result, err, time.Since(start))
	if err != nil {
		r.logger.Debug("handler returned error", "channel", in.Channel, "window", in.WindowID, "error", err)
	}
	return result, err
}

// argumentToken extracts a top-level "token" string from object arguments.
func argumentToken(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var probe struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Token
}
