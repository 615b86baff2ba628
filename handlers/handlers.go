// Package handlers implements the desk's channels: authentication, users,
// the local clinic records, and diagnostic reports held by the backend.
package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/clinicdesk/backend"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/session"
	"github.com/jmcleod/clinicdesk/storage"
)

// Deps are the services the handlers run against. Backend may be nil, in
// which case the diagnostic module and backendLogin are not exposed.
type Deps struct {
	Sessions *session.Store
	Clinic   *records.Clinic
	Backend  *backend.Client
	Logger   *slog.Logger
	// Registry receives the audit event counter when set.
	Registry prometheus.Registerer
	Now      func() time.Time
}

// Service owns handler state shared across calls.
type Service struct {
	sessions *session.Store
	clinic   *records.Clinic
	backend  *backend.Client
	logger   *slog.Logger
	audit    *auditLogger
	limiter  *loginRateLimiter
	now      func() time.Time
}

func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		sessions: d.Sessions,
		clinic:   d.Clinic,
		backend:  d.Backend,
		logger:   d.Logger.With("component", "handlers"),
		audit:    newAuditLogger(d.Logger, d.Registry, d.Now),
		limiter:  newLoginRateLimiter(d.Now),
		now:      d.Now,
	}
}

// Sweep drops expired login attempt records.
func (s *Service) Sweep() int {
	return s.limiter.sweep()
}

// Modules returns the route table of every channel module.
func (s *Service) Modules() []routes.Module {
	mods := []routes.Module{
		s.authModule(),
		s.userModule(),
		s.patientModule(),
		s.encounterModule(),
		s.expenseModule(),
		s.incomeModule(),
	}
	if s.backend != nil {
		mods = append(mods, s.diagnosticModule())
	}
	return mods
}

// Result is the reply shape of record channels.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitzero"`
	Error   string `json:"error,omitempty"`
}

// ListResult is the reply shape of list channels.
type ListResult[T any] struct {
	Success    bool      `json:"success"`
	Data       []T       `json:"data,omitzero"`
	Pagination *PageMeta `json:"pagination,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Ack is the reply of channels that return no data.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IDArgs selects one record. The id may be sent as a string or a number.
type IDArgs struct {
	ID records.FlexID `json:"id"`
}

func ok[T any](v T) (Result[T], error) {
	return Result[T]{Success: true, Data: v}, nil
}

func fail[T any](msg string) (Result[T], error) {
	return Result[T]{Error: msg}, nil
}

func listOK[T any](items []T, args ListArgs) (ListResult[T], error) {
	if items == nil {
		items = []T{}
	}
	page, meta := paginate(items, args)
	return ListResult[T]{Success: true, Data: page, Pagination: meta}, nil
}

func listFail[T any](msg string) (ListResult[T], error) {
	return ListResult[T]{Error: msg}, nil
}

func ack(err error, notFound string) (Ack, error) {
	switch {
	case err == nil:
		return Ack{Success: true}, nil
	case errors.Is(err, storage.ErrNotFound):
		return Ack{Error: notFound}, nil
	default:
		return Ack{Error: err.Error()}, nil
	}
}

// userID returns the caller's user id, or "" outside a session.
func userID(c *ipc.Call) string {
	if c.User == nil {
		return ""
	}
	return c.User.ID
}

func userRef(c *ipc.Call) *string {
	if c.User == nil {
		return nil
	}
	id := c.User.ID
	return &id
}
