package handlers

import (
	"fmt"
	"log/slog"

	"github.com/jmcleod/clinicdesk/internal/util"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/session"
)

// Seeded operator account, created on the first login attempt when absent.
const (
	seedUsername = "admin"
	seedPassword = "admin"
)

const (
	msgInvalidCredentials = "invalid credentials"
	msgNoWindowSession    = "no session for window"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	Success bool              `json:"success"`
	Token   string            `json:"token,omitempty"`
	User    *records.UserInfo `json:"user,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type StatusArgs struct {
	Token string `json:"token,omitempty"`
}

type StatusResult struct {
	Success       bool   `json:"success"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
}

type SessionResult struct {
	Success bool              `json:"success"`
	Session *session.Session  `json:"session,omitempty"`
	User    *records.UserInfo `json:"user,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (s *Service) authModule() routes.Module {
	exports := []routes.Export{
		routes.Func("login", s.login),
		routes.Func("logout", s.logout),
		routes.Func("status", s.status),
		routes.Func("getSession", s.getSession),
		routes.Func("refresh", s.refresh),
	}
	if s.backend != nil {
		exports = append(exports,
			routes.Func("backendLogin", s.backendLogin),
			routes.Func("backendLogout", s.backendLogout),
		)
	}
	return routes.Module{
		Path:        "auth",
		Middlewares: []ipc.Middleware{ipc.WithError},
		Exports:     exports,
	}
}

func (s *Service) ensureSeedUser(c *ipc.Call) {
	_, found, err := s.findUser(c, seedUsername)
	if err != nil || found {
		return
	}
	admin := records.User{Username: seedUsername}
	if err := admin.SetPassword(seedPassword); err != nil {
		s.logger.Error("failed to seed admin user", "error", err)
		return
	}
	if _, err := s.clinic.Users.Create(c.Context(), admin); err != nil {
		s.logger.Error("failed to seed admin user", "error", err)
		return
	}
	s.logger.Info("seeded admin user")
}

func (s *Service) findUser(c *ipc.Call, username string) (records.User, bool, error) {
	return s.clinic.Users.Find(c.Context(), func(u *records.User) bool {
		return u.Username == username
	})
}

// login verifies credentials, opens a session and binds it to the calling
// window.
func (s *Service) login(c *ipc.Call, args Credentials) (LoginResult, error) {
	s.ensureSeedUser(c)

	username := util.NormalizeUsername(args.Username)
	if blocked, retry := s.limiter.check(username); blocked {
		s.audit.logFailure(c.Context(), AuditLoginRateLimited, c.WindowID, "locked out", slog.String("username", username))
		return LoginResult{Error: fmt.Sprintf("too many failed login attempts; try again in %s seconds", retryAfterString(retry))}, nil
	}

	user, found, err := s.findUser(c, username)
	if err != nil {
		return LoginResult{}, err
	}
	valid := false
	if found {
		if valid, err = user.CheckPassword(args.Password); err != nil {
			return LoginResult{}, err
		}
	}
	if !valid {
		s.limiter.recordFailure(username)
		s.audit.logFailure(c.Context(), AuditLoginFailure, c.WindowID, msgInvalidCredentials, slog.String("username", username))
		return LoginResult{Error: msgInvalidCredentials}, nil
	}
	s.limiter.recordSuccess(username)

	sess := s.sessions.Create(user.ID)
	if c.WindowID > 0 {
		s.sessions.AuthenticateWindow(c.WindowID, sess.Token)
	}
	s.audit.log(c.Context(), AuditLoginSuccess, c.WindowID, slog.String("user_id", user.ID))

	info := user.Public()
	return LoginResult{Success: true, Token: sess.Token, User: &info}, nil
}

// logout ends the calling window's session.
func (s *Service) logout(c *ipc.Call, _ ipc.NoArgs) (Ack, error) {
	if c.WindowID <= 0 {
		return Ack{Error: ipc.MsgNoWindow}, nil
	}
	sess, ok := s.sessions.WindowSession(c.WindowID)
	if !ok {
		return Ack{Error: msgNoWindowSession}, nil
	}
	s.sessions.Delete(sess.Token)
	s.sessions.ClearWindow(c.WindowID)
	s.audit.log(c.Context(), AuditLogout, c.WindowID, slog.String("user_id", sess.UserID))
	return Ack{Success: true}, nil
}

// status reports whether a token names a live session. It is the one
// channel that authenticates by an explicit token argument.
func (s *Service) status(_ *ipc.Call, args StatusArgs) (StatusResult, error) {
	if args.Token == "" {
		return StatusResult{}, nil
	}
	sess, ok := s.sessions.Get(args.Token)
	if !ok {
		return StatusResult{}, nil
	}
	return StatusResult{Success: true, Authenticated: true, UserID: sess.UserID}, nil
}

func (s *Service) getSession(c *ipc.Call, _ ipc.NoArgs) (SessionResult, error) {
	if c.WindowID <= 0 {
		return SessionResult{Error: ipc.MsgNoWindow}, nil
	}
	sess, ok := s.sessions.WindowSession(c.WindowID)
	if !ok {
		return SessionResult{Error: msgNoWindowSession}, nil
	}
	res := SessionResult{Success: true, Session: &sess}
	if user, err := s.clinic.Users.Get(c.Context(), sess.UserID); err == nil {
		info := user.Public()
		res.User = &info
	}
	return res, nil
}

// refresh extends the calling window's session by the store TTL.
func (s *Service) refresh(c *ipc.Call, _ ipc.NoArgs) (SessionResult, error) {
	if c.WindowID <= 0 {
		return SessionResult{Error: ipc.MsgNoWindow}, nil
	}
	sess, ok := s.sessions.WindowSession(c.WindowID)
	if !ok {
		return SessionResult{Error: msgNoWindowSession}, nil
	}
	sess, ok = s.sessions.Refresh(sess.Token)
	if !ok {
		return SessionResult{Error: msgNoWindowSession}, nil
	}
	return SessionResult{Success: true, Session: &sess}, nil
}

// backendLogin exchanges credentials with the remote backend and keeps the
// returned token for the calling window.
func (s *Service) backendLogin(c *ipc.Call, args Credentials) (Ack, error) {
	if c.WindowID <= 0 {
		return Ack{Error: ipc.MsgNoWindow}, nil
	}
	token, err := s.backend.Login(c.Context(), args.Username, args.Password)
	if err != nil {
		s.audit.logFailure(c.Context(), AuditBackendLogin, c.WindowID, err.Error())
		return Ack{}, err
	}
	s.sessions.SetBackendTokenForWindow(c.WindowID, token)
	s.audit.log(c.Context(), AuditBackendLogin, c.WindowID, slog.String("username", args.Username))
	return Ack{Success: true}, nil
}

func (s *Service) backendLogout(c *ipc.Call, _ ipc.NoArgs) (Ack, error) {
	if c.WindowID <= 0 {
		return Ack{Error: ipc.MsgNoWindow}, nil
	}
	s.sessions.SetBackendTokenForWindow(c.WindowID, "")
	return Ack{Success: true}, nil
}
