// Package session keeps the authoritative set of login sessions for the
// lifetime of the serving process, together with the window bindings that
// let a connected window act on behalf of a session without presenting
// the token on every call.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/clinicdesk/internal/util"
)

// DefaultTTL is the lifetime of a new session when no TTL is configured.
const DefaultTTL = 8 * time.Hour

// tokenBytes is the amount of entropy in a session token. The token is
// the hex encoding of these bytes.
const tokenBytes = 48

// Session is a login session. Values returned by the Store are snapshots;
// mutating them does not affect the stored session.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session has expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store maps tokens to sessions and window ids to tokens. It is safe for
// concurrent use.
type Store struct {
	mu            sync.Mutex
	sessions      map[string]Session
	windowTokens  map[int]string
	backendTokens map[int]*memguard.Enclave
	ttl           time.Duration
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the default session lifetime. Non-positive values are ignored.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:      make(map[string]Session),
		windowTokens:  make(map[int]string),
		backendTokens: make(map[int]*memguard.Enclave),
		ttl:           DefaultTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the default session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create starts a new session for userID.
func (s *Store) Create(userID string) Session {
	token, err := util.RandomHex(tokenBytes)
	if err != nil {
		// crypto/rand only fails when the platform has no entropy source.
		panic(err)
	}
	now := s.now()
	sess := Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session for token. An expired session is removed and
// reported as absent.
func (s *Store) Get(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(token)
}

func (s *Store) getLocked(token string) (Session, bool) {
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, token)
		return Session{}, false
	}
	return sess, true
}

// Delete removes the session for token, if any.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Refresh pushes the expiry of a known session to now plus extend (or the
// default TTL when extend is omitted). Only existence is checked, so a
// session that has expired but not yet been evicted comes back to life.
func (s *Store) Refresh(token string, extend ...time.Duration) (Session, bool) {
	ttl := s.ttl
	if len(extend) > 0 && extend[0] > 0 {
		ttl = extend[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	sess.ExpiresAt = s.now().Add(ttl)
	s.sessions[token] = sess
	return sess, true
}

// ClearExpired removes every expired session and returns how many were
// removed.
func (s *Store) ClearExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// ClearWindowSessions drops every window binding whose session is still
// valid and returns how many were dropped. The sessions themselves are
// kept; callers holding a token can still use it.
func (s *Store) ClearWindowSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for windowID, token := range s.windowTokens {
		if _, ok := s.getLocked(token); ok {
			delete(s.windowTokens, windowID)
			cleared++
		}
	}
	return cleared
}

// AuthenticateWindow binds windowID to token, replacing any earlier binding.
func (s *Store) AuthenticateWindow(windowID int, token string) {
	s.mu.Lock()
	s.windowTokens[windowID] = token
	s.mu.Unlock()
}

// SetBackendTokenForWindow stores an externally issued credential for
// windowID. An empty token clears it.
func (s *Store) SetBackendTokenForWindow(windowID int, token string) {
	// NewEnclave wipes its input and returns nil for an empty buffer.
	enclave := memguard.NewEnclave([]byte(token))

	s.mu.Lock()
	defer s.mu.Unlock()
	if enclave == nil {
		delete(s.backendTokens, windowID)
		return
	}
	s.backendTokens[windowID] = enclave
}

// BackendTokenForWindow returns the credential stored for windowID.
func (s *Store) BackendTokenForWindow(windowID int) (string, bool) {
	s.mu.Lock()
	enclave, ok := s.backendTokens[windowID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", false
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), true
}

// WindowSession resolves the session bound to windowID, applying the same
// expiry rules as Get.
func (s *Store) WindowSession(windowID int) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.windowTokens[windowID]
	if !ok || token == "" {
		return Session{}, false
	}
	return s.getLocked(token)
}

// ClearWindow removes both the session binding and the backend credential
// for windowID.
func (s *Store) ClearWindow(windowID int) {
	s.mu.Lock()
	delete(s.windowTokens, windowID)
	delete(s.backendTokens, windowID)
	s.mu.Unlock()
}

// Size returns the number of stored sessions, including expired ones that
// have not been evicted yet.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
