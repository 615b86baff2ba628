// Package backend is the bearer-token client for the clinic's remote REST
// backend. Each window holds its own backend token in the session store.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/clinicdesk/session"
)

// DefaultBaseURL is used when neither API_URL nor BACKEND_SERVER is set.
const DefaultBaseURL = "http://localhost:8810"

// LoginPath is the backend endpoint that exchanges credentials for a token.
const LoginPath = "/api/auth/login"

// ErrNoBackendToken is returned when the calling window has no backend
// token. Its text is shown to the operator as is.
var ErrNoBackendToken = errors.New("Token backend tidak ditemukan. Silakan login terlebih dahulu.")

const maxResponseBytes = 8 << 20

// ResolveBaseURL returns the first non-empty candidate, falling back to
// DefaultBaseURL, without a trailing slash.
func ResolveBaseURL(candidates ...string) string {
	base := DefaultBaseURL
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			base = c
			break
		}
	}
	return strings.TrimSuffix(base, "/")
}

// Client holds the connection settings shared by all windows.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: ResolveBaseURL(baseURL),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "backend")
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// WithToken returns a requester authenticated with token.
func (c *Client) WithToken(token string) *Requester {
	return &Requester{client: c, token: token}
}

// ForWindow returns a requester using the backend token bound to windowID.
func (c *Client) ForWindow(store *session.Store, windowID int) (*Requester, error) {
	token, ok := store.BackendTokenForWindow(windowID)
	if !ok || token == "" {
		return nil, ErrNoBackendToken
	}
	return c.WithToken(token), nil
}

// Reply is a raw backend response.
type Reply struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Reply) OK() bool { return r.Status >= 200 && r.Status < 300 }

func (c *Client) do(ctx context.Context, method, path, token string, body any) (*Reply, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("x-access-token", token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	c.logger.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	return &Reply{Status: resp.StatusCode, Body: data}, nil
}

// Login exchanges operator credentials for a backend token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	reply, err := c.do(ctx, http.MethodPost, LoginPath, "", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	// Some deployments answer with a bare {"token": ...} instead of the
	// envelope.
	if reply.OK() {
		var bare struct {
			Token string `json:"token"`
		}
		if json.Unmarshal(reply.Body, &bare) == nil && bare.Token != "" {
			return bare.Token, nil
		}
	}
	res, err := Decode[struct {
		Token string `json:"token"`
	}](reply)
	if err != nil {
		return "", err
	}
	if res.Result.Token == "" {
		return "", &Error{Status: reply.Status, Message: "backend returned no token"}
	}
	return res.Result.Token, nil
}

// Requester issues authenticated requests for one token.
type Requester struct {
	client *Client
	token  string
}

func (r *Requester) Get(ctx context.Context, path string) (*Reply, error) {
	return r.client.do(ctx, http.MethodGet, path, r.token, nil)
}

func (r *Requester) Post(ctx context.Context, path string, body any) (*Reply, error) {
	return r.client.do(ctx, http.MethodPost, path, r.token, body)
}

func (r *Requester) Put(ctx context.Context, path string, body any) (*Reply, error) {
	return r.client.do(ctx, http.MethodPut, path, r.token, body)
}

func (r *Requester) Delete(ctx context.Context, path string) (*Reply, error) {
	return r.client.do(ctx, http.MethodDelete, path, r.token, nil)
}
