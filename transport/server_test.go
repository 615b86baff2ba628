package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/clinicdesk/bridge"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/session"
)

type fixture struct {
	srv      *httptest.Server
	server   *Server
	sessions *session.Store
	router   *ipc.Router
}

func setup(t *testing.T) *fixture {
	t.Helper()
	sessions := session.NewStore()
	reg := prometheus.NewRegistry()
	metrics, err := ipc.NewMetrics(reg, sessions)
	require.NoError(t, err)
	router := ipc.NewRouter(sessions, ipc.WithMetrics(metrics))

	type loginArgs struct {
		User string `json:"user"`
	}
	require.NoError(t, router.Register("auth:login", []ipc.Middleware{ipc.WithError}, ipc.Bind(
		func(c *ipc.Call, a loginArgs) (map[string]any, error) {
			if a.User == "" {
				return nil, errors.New("invalid credentials")
			}
			sess := c.Sessions.Create(a.User)
			c.Sessions.AuthenticateWindow(c.WindowID, sess.Token)
			return map[string]any{"success": true, "token": sess.Token}, nil
		})))
	require.NoError(t, router.Register("user:whoami", []ipc.Middleware{ipc.WithError, ipc.WithSession(sessions)},
		func(c *ipc.Call, _ json.RawMessage) (any, error) {
			return map[string]any{"success": true, "window": c.WindowID, "user": c.User.ID}, nil
		}))
	require.NoError(t, router.Register("debug:ping", nil, func(c *ipc.Call, args json.RawMessage) (any, error) {
		return nil, c.Sender.Notify("pong", json.RawMessage(args))
	}))
	require.NoError(t, router.Register("debug:boom", nil, func(c *ipc.Call, args json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	}))

	server := New(router, WithGatherer(reg))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, server: server, sessions: sessions, router: router}
}

func (f *fixture) dial(t *testing.T) (*bridge.Client, int) {
	t.Helper()
	client, err := bridge.Dial(t.Context(), "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ipc/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ev := <-client.Events():
		require.Equal(t, EventWindow, ev.Name)
		var payload struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		require.Positive(t, payload.ID)
		return client, payload.ID
	case <-time.After(5 * time.Second):
		t.Fatal("no window event")
	}
	return nil, 0
}

func TestWindowCalls(t *testing.T) {
	f := setup(t)
	client, id := f.dial(t)
	api := client.API(f.router.NamespaceTree())

	var out map[string]any
	require.NoError(t, api.Call(t.Context(), "user:whoami", nil, &out))
	assert.Equal(t, map[string]any{"success": false, "error": ipc.MsgInvalidSession}, out)

	require.NoError(t, api.Call(t.Context(), "auth:login", map[string]string{"user": ""}, &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "invalid credentials", out["error"])

	require.NoError(t, api.Call(t.Context(), "auth:login", map[string]string{"user": "u1"}, &out))
	assert.Equal(t, true, out["success"])

	out = nil
	require.NoError(t, api.Call(t.Context(), "user:whoami", nil, &out))
	assert.Equal(t, "u1", out["user"])
	assert.Equal(t, float64(id), out["window"])

	_, err := client.Invoke(t.Context(), "debug:boom", nil)
	var remote *bridge.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "boom", remote.Message)

	_, err = client.Invoke(t.Context(), "no:such", nil)
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, ipc.ErrUnknownChannel.Error())
}

func TestWindowEvents(t *testing.T) {
	f := setup(t)
	client, _ := f.dial(t)

	_, err := client.Invoke(t.Context(), "debug:ping", map[string]int{"n": 3})
	require.NoError(t, err)
	select {
	case ev := <-client.Events():
		assert.Equal(t, "pong", ev.Name)
		assert.JSONEq(t, `{"n":3}`, string(ev.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("no pong event")
	}
}

func TestWindowsAreIsolated(t *testing.T) {
	f := setup(t)
	first, firstID := f.dial(t)
	second, secondID := f.dial(t)
	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, 2, f.server.Windows())

	_, err := first.Invoke(t.Context(), "auth:login", map[string]string{"user": "u1"})
	require.NoError(t, err)

	raw, err := second.Invoke(t.Context(), "user:whoami", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"invalid or expired session"}`, string(raw))
}

func TestDisconnectReleasesWindow(t *testing.T) {
	f := setup(t)
	first, firstID := f.dial(t)
	second, secondID := f.dial(t)

	_, err := first.Invoke(t.Context(), "auth:login", map[string]string{"user": "u1"})
	require.NoError(t, err)
	_, err = second.Invoke(t.Context(), "auth:login", map[string]string{"user": "u2"})
	require.NoError(t, err)

	_ = first.Close()
	require.Eventually(t, func() bool { return f.server.Windows() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, ok := f.sessions.WindowSession(firstID)
	assert.False(t, ok, "closing a window drops its binding")
	_, ok = f.sessions.WindowSession(secondID)
	assert.True(t, ok)
	assert.Equal(t, 2, f.sessions.Size(), "sessions outlive their windows")

	_ = second.Close()
	require.Eventually(t, func() bool { return f.server.Windows() == 0 }, 5*time.Second, 10*time.Millisecond)
	_, ok = f.sessions.WindowSession(secondID)
	assert.False(t, ok)
}

func TestHandlerPanicRejectsOnlyThatCall(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.router.Register("debug:crash", nil, func(c *ipc.Call, args json.RawMessage) (any, error) {
		var m map[string]int
		m["x"] = 1
		return m, nil
	}))
	client, _ := f.dial(t)

	_, err := client.Invoke(t.Context(), "debug:crash", nil)
	var remote *bridge.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "internal error", remote.Message)

	var out map[string]any
	require.NoError(t, client.API(f.router.NamespaceTree()).Call(t.Context(), "auth:login", map[string]string{"user": "u1"}, &out))
	assert.Equal(t, true, out["success"])

	other, _ := f.dial(t)
	_, err = other.Invoke(t.Context(), "debug:boom", nil)
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "boom", remote.Message)
}

func TestChannelsAndMetrics(t *testing.T) {
	f := setup(t)

	resp, err := http.Get(f.srv.URL + "/ipc/channels")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tree ipc.Tree
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tree))
	assert.Equal(t, []string{"auth:login", "debug:boom", "debug:ping", "user:whoami"}, tree.Leaves())

	client, _ := f.dial(t)
	_, err = client.Invoke(t.Context(), "user:whoami", nil)
	require.NoError(t, err)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `clinicdesk_ipc_calls_total{channel="user:whoami",outcome="failure"} 1`)
	assert.Contains(t, string(body), "clinicdesk_sessions_live 0")

	resp, err = http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

// TestOpenAPIDrift compares the mounted routes with the embedded
// openapi.yaml so the document stays in step with the server.
func TestOpenAPIDrift(t *testing.T) {
	var doc struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc))

	documented := map[string]bool{}
	for path, methods := range doc.Paths {
		for method := range methods {
			documented[strings.ToUpper(method)+" "+path] = true
		}
	}

	server := New(ipc.NewRouter(session.NewStore()), WithGatherer(prometheus.NewRegistry()))
	mux, ok := server.Handler().(chi.Routes)
	require.True(t, ok)

	mounted := map[string]bool{}
	require.NoError(t, chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") {
			return nil
		}
		if route == "/metrics" && method != http.MethodGet {
			return nil
		}
		mounted[method+" "+route] = true
		return nil
	}))

	var undocumented, stale []string
	for route := range mounted {
		if !documented[route] {
			undocumented = append(undocumented, route)
		}
	}
	for route := range documented {
		if !mounted[route] {
			stale = append(stale, route)
		}
	}
	sort.Strings(undocumented)
	sort.Strings(stale)
	assert.Empty(t, undocumented, "routes missing from openapi.yaml")
	assert.Empty(t, stale, "openapi.yaml paths not mounted")
}
