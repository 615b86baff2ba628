package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"nhooyr.io/websocket"

	"github.com/jmcleod/clinicdesk/ipc"
)

const (
	maxFrameBytes = 8 << 20
	writeTimeout  = 15 * time.Second
	pingInterval  = 20 * time.Second
	pingTimeout   = 5 * time.Second
)

// window is one connected UI window. It is the ipc.Sender of the calls it
// makes.
type window struct {
	id   int
	conn *websocket.Conn
}

func (w *window) Notify(event string, payload any) error {
	return w.notify(context.Background(), event, payload)
}

func (w *window) notify(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return w.write(ctx, ipc.Frame{Event: event, Payload: data})
}

func (w *window) write(ctx context.Context, f ipc.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Warn("window accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	win := s.open(conn)
	defer s.release(win)
	startPing(ctx, conn)

	if err := win.notify(ctx, EventWindow, map[string]int{"id": win.id}); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.logger.Debug("window read ended", "window", win.id, "error", err)
			}
			return
		}
		var f ipc.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.ID == 0 {
			s.logger.Warn("dropping malformed frame", "window", win.id)
			continue
		}
		go s.serve(ctx, win, f)
	}
}

func (s *Server) serve(ctx context.Context, win *window, f ipc.Frame) {
	reply := s.dispatch(ctx, win, f)
	if err := win.write(ctx, reply); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to send reply", "window", win.id, "channel", f.Channel, "error", err)
	}
}

// dispatch runs one call. A panicking handler rejects only its own call.
func (s *Server) dispatch(ctx context.Context, win *window, f ipc.Frame) (reply ipc.Frame) {
	reply.ID = f.ID
	if f.Channel == "" {
		reply.Error = "missing channel"
		return reply
	}
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("handler panicked", "window", win.id, "channel", f.Channel, "panic", v, "stack", string(debug.Stack()))
			reply = ipc.Frame{ID: f.ID, Error: "internal error"}
		}
	}()

	result, err := s.router.Dispatch(ctx, ipc.Inbound{
		WindowID: win.id,
		Channel:  f.Channel,
		Args:     f.Args,
		Sender:   win,
	})
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	if reply.Result, err = json.Marshal(result); err != nil {
		reply.Error = fmt.Sprintf("encoding result: %v", err)
		reply.Result = nil
	}
	return reply
}

func (s *Server) open(conn *websocket.Conn) *window {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWindow++
	win := &window{id: s.nextWindow, conn: conn}
	s.windows[win.id] = win
	s.logger.Info("window connected", "window", win.id, "windows", len(s.windows))
	return win
}

// release forgets a disconnected window. When the last window goes away
// every remaining window binding is dropped too.
func (s *Server) release(win *window) {
	s.mu.Lock()
	delete(s.windows, win.id)
	remaining := len(s.windows)
	s.mu.Unlock()

	win.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("window disconnected", "window", win.id, "windows", remaining)
	if s.sessions == nil {
		return
	}
	s.sessions.ClearWindow(win.id)
	if remaining == 0 {
		cleared := s.sessions.ClearWindowSessions()
		s.logger.Info("all windows closed", "bindings_cleared", cleared)
	}
}

func startPing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}
