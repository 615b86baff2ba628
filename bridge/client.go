package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/jmcleod/clinicdesk/ipc"
)

// ErrClosed is returned for calls on a closed Client.
var ErrClosed = errors.New("bridge: connection closed")

// RemoteError is a call rejected by the server.
type RemoteError struct {
	Channel string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Channel, e.Message)
}

// Event is a push received from the server.
type Event struct {
	Name    string
	Payload json.RawMessage
}

const (
	writeTimeout = 15 * time.Second
	readLimit    = 8 << 20
	eventBuffer  = 32
)

// Client is one window connection. Calls may be made concurrently; replies
// are matched to calls by request id.
type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan ipc.Frame
	err     error

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a window connection to url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		ctx:     cctx,
		cancel:  cancel,
		pending: make(map[uint64]chan ipc.Frame),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers server pushes. Events are dropped when the channel is
// full. The channel is closed when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Invoke sends args on channel and waits for the reply. It satisfies
// InvokeFunc.
func (c *Client) Invoke(ctx context.Context, channel string, args any) (json.RawMessage, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding %s arguments: %w", channel, err)
		}
		raw = data
	}

	reply := make(chan ipc.Frame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = reply
	c.mu.Unlock()
	defer c.forget(id)

	data, err := json.Marshal(ipc.Frame{ID: id, Channel: channel, Args: raw})
	if err != nil {
		return nil, err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = c.conn.Write(writeCtx, websocket.MessageText, data)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", channel, err)
	}

	select {
	case f := <-reply:
		if f.Error != "" {
			return nil, &RemoteError{Channel: channel, Message: f.Error}
		}
		return f.Result, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// API builds the nested API for tree on top of this connection.
func (c *Client) API(tree map[string]any) API {
	return Build(tree, c.Invoke)
}

// Close ends the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		select {
		case <-c.done:
			// The server already ended the connection.
		default:
			err = c.conn.Close(websocket.StatusNormalClosure, "client closed")
		}
		c.cancel()
		<-c.done
	})
	return err
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			c.err = ErrClosed
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != -1 {
				c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			}
			c.mu.Unlock()
			return
		}
		var f ipc.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.IsEvent() {
			select {
			case c.events <- Event{Name: f.Event, Payload: f.Payload}:
			default:
			}
			continue
		}
		c.mu.Lock()
		reply, ok := c.pending[f.ID]
		c.mu.Unlock()
		if ok {
			select {
			case reply <- f:
			default:
			}
		}
	}
}
