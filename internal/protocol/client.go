// ABOUTME: Client-side request/response correlator for the socket protocol
// ABOUTME: Pairs outbound requests with responses by id and dispatches events

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// DefaultCallTimeout bounds control calls (connect, subscribe, cancel).
	DefaultCallTimeout = 10 * time.Second

	// ChatCallTimeout bounds a full conversational turn, which may span many
	// tool round-trips.
	ChatCallTimeout = 5 * time.Minute
)

// ErrCallTimeout is returned when no response arrives within the timeout.
var ErrCallTimeout = errors.New("request timed out")

// EventHandler receives asynchronous events pushed by the server.
type EventHandler func(event string, payload json.RawMessage)

type pendingCall struct {
	ch chan *Message
}

// Client issues requests over one socket connection and correlates responses
// by request id. Safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	onEvent EventHandler
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool

	done chan struct{}
}

// Dial opens a socket connection to the gateway and starts the read loop.
// The event handler may be nil if the caller has no interest in events.
func Dial(ctx context.Context, url string, onEvent EventHandler, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}
	c := &Client{
		conn:    conn,
		onEvent: onEvent,
		logger:  logger.With("component", "protocol-client"),
		pending: make(map[string]*pendingCall),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a request and waits for its response or the timeout. A timed-out
// call removes its pending entry; the late response, if any, is dropped.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	id := uuid.New().String()
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	call := &pendingCall{ch: make(chan *Message, 1)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client closed")
	}
	c.pending[id] = call
	c.mu.Unlock()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("writing request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-call.ch:
		if resp.Error != nil {
			return nil, errors.New(resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, method, timeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, errors.New("connection closed")
	}
}

// Connect performs the handshake and returns the assigned conversation id.
func (c *Client) Connect(ctx context.Context, sessionID string) (*ConnectResult, error) {
	raw, err := c.Call(ctx, MethodConnect, ConnectParams{SessionID: sessionID}, DefaultCallTimeout)
	if err != nil {
		return nil, err
	}
	var result ConnectResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding connect result: %w", err)
	}
	return &result, nil
}

// Chat sends one user turn and blocks until the turn completes.
func (c *Client) Chat(ctx context.Context, params ChatParams) (*ChatResult, error) {
	raw, err := c.Call(ctx, MethodAgentChat, params, ChatCallTimeout)
	if err != nil {
		return nil, err
	}
	var result ChatResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding chat result: %w", err)
	}
	return &result, nil
}

// Close tears down the connection. Pending calls fail promptly.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		switch msg.Type {
		case TypeResponse:
			c.mu.Lock()
			call, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if !ok {
				// Late response for a timed-out call.
				c.logger.Debug("dropping late response", "id", msg.ID)
				continue
			}
			call.ch <- msg

		case TypeEvent:
			if c.onEvent != nil {
				c.onEvent(msg.Event, msg.Payload)
			}

		case TypeRequest:
			// The server never issues requests toward clients.
			c.logger.Debug("ignoring server-originated request", "method", msg.Method)
		}
	}
}
