// ABOUTME: Socket protocol server: connection registry, method dispatch, event pump
// ABOUTME: One duplex JSON connection per desktop client

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/openbot/openbot-gateway/internal/protocol"
	"github.com/openbot/openbot-gateway/internal/runtime"
	"github.com/openbot/openbot-gateway/internal/session"
)

// SocketServer accepts socket connections and serves the request/response
// protocol on each. Events flow the other way through per-session
// subscriptions on the shared broadcaster.
type SocketServer struct {
	registry *session.Registry
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*connection]struct{}
}

// NewSocketServer creates the socket server on top of the session registry.
func NewSocketServer(registry *session.Registry, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{
		registry: registry,
		logger:   logger.With("component", "socket"),
		conns:    make(map[*connection]struct{}),
	}
}

// Handler upgrades HTTP requests to socket connections.
func (s *SocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.logger.Warn("socket accept failed", "error", err)
			return
		}
		s.serve(ws)
	}
}

// CloseAll disconnects every live connection. Used during shutdown.
func (s *SocketServer) CloseAll() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "gateway shutting down")
	}
}

func (s *SocketServer) serve(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		server: s,
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]func()),
		logger: s.logger.With("conn_id", uuid.New().String()[:8]),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.logger.Debug("connection opened")
	c.readLoop()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	cancel()
	c.logger.Debug("connection closed")
}

// connection is one live socket client.
type connection struct {
	server *SocketServer
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string            // set by connect
	subs      map[string]func() // sessionID -> unsubscribe
}

func (c *connection) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Echo whatever id the frame carried so the client can fail the
			// pending call instead of waiting out its timeout.
			var partial struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(data, &partial)
			c.write(protocol.NewErrorResponse(partial.ID, "Invalid message format"))
			continue
		}

		if msg.Type != protocol.TypeRequest {
			c.logger.Debug("ignoring non-request frame", "type", string(msg.Type))
			continue
		}

		// Each request runs in its own goroutine so a long chat turn never
		// blocks cancels or subscriptions on the same connection.
		go c.handle(msg)
	}
}

func (c *connection) handle(msg *protocol.Message) {
	switch msg.Method {
	case protocol.MethodConnect:
		c.handleConnect(msg)
	case protocol.MethodAgentChat:
		c.handleChat(msg)
	case protocol.MethodAgentCancel:
		c.handleCancel(msg)
	case protocol.MethodSubscribeSession:
		c.handleSubscribe(msg)
	case protocol.MethodUnsubscribeSession:
		c.handleUnsubscribe(msg)
	default:
		c.write(protocol.NewErrorResponse(msg.ID, "Unknown method: "+msg.Method))
	}
}

// handleConnect binds the connection to a conversation id, generating one
// when the client does not resume an existing session, and subscribes the
// connection to that session's events.
func (c *connection) handleConnect(msg *protocol.Message) {
	var params protocol.ConnectParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.write(protocol.NewErrorResponse(msg.ID, "Invalid connect params"))
			return
		}
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	c.subscribe(sessionID)
	c.logger.Info("client connected", "session_id", sessionID)
	c.respond(msg.ID, protocol.ConnectResult{SessionID: sessionID, Status: "connected"})
}

// handleChat runs one user turn. The response is sent only after the turn's
// terminal event, so a reply to agent.chat means the conversation is idle
// again.
func (c *connection) handleChat(msg *protocol.Message) {
	c.mu.Lock()
	connSessionID := c.sessionID
	c.mu.Unlock()
	if connSessionID == "" {
		c.write(protocol.NewErrorResponse(msg.ID, "Not connected. Call connect first."))
		return
	}

	var params protocol.ChatParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Message == "" {
		c.write(protocol.NewErrorResponse(msg.ID, "agent.chat requires a message"))
		return
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = connSessionID
	}

	handle, err := c.server.registry.Acquire(c.ctx, session.AcquireSpec{
		SessionID: sessionID,
		AgentID:   params.TargetAgentID,
	})
	if err != nil {
		c.write(protocol.NewErrorResponse(msg.ID, err.Error()))
		return
	}

	if err := handle.Send(c.ctx, params.Message); err != nil {
		if errors.Is(err, runtime.ErrSessionBusy) {
			c.write(protocol.NewErrorResponse(msg.ID, "Session is busy processing another message"))
			return
		}
		c.write(protocol.NewErrorResponse(msg.ID, err.Error()))
		return
	}

	c.respond(msg.ID, protocol.ChatResult{Status: "completed", SessionID: sessionID})
}

func (c *connection) handleCancel(msg *protocol.Message) {
	var params protocol.CancelParams
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &params)
	}

	sessionID := params.SessionID
	if sessionID == "" {
		c.mu.Lock()
		sessionID = c.sessionID
		c.mu.Unlock()
	}

	handle, ok := c.server.registry.Get(sessionID)
	if !ok {
		c.write(protocol.NewErrorResponse(msg.ID, "No active session to cancel"))
		return
	}
	handle.Cancel()
	c.respond(msg.ID, map[string]string{"status": "cancelling", "sessionId": sessionID})
}

func (c *connection) handleSubscribe(msg *protocol.Message) {
	sessionID, ok := c.subscriptionTarget(msg)
	if !ok {
		c.write(protocol.NewErrorResponse(msg.ID, "No session to subscribe to"))
		return
	}
	c.subscribe(sessionID)
	c.respond(msg.ID, map[string]string{"status": "subscribed", "sessionId": sessionID})
}

func (c *connection) handleUnsubscribe(msg *protocol.Message) {
	sessionID, ok := c.subscriptionTarget(msg)
	if !ok {
		c.write(protocol.NewErrorResponse(msg.ID, "No session to unsubscribe from"))
		return
	}

	c.mu.Lock()
	unsub, found := c.subs[sessionID]
	if found {
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()
	if found {
		unsub()
	}
	c.respond(msg.ID, map[string]string{"status": "unsubscribed", "sessionId": sessionID})
}

func (c *connection) subscriptionTarget(msg *protocol.Message) (string, bool) {
	var params protocol.SubscribeParams
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &params)
	}
	if params.SessionID != "" {
		return params.SessionID, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.sessionID != ""
}

// subscribe attaches the connection to a session's event stream. Duplicate
// subscriptions to the same session are collapsed.
func (c *connection) subscribe(sessionID string) {
	c.mu.Lock()
	if _, exists := c.subs[sessionID]; exists {
		c.mu.Unlock()
		return
	}
	subCtx, subCancel := context.WithCancel(c.ctx)
	c.subs[sessionID] = subCancel
	c.mu.Unlock()

	ch, _ := c.server.registry.Broadcaster().Subscribe(subCtx, sessionID)
	go func() {
		for msg := range ch {
			c.write(msg)
		}
	}()
}

func (c *connection) respond(id string, result any) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		c.logger.Error("building response failed", "error", err)
		resp = protocol.NewErrorResponse(id, "Internal error")
	}
	c.write(resp)
}

// write serializes one frame onto the socket. Frames from concurrent
// handlers and event pumps are interleaved whole, never interleaved
// byte-wise.
func (c *connection) write(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshaling frame failed", "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		c.logger.Debug("write failed", "error", err)
	}
}

func (c *connection) close(code websocket.StatusCode, reason string) {
	_ = c.ws.Close(code, reason)
	c.cancel()
}
