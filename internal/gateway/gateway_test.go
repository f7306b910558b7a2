// ABOUTME: End-to-end tests for the gateway front door and socket protocol
// ABOUTME: Drives a real listener with the protocol client and a scripted runtime

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbot/openbot-gateway/internal/backend"
	"github.com/openbot/openbot-gateway/internal/config"
	"github.com/openbot/openbot-gateway/internal/protocol"
	"github.com/openbot/openbot-gateway/internal/runtime"
	"github.com/openbot/openbot-gateway/internal/schedule"
	"github.com/openbot/openbot-gateway/internal/session"
)

type testGateway struct {
	srv      *httptest.Server
	registry *session.Registry
	rt       *runtime.MockRuntime
	agentDir string
}

func (g *testGateway) socketURL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/socket"
}

// newTestGateway assembles a gateway over a scripted runtime. backendHandler
// may be nil for an unreachable backend.
func newTestGateway(t *testing.T, rt *runtime.MockRuntime, backendHandler http.Handler) *testGateway {
	t.Helper()

	desktopDir := t.TempDir()
	cfg := map[string]any{
		"maxAgentSessions": 5,
		"providers":        map[string]any{"deepseek": map[string]any{"apiKey": "sk-test"}},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(desktopDir, "config.json"), data, 0o644))

	backendURL := &url.URL{Scheme: "http", Host: "127.0.0.1:1"}
	if backendHandler != nil {
		backendSrv := httptest.NewServer(backendHandler)
		t.Cleanup(backendSrv.Close)
		backendURL, err = url.Parse(backendSrv.URL)
		require.NoError(t, err)
	}

	agentDir := t.TempDir()
	be := backend.New(backendURL.String(), "/server-api", nil)
	broadcaster := session.NewBroadcaster(nil)
	registry := session.NewRegistry(rt, be, broadcaster, desktopDir, agentDir, nil)
	runner := schedule.NewRunner(registry, be, 5*time.Millisecond, 100*time.Millisecond, nil)
	socket := NewSocketServer(registry, nil)

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>openbot</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log('ui')"), 0o644))

	router := newRouter(routerDeps{
		socket:    socket,
		runner:    runner,
		backend:   backendURL,
		apiPrefix: "/server-api",
		staticDir: staticDir,
		agentDir:  agentDir,
		logger:    nil,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(socket.CloseAll)
	t.Cleanup(registry.Shutdown)

	return &testGateway{srv: srv, registry: registry, rt: rt, agentDir: agentDir}
}

type eventSink struct {
	mu     sync.Mutex
	events []string
	bodies []json.RawMessage
}

func (s *eventSink) handler(event string, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.bodies = append(s.bodies, payload)
}

func (s *eventSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	resp, err := http.Get(g.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	_, err = time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestSocketChatHappyPath(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "hello "},
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "world"},
	)
	g := newTestGateway(t, rt, nil)

	sink := &eventSink{}
	client, err := protocol.Dial(context.Background(), g.socketURL(), sink.handler, nil)
	require.NoError(t, err)
	defer client.Close()

	connected, err := client.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, connected.SessionID)
	assert.Equal(t, "connected", connected.Status)

	result, err := client.Chat(context.Background(), protocol.ChatParams{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, connected.SessionID, result.SessionID)

	require.Eventually(t, func() bool {
		names := sink.names()
		return len(names) >= 3 && names[len(names)-1] == protocol.EventMessageComplete
	}, 2*time.Second, 10*time.Millisecond)

	names := sink.names()
	assert.Equal(t, []string{
		protocol.EventAgentChunk,
		protocol.EventAgentChunk,
		protocol.EventMessageComplete,
	}, names)

	require.Len(t, rt.Sessions(), 1)
	assert.Equal(t, []string{"hi"}, rt.Sessions()[0].Sent())
}

func TestSocketConnectResumesGivenSession(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	client, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	connected, err := client.Connect(context.Background(), "existing-session")
	require.NoError(t, err)
	assert.Equal(t, "existing-session", connected.SessionID)
}

func TestSocketConnectIsIdempotent(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	client, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	first, err := client.Connect(context.Background(), "stable-session")
	require.NoError(t, err)
	second, err := client.Connect(context.Background(), "stable-session")
	require.NoError(t, err)

	assert.Equal(t, "stable-session", first.SessionID)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "connected", second.Status)
}

func TestSocketEphemeralChatDiscardedAfterTurn(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "once"},
	)
	g := newTestGateway(t, rt, nil)

	client, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Connect(context.Background(), "system-adhoc")
	require.NoError(t, err)
	result, err := client.Chat(context.Background(), protocol.ChatParams{Message: "go"})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)

	assert.Equal(t, 0, g.registry.Len(), "system-triggered session must not stay registered after its turn")
	require.Len(t, rt.Sessions(), 1)
	assert.True(t, rt.Sessions()[0].Closed())
}

func TestSocketChatRequiresConnect(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	client, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Chat(context.Background(), protocol.ChatParams{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not connected")
}

func TestSocketUnknownMethod(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	client, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "bogus.method", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, "Unknown method: bogus.method", err.Error())
}

func TestSocketFanOutToSecondClient(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "shared"},
	)
	g := newTestGateway(t, rt, nil)

	sink := &eventSink{}
	observer, err := protocol.Dial(context.Background(), g.socketURL(), sink.handler, nil)
	require.NoError(t, err)
	defer observer.Close()
	_, err = observer.Connect(context.Background(), "shared-session")
	require.NoError(t, err)

	speaker, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer speaker.Close()
	_, err = speaker.Connect(context.Background(), "shared-session")
	require.NoError(t, err)

	_, err = speaker.Chat(context.Background(), protocol.ChatParams{Message: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		names := sink.names()
		return len(names) >= 2 && names[len(names)-1] == protocol.EventMessageComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocketCancelInFlightTurn(t *testing.T) {
	rt := runtime.NewMockRuntime()
	g := newTestGateway(t, rt, nil)

	// Pre-create the session so the turn can be held in flight.
	_, err := g.registry.Acquire(context.Background(), session.AcquireSpec{SessionID: "s1"})
	require.NoError(t, err)
	sess := rt.Sessions()[0]
	sess.Block = make(chan struct{})

	client, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Connect(context.Background(), "s1")
	require.NoError(t, err)

	chatErr := make(chan error, 1)
	go func() {
		_, err := client.Chat(context.Background(), protocol.ChatParams{Message: "long task"})
		chatErr <- err
	}()
	require.Eventually(t, sess.IsStreaming, 2*time.Second, 10*time.Millisecond)

	raw, err := client.Call(context.Background(), protocol.MethodAgentCancel,
		protocol.CancelParams{SessionID: "s1"}, time.Second)
	require.NoError(t, err)
	var result map[string]string
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "cancelling", result["status"])
	assert.True(t, sess.Canceled())

	// The turn still finishes on its own; cancellation is cooperative.
	close(sess.Block)
	require.NoError(t, <-chatErr)
}

func TestSocketSubscribeOtherSession(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "x"},
	)
	g := newTestGateway(t, rt, nil)

	sink := &eventSink{}
	watcher, err := protocol.Dial(context.Background(), g.socketURL(), sink.handler, nil)
	require.NoError(t, err)
	defer watcher.Close()
	_, err = watcher.Connect(context.Background(), "watcher-own")
	require.NoError(t, err)

	_, err = watcher.Call(context.Background(), protocol.MethodSubscribeSession,
		protocol.SubscribeParams{SessionID: "other"}, time.Second)
	require.NoError(t, err)

	speaker, err := protocol.Dial(context.Background(), g.socketURL(), nil, nil)
	require.NoError(t, err)
	defer speaker.Close()
	_, err = speaker.Connect(context.Background(), "other")
	require.NoError(t, err)
	_, err = speaker.Chat(context.Background(), protocol.ChatParams{Message: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, name := range sink.names() {
			if name == protocol.EventMessageComplete {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Unsubscribe stops the flow.
	_, err = watcher.Call(context.Background(), protocol.MethodUnsubscribeSession,
		protocol.SubscribeParams{SessionID: "other"}, time.Second)
	require.NoError(t, err)
}

func TestRunScheduledTaskEndpoint(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "task output"},
	)
	g := newTestGateway(t, rt, nil)

	body, _ := json.Marshal(schedule.Request{
		SessionID: "chat-1",
		Message:   "do the thing",
		Workspace: "/w",
	})
	resp, err := http.Post(g.srv.URL+"/run-scheduled-task", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result schedule.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "task output", result.AssistantContent)
	assert.Equal(t, "chat-1", result.SessionID)
}

func TestRunScheduledTaskFailureShape(t *testing.T) {
	rt := &runtime.MockRuntime{CreateErr: errors.New("runtime down")}
	g := newTestGateway(t, rt, nil)

	body, _ := json.Marshal(schedule.Request{
		SessionID: "chat-1",
		Message:   "do the thing",
		Workspace: "/w",
	})
	resp, err := http.Post(g.srv.URL+"/run-scheduled-task", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var payload struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.False(t, payload.Success)
	assert.Contains(t, payload.Error, "creating task session")
}

func TestRunScheduledTaskValidation(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	resp, err := http.Post(g.srv.URL+"/run-scheduled-task", "application/json",
		strings.NewReader(`{"sessionId":"s1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunScheduledTaskMethodNotAllowed(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	resp, err := http.Get(g.srv.URL + "/run-scheduled-task")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProxyForwardsToBackend(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/server-api/ping" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"pong":true}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	g := newTestGateway(t, runtime.NewMockRuntime(), stub)

	resp, err := http.Get(g.srv.URL + "/server-api/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["pong"])
}

func TestProxyAnswers502WhenBackendDown(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	resp, err := http.Get(g.srv.URL + "/server-api/anything")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Backend service unavailable", body["error"])
}

func TestInstallSkillEndpoint(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	src := filepath.Join(t.TempDir(), "summarizer")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "SKILL.md"), []byte("# Summarizer\n"), 0o644))

	body, _ := json.Marshal(map[string]string{"path": src})
	resp, err := http.Post(g.srv.URL+"/server-api/skills/install-from-path", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.DirExists(t, filepath.Join(g.agentDir, "skills", "summarizer"))
}

func TestInstallSkillEndpointRejectsBadPath(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	body, _ := json.Marshal(map[string]string{"path": filepath.Join(t.TempDir(), "nope")})
	resp, err := http.Post(g.srv.URL+"/server-api/skills/install-from-path", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStaticFilesAndSPAFallback(t *testing.T) {
	g := newTestGateway(t, runtime.NewMockRuntime(), nil)

	resp, err := http.Get(g.srv.URL + "/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/settings/providers", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	req, _ = http.NewRequest(http.MethodGet, g.srv.URL+"/missing.png", nil)
	req.Header.Set("Accept", "image/png")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Backend.Command = "node"
	cfg.Backend.Entry = filepath.Join(t.TempDir(), "missing", "main.js")
	cfg.Agent.Dir = t.TempDir()
	cfg.Agent.DesktopDir = t.TempDir()

	srv, err := New(cfg, runtime.NewMockRuntime(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))

	_, err = http.Get("http://" + srv.Addr() + "/health")
	assert.Error(t, err)
}
