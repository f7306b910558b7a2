// ABOUTME: Tests for the scheduled-task runner
// ABOUTME: Validation, busy timeout, accumulation and teardown guarantees

package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbot/openbot-gateway/internal/backend"
	"github.com/openbot/openbot-gateway/internal/runtime"
	"github.com/openbot/openbot-gateway/internal/session"
	"github.com/openbot/openbot-gateway/internal/skills"
)

type fakeBackend struct {
	mu       sync.Mutex
	messages map[string]string
	usage    []backend.UsageRecord
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: make(map[string]string)}
}

func (b *fakeBackend) GetSession(context.Context, string) (*backend.ChatSession, error) {
	return nil, errors.New("session not found")
}

func (b *fakeBackend) GetAgentConfig(context.Context, string) (*backend.AgentConfig, error) {
	return nil, errors.New("agent not found")
}

func (b *fakeBackend) ListSkills(context.Context) []skills.Skill { return nil }

func (b *fakeBackend) PostAssistantMessageAsync(sessionID, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[sessionID] = content
}

func (b *fakeBackend) PostUsageAsync(record backend.UsageRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = append(b.usage, record)
}

func (b *fakeBackend) message(sessionID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.messages[sessionID]
	return content, ok
}

func (b *fakeBackend) usageRecords() []backend.UsageRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.UsageRecord(nil), b.usage...)
}

func newTestEnv(t *testing.T, rt runtime.Runtime) (*session.Registry, *fakeBackend) {
	t.Helper()
	desktopDir := t.TempDir()
	cfg := map[string]any{
		"maxAgentSessions": 5,
		"providers":        map[string]any{"deepseek": map[string]any{"apiKey": "sk-test"}},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(desktopDir, "config.json"), data, 0o644))

	be := newFakeBackend()
	reg := session.NewRegistry(rt, be, session.NewBroadcaster(nil), desktopDir, t.TempDir(), nil)
	return reg, be
}

func TestRunValidatesRequest(t *testing.T) {
	reg, be := newTestEnv(t, runtime.NewMockRuntime())
	r := NewRunner(reg, be, time.Millisecond, time.Second, nil)

	cases := []Request{
		{Message: "do it", Workspace: "/w"},
		{SessionID: "s1", Workspace: "/w"},
		{SessionID: "s1", Message: "do it"},
	}
	for _, req := range cases {
		_, err := r.Run(context.Background(), req)
		require.Error(t, err)
		assert.True(t, IsValidation(err), "expected validation error for %+v", req)
	}
}

func TestRunAccumulatesAndPersists(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "weekly "},
		runtime.Event{Kind: runtime.EventThinkingDelta, Delta: "ignore me"},
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "report done"},
		runtime.Event{Kind: runtime.EventTurnEnd, Usage: &runtime.Usage{PromptTokens: 12, CompletionTokens: 7}},
	)
	reg, be := newTestEnv(t, rt)
	r := NewRunner(reg, be, time.Millisecond, time.Second, nil)

	result, err := r.Run(context.Background(), Request{
		SessionID:      "chat-1",
		Message:        "write the weekly report",
		Workspace:      "/w",
		TaskID:         "task-7",
		BackendBaseUrl: "http://127.0.0.1:38081",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "chat-1", result.SessionID)
	assert.Equal(t, "weekly report done", result.AssistantContent)

	content, ok := be.message("chat-1")
	require.True(t, ok)
	assert.Equal(t, "weekly report done", content)

	records := be.usageRecords()
	require.Len(t, records, 1)
	assert.Equal(t, backend.UsageSourceScheduledTask, records[0].Source)
	assert.Equal(t, "task-7", records[0].TaskID)
	assert.Equal(t, "chat-1", records[0].SessionID)
	assert.Equal(t, 12, records[0].PromptTokens)
	assert.Equal(t, 7, records[0].CompletionTokens)

	// The conversation's session never outlives the run.
	assert.Equal(t, 0, reg.Len())
	require.Len(t, rt.Sessions(), 1)
	assert.True(t, rt.Sessions()[0].Closed())
}

func TestRunSkipsPersistenceWithoutBackendBaseUrl(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "out"},
		runtime.Event{Kind: runtime.EventTurnEnd, Usage: &runtime.Usage{PromptTokens: 3, CompletionTokens: 1}},
	)
	reg, be := newTestEnv(t, rt)
	r := NewRunner(reg, be, time.Millisecond, time.Second, nil)

	result, err := r.Run(context.Background(), Request{SessionID: "chat-1", Message: "m", Workspace: "/w"})
	require.NoError(t, err)
	assert.Equal(t, "out", result.AssistantContent)

	_, ok := be.message("chat-1")
	assert.False(t, ok, "no assistant message posted without a backend base URL")
	assert.Empty(t, be.usageRecords())
}

func TestRunFailsWhenSessionCannotBeCreated(t *testing.T) {
	rt := &runtime.MockRuntime{CreateErr: errors.New("runtime unavailable")}
	reg, be := newTestEnv(t, rt)
	r := NewRunner(reg, be, time.Millisecond, time.Second, nil)

	_, err := r.Run(context.Background(), Request{SessionID: "chat-1", Message: "m", Workspace: "/w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating task session")
	assert.Equal(t, 0, reg.Len())

	_, ok := be.message("chat-1")
	assert.False(t, ok, "no assistant message persisted for a failed run")
}

func TestRunBusyTimeoutStillDiscardsTarget(t *testing.T) {
	rt := runtime.NewMockRuntime()
	reg, be := newTestEnv(t, rt)
	r := NewRunner(reg, be, 5*time.Millisecond, 50*time.Millisecond, nil)

	target, err := reg.Acquire(context.Background(), session.AcquireSpec{SessionID: "chat-1"})
	require.NoError(t, err)
	sess := rt.Sessions()[0]
	sess.Block = make(chan struct{})
	go func() { _ = target.Send(context.Background(), "long turn") }()
	require.Eventually(t, sess.IsStreaming, time.Second, time.Millisecond)

	_, err = r.Run(context.Background(), Request{SessionID: "chat-1", Message: "m", Workspace: "/w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.False(t, IsValidation(err))

	// Failed or not, the run tears the conversation's session down.
	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Get("chat-1")
	assert.False(t, ok, "target session must not stay registered after a busy-timeout failure")
	assert.True(t, sess.Closed())
	close(sess.Block)
}

func TestRunProceedsOnceTargetGoesIdle(t *testing.T) {
	rt := runtime.NewMockRuntime(
		runtime.Event{Kind: runtime.EventTextDelta, Delta: "done"},
	)
	reg, be := newTestEnv(t, rt)
	r := NewRunner(reg, be, 5*time.Millisecond, 5*time.Second, nil)

	target, err := reg.Acquire(context.Background(), session.AcquireSpec{SessionID: "chat-1"})
	require.NoError(t, err)
	sess := rt.Sessions()[0]
	sess.Block = make(chan struct{})
	go func() { _ = target.Send(context.Background(), "long turn") }()
	require.Eventually(t, sess.IsStreaming, time.Second, time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(sess.Block)
	}()

	result, err := r.Run(context.Background(), Request{SessionID: "chat-1", Message: "m", Workspace: "/w"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.AssistantContent)
	assert.Equal(t, 0, reg.Len())
}

func TestRunContextCancelDuringBusyWait(t *testing.T) {
	rt := runtime.NewMockRuntime()
	reg, be := newTestEnv(t, rt)
	r := NewRunner(reg, be, 5*time.Millisecond, time.Minute, nil)

	target, err := reg.Acquire(context.Background(), session.AcquireSpec{SessionID: "chat-1"})
	require.NoError(t, err)
	sess := rt.Sessions()[0]
	sess.Block = make(chan struct{})
	defer close(sess.Block)
	go func() { _ = target.Send(context.Background(), "long turn") }()
	require.Eventually(t, sess.IsStreaming, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, Request{SessionID: "chat-1", Message: "m", Workspace: "/w"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, reg.Len(), "teardown runs on the cancellation path too")
}
