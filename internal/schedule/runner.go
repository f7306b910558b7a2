// ABOUTME: Scheduled-task execution against the conversation's own agent session
// ABOUTME: Busy guard, delta accumulation, best-effort result persistence

package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openbot/openbot-gateway/internal/backend"
	"github.com/openbot/openbot-gateway/internal/runtime"
	"github.com/openbot/openbot-gateway/internal/session"
)

// Backend is the slice of the backend client the runner needs for
// best-effort result persistence. *backend.Client satisfies it.
type Backend interface {
	PostAssistantMessageAsync(sessionID, content string)
	PostUsageAsync(record backend.UsageRecord)
}

// Request is one scheduled-task invocation. BackendBaseUrl gates result
// persistence: without it the run still executes but nothing is posted back.
type Request struct {
	SessionID      string `json:"sessionId"`
	Message        string `json:"message"`
	Workspace      string `json:"workspace"`
	TaskID         string `json:"taskId,omitempty"`
	BackendBaseUrl string `json:"backendBaseUrl,omitempty"`
}

// Result is the wire shape of one completed run.
type Result struct {
	Success          bool   `json:"success"`
	SessionID        string `json:"sessionId"`
	AssistantContent string `json:"assistantContent"`
}

// ValidationError marks malformed requests so the HTTP layer can answer 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// IsValidation reports whether err is a request validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Runner executes scheduled tasks on the target conversation's own session.
// The session never outlives the run: scheduled conversations are ephemeral
// by construction and are discarded whether the run succeeds or fails.
type Runner struct {
	registry *session.Registry
	backend  Backend
	logger   *slog.Logger

	pollInterval time.Duration
	idleTimeout  time.Duration
}

// NewRunner creates the runner. pollInterval and idleTimeout parameterize
// the busy guard: how often the target session is re-checked and how long
// to wait before giving up.
func NewRunner(reg *session.Registry, be Backend, pollInterval, idleTimeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry:     reg,
		backend:      be,
		logger:       logger.With("component", "schedule"),
		pollInterval: pollInterval,
		idleTimeout:  idleTimeout,
	}
}

// Run executes one scheduled task: waits out any in-flight turn on the
// target session, obtains a fresh session for the conversation, runs the
// task message, and persists the assistant reply and usage when a backend
// base URL was supplied.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	logger := r.logger.With("session_id", req.SessionID, "task_id", req.TaskID)
	logger.Info("scheduled task started")

	// The conversation's session is torn down on every exit path, the busy
	// timeout included, so no scheduled run leaves state behind.
	defer r.registry.Discard(req.SessionID)

	if err := r.awaitIdle(ctx, req.SessionID); err != nil {
		return nil, err
	}

	handle, err := r.registry.Acquire(ctx, session.AcquireSpec{
		SessionID: req.SessionID,
		Ephemeral: true,
		Workspace: req.Workspace,
	})
	if err != nil {
		return nil, fmt.Errorf("creating task session: %w", err)
	}

	var (
		mu      sync.Mutex
		content strings.Builder
		usage   runtime.Usage
	)
	unsubscribe := handle.Subscribe(func(ev runtime.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Kind {
		case runtime.EventTextDelta:
			content.WriteString(ev.Delta)
		case runtime.EventTurnEnd:
			if ev.Usage != nil {
				usage.PromptTokens += ev.Usage.PromptTokens
				usage.CompletionTokens += ev.Usage.CompletionTokens
			}
		}
	})
	defer unsubscribe()

	if err := handle.Send(ctx, req.Message); err != nil {
		return nil, fmt.Errorf("running scheduled task: %w", err)
	}

	mu.Lock()
	assistantContent := content.String()
	turnUsage := usage
	mu.Unlock()

	// Best effort: result persistence must not fail the run.
	if req.BackendBaseUrl != "" {
		r.backend.PostAssistantMessageAsync(req.SessionID, assistantContent)
		if turnUsage.PromptTokens > 0 || turnUsage.CompletionTokens > 0 {
			r.backend.PostUsageAsync(backend.UsageRecord{
				SessionID:        req.SessionID,
				Source:           backend.UsageSourceScheduledTask,
				TaskID:           req.TaskID,
				PromptTokens:     turnUsage.PromptTokens,
				CompletionTokens: turnUsage.CompletionTokens,
			})
		}
	}

	logger.Info("scheduled task finished", "content_len", len(assistantContent))
	return &Result{Success: true, SessionID: req.SessionID, AssistantContent: assistantContent}, nil
}

// awaitIdle polls the target session until no turn is in flight. Gives up
// after the idle timeout so a wedged chat cannot stall the scheduler
// forever.
func (r *Runner) awaitIdle(ctx context.Context, sessionID string) error {
	handle, ok := r.registry.Get(sessionID)
	if !ok || !handle.IsStreaming() {
		return nil
	}

	r.logger.Info("target session busy; waiting", "session_id", sessionID)
	deadline := time.NewTimer(r.idleTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(r.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			handle, ok := r.registry.Get(sessionID)
			if !ok || !handle.IsStreaming() {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("session %s is still busy after %s; skipping scheduled task", sessionID, r.idleTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return &ValidationError{msg: "sessionId is required"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return &ValidationError{msg: "message is required"}
	}
	if strings.TrimSpace(req.Workspace) == "" {
		return &ValidationError{msg: "workspace is required"}
	}
	return nil
}
