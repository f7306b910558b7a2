// ABOUTME: Single owner of the session-id to live-agent-session mapping
// ABOUTME: Lazy creation, capacity eviction, and runtime-to-wire event translation

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openbot/openbot-gateway/internal/backend"
	"github.com/openbot/openbot-gateway/internal/config"
	"github.com/openbot/openbot-gateway/internal/protocol"
	"github.com/openbot/openbot-gateway/internal/runtime"
	"github.com/openbot/openbot-gateway/internal/skills"
	"github.com/openbot/openbot-gateway/internal/tools"
)

// EphemeralIDPrefix marks session ids that must never be reused across
// acquisitions, regardless of the caller's flag.
const EphemeralIDPrefix = "system-"

// ErrCapacity indicates no session slot could be freed: every live session
// is still processing a turn.
var ErrCapacity = errors.New("maximum number of concurrent agent sessions reached and all are busy")

// Backend is the slice of the backend HTTP client the registry needs.
// *backend.Client satisfies it.
type Backend interface {
	GetSession(ctx context.Context, sessionID string) (*backend.ChatSession, error)
	GetAgentConfig(ctx context.Context, agentID string) (*backend.AgentConfig, error)
	ListSkills(ctx context.Context) []skills.Skill
	PostUsageAsync(record backend.UsageRecord)
}

// AcquireSpec parameterizes one session acquisition. Workspace and AgentID
// are optional; when empty they are resolved from the backend's session
// record and the desktop configuration.
type AcquireSpec struct {
	SessionID string
	Ephemeral bool
	Workspace string
	AgentID   string
}

// Registry owns every live agent session. All lookups, creations and
// deletions go through it; nothing else holds session references.
type Registry struct {
	runtime     runtime.Runtime
	backend     Backend
	broadcaster *Broadcaster
	desktopDir  string
	agentDir    string
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	registry *Registry

	id        string
	ephemeral bool
	workspace string
	agentID   string
	sess      runtime.Session
	unsub     func()

	mu       sync.Mutex
	lastTurn time.Time
}

// NewRegistry creates the registry. The broadcaster carries every translated
// event; callers subscribe to it per session id.
func NewRegistry(rt runtime.Runtime, be Backend, bc *Broadcaster, desktopDir, agentDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runtime:     rt,
		backend:     be,
		broadcaster: bc,
		desktopDir:  desktopDir,
		agentDir:    agentDir,
		logger:      logger.With("component", "session-registry"),
		entries:     make(map[string]*entry),
	}
}

// Broadcaster returns the event broadcaster shared by all sessions.
func (r *Registry) Broadcaster() *Broadcaster { return r.broadcaster }

// Acquire returns the live session for the given id, creating it if absent.
// Ephemeral acquisitions always discard any existing session of the same id
// first, so two scheduled runs never share conversation state.
func (r *Registry) Acquire(ctx context.Context, spec AcquireSpec) (*Handle, error) {
	if spec.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	ephemeral := spec.Ephemeral || strings.HasPrefix(spec.SessionID, EphemeralIDPrefix)

	r.mu.Lock()
	if existing, ok := r.entries[spec.SessionID]; ok {
		if !ephemeral {
			r.mu.Unlock()
			return &Handle{entry: existing}, nil
		}
		r.removeLocked(existing)
	}
	r.mu.Unlock()

	// Placement, credentials and session construction can block on the
	// backend and the provider; none of it may hold the registry lock, or a
	// slow creation would stall every other conversation's cancel and
	// lookup.
	workspace, agentID := r.resolvePlacement(ctx, spec)

	creds := config.ResolveAgentCredentials(r.desktopDir, agentID)
	if creds.APIKey == "" {
		return nil, config.ErrNoAPIKey(creds.Provider)
	}

	toolset := tools.Toolset(r.agentDir, workspace, r.logger)
	skillsBlock := skills.FormatForPrompt(r.backend.ListSkills(ctx))
	experience := tools.ExperienceContext(r.agentDir)

	sess, err := r.runtime.CreateSession(ctx, runtime.SessionConfig{
		Workspace:    workspace,
		Provider:     creds.Provider,
		Model:        creds.Model,
		APIKey:       creds.APIKey,
		BaseURL:      creds.BaseURL,
		AgentID:      agentID,
		SystemPrompt: runtime.BuildSystemPrompt(toolset, skillsBlock, experience),
		Tools:        toolset,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[spec.SessionID]; ok {
		// A concurrent acquisition for the same id won the race while we
		// were creating. Non-ephemeral callers share the winner's session.
		if !ephemeral {
			if closeErr := sess.Close(); closeErr != nil {
				r.logger.Warn("closing redundant session failed", "session_id", spec.SessionID, "error", closeErr)
			}
			return &Handle{entry: existing}, nil
		}
		r.removeLocked(existing)
	}

	if !ephemeral {
		if err := r.ensureCapacityLocked(); err != nil {
			if closeErr := sess.Close(); closeErr != nil {
				r.logger.Warn("closing rejected session failed", "session_id", spec.SessionID, "error", closeErr)
			}
			return nil, err
		}
	}

	e := &entry{
		registry:  r,
		id:        spec.SessionID,
		ephemeral: ephemeral,
		workspace: workspace,
		agentID:   agentID,
		sess:      sess,
		lastTurn:  time.Now(),
	}
	e.unsub = sess.Subscribe(e.onEvent)
	r.entries[spec.SessionID] = e

	r.logger.Info("session created",
		"session_id", spec.SessionID,
		"workspace", workspace,
		"agent_id", agentID,
		"provider", creds.Provider,
		"model", creds.Model,
		"ephemeral", ephemeral)
	return &Handle{entry: e}, nil
}

// resolvePlacement determines workspace and agent binding for a new session:
// explicit spec values win, then the backend's session record, then desktop
// defaults. A backend miss is not fatal; the session still gets created
// against the default agent.
func (r *Registry) resolvePlacement(ctx context.Context, spec AcquireSpec) (workspace, agentID string) {
	workspace = spec.Workspace
	agentID = spec.AgentID

	if workspace == "" || agentID == "" {
		if record, lookupErr := r.backend.GetSession(ctx, spec.SessionID); lookupErr == nil {
			if workspace == "" {
				workspace = record.Workspace
			}
			if agentID == "" {
				agentID = record.AgentID
			}
		} else {
			r.logger.Debug("backend session lookup failed; using defaults",
				"session_id", spec.SessionID, "error", lookupErr)
		}
	}

	if agentID == "" {
		agentID = config.LoadDesktop(r.desktopDir).DefaultAgentID
	}
	if workspace == "" {
		if agentCfg, cfgErr := r.backend.GetAgentConfig(ctx, agentID); cfgErr == nil && agentCfg.Workspace != "" {
			workspace = agentCfg.Workspace
		}
	}
	if workspace == "" {
		workspace = "default"
	}
	return workspace, agentID
}

// ensureCapacityLocked frees a slot when the non-ephemeral session count has
// reached the configured maximum. The least recently used idle session is
// closed; sessions still processing a turn are never evicted. Returns
// ErrCapacity when every candidate is busy.
func (r *Registry) ensureCapacityLocked() error {
	limit := config.LoadDesktop(r.desktopDir).MaxAgentSessions

	count := 0
	for _, e := range r.entries {
		if !e.ephemeral {
			count++
		}
	}
	if count < limit {
		return nil
	}

	var victim *entry
	for _, e := range r.entries {
		if e.ephemeral || e.sess.IsStreaming() {
			continue
		}
		if victim == nil || e.lastTurnTime().Before(victim.lastTurnTime()) {
			victim = e
		}
	}
	if victim == nil {
		return ErrCapacity
	}

	r.logger.Info("evicting idle session", "session_id", victim.id)
	r.removeLocked(victim)
	return nil
}

// Get returns the live session for the given id without creating one.
func (r *Registry) Get(sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return &Handle{entry: e}, true
}

// Discard closes and forgets the session with the given id, if present.
func (r *Registry) Discard(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok {
		r.removeLocked(e)
	}
}

// discardEntry removes the given entry only while it is still the one
// registered under its id, so a stale terminal event cannot take down a
// successor session.
func (r *Registry) discardEntry(target *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[target.id]; ok && e == target {
		r.removeLocked(e)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown closes every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		r.removeLocked(e)
	}
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.entries, e.id)
	e.unsub()
	if err := e.sess.Close(); err != nil {
		r.logger.Warn("closing session failed", "session_id", e.id, "error", err)
	}
	r.logger.Debug("session removed", "session_id", e.id)
}

// onEvent translates one raw runtime event into its wire form and fans it
// out. message_complete is the turn's authoritative terminal signal; it is
// published even for cancelled turns.
func (e *entry) onEvent(ev runtime.Event) {
	r := e.registry
	switch ev.Kind {
	case runtime.EventTextDelta:
		r.broadcaster.Publish(e.id, protocol.NewChunkEvent(ev.Delta, false))
	case runtime.EventThinkingDelta:
		r.broadcaster.Publish(e.id, protocol.NewChunkEvent(ev.Delta, true))
	case runtime.EventToolStart:
		r.broadcaster.Publish(e.id, protocol.NewToolStartEvent(ev.ToolCallID, ev.ToolName, ev.Args))
	case runtime.EventToolEnd:
		r.broadcaster.Publish(e.id, protocol.NewToolEndEvent(ev.ToolCallID, ev.ToolName, ev.Result, ev.IsError))
	case runtime.EventTurnEnd:
		e.touch()
		if ev.Usage != nil && !e.ephemeral {
			r.backend.PostUsageAsync(backend.UsageRecord{
				SessionID:        e.id,
				Source:           backend.UsageSourceChat,
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
			})
		}
		r.broadcaster.Publish(e.id, protocol.NewCompleteEvent(e.id))
		if e.ephemeral {
			// Ephemeral conversations leave the registry with their turn;
			// nothing may reuse their state afterwards.
			r.discardEntry(e)
		}
	}
}

func (e *entry) touch() {
	e.mu.Lock()
	e.lastTurn = time.Now()
	e.mu.Unlock()
}

func (e *entry) lastTurnTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTurn
}

// Handle is the caller-facing view of one live session.
type Handle struct {
	entry *entry
}

// ID returns the session id.
func (h *Handle) ID() string { return h.entry.id }

// Workspace returns the workspace the session was created for.
func (h *Handle) Workspace() string { return h.entry.workspace }

// AgentID returns the agent binding the session was created for.
func (h *Handle) AgentID() string { return h.entry.agentID }

// Ephemeral reports whether the session is discarded after use.
func (h *Handle) Ephemeral() bool { return h.entry.ephemeral }

// Send delivers one user turn. It blocks until the runtime signals turn
// completion and surfaces runtime.ErrSessionBusy for overlapping turns.
func (h *Handle) Send(ctx context.Context, text string) error {
	h.entry.touch()
	err := h.entry.sess.SendUserMessage(ctx, text)
	h.entry.touch()
	return err
}

// IsStreaming reports whether a turn is currently in flight.
func (h *Handle) IsStreaming() bool { return h.entry.sess.IsStreaming() }

// Subscribe attaches fn to the session's raw runtime event stream, alongside
// the registry's own wire translation. Used by callers that need usage and
// deltas without going through the broadcaster.
func (h *Handle) Subscribe(fn func(runtime.Event)) (unsubscribe func()) {
	return h.entry.sess.Subscribe(fn)
}

// Cancel requests cooperative cancellation of the in-flight turn.
func (h *Handle) Cancel() { h.entry.sess.Cancel() }
