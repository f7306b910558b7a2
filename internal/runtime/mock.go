// ABOUTME: Scripted in-memory runtime for tests
// ABOUTME: Emits a fixed event sequence per turn and tracks lifecycle calls

package runtime

import (
	"context"
	"sync"
)

// MockRuntime is a Runtime whose sessions replay a scripted event sequence
// for every turn. Used throughout the gateway tests.
type MockRuntime struct {
	mu sync.Mutex

	// CreateErr, when set, fails every CreateSession call.
	CreateErr error

	// Script is the event sequence each turn emits. When no TurnEnd is
	// scripted, one is appended automatically.
	Script []Event

	created  []SessionConfig
	sessions []*MockSession
}

// NewMockRuntime returns a runtime whose sessions replay script per turn.
func NewMockRuntime(script ...Event) *MockRuntime {
	return &MockRuntime{Script: script}
}

// CreateSession records the config and returns a new scripted session.
func (m *MockRuntime) CreateSession(_ context.Context, cfg SessionConfig) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.created = append(m.created, cfg)
	s := &MockSession{
		script: append([]Event(nil), m.Script...),
		subs:   make(map[int]func(Event)),
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

// Created returns every SessionConfig passed to CreateSession.
func (m *MockRuntime) Created() []SessionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionConfig(nil), m.created...)
}

// Sessions returns every session this runtime has constructed.
func (m *MockRuntime) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

// MockSession replays a scripted event sequence on every turn.
type MockSession struct {
	mu     sync.Mutex
	script []Event
	subs   map[int]func(Event)
	nextID int

	// SendErr, when set, fails SendUserMessage before any event is emitted.
	SendErr error

	// Busy pins IsStreaming to true regardless of turn state.
	Busy bool

	// Block, when non-nil, makes SendUserMessage wait on the channel before
	// emitting anything, so tests can hold a turn in flight.
	Block chan struct{}

	streaming bool
	canceled  bool
	closed    bool
	sent      []string
}

// SetScript replaces the event sequence replayed on the next turn.
func (s *MockSession) SetScript(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = events
}

// SendUserMessage replays the script to all subscribers and returns when the
// terminal event has been delivered.
func (s *MockSession) SendUserMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	if s.streaming || s.Busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.streaming = true
	s.sent = append(s.sent, text)
	script := append([]Event(nil), s.script...)
	block := s.Block
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sawTurnEnd := false
	for _, ev := range script {
		if ev.Kind == EventTurnEnd {
			sawTurnEnd = true
		}
		s.emit(ev)
	}
	if !sawTurnEnd {
		s.emit(Event{Kind: EventTurnEnd})
	}
	return nil
}

func (s *MockSession) emit(ev Event) {
	s.mu.Lock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Subscribe attaches fn and returns its detach function.
func (s *MockSession) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// IsStreaming reports whether a turn is in flight (or Busy is pinned).
func (s *MockSession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming || s.Busy
}

// Cancel records the cooperative cancellation request.
func (s *MockSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
}

// Canceled reports whether Cancel was called.
func (s *MockSession) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Close marks the session closed.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sent returns every user message delivered to this session.
func (s *MockSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
