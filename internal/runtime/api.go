// ABOUTME: Production runtime speaking the OpenAI-compatible chat completions API
// ABOUTME: Streams deltas, runs the tool loop, and reports per-turn usage

package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxToolRounds bounds how many model/tool round-trips one turn may take.
const maxToolRounds = 32

// providerBaseURLs maps known provider names to their OpenAI-compatible
// endpoints. An explicit BaseURL in the session config overrides these.
var providerBaseURLs = map[string]string{
	"deepseek": "https://api.deepseek.com/v1",
	"openai":   "https://api.openai.com/v1",
	"moonshot": "https://api.moonshot.cn/v1",
}

// APIRuntime creates sessions backed by an OpenAI-compatible chat
// completions endpoint (OpenAI, DeepSeek, Ollama, vLLM and friends).
type APIRuntime struct {
	logger *slog.Logger
	http   *http.Client
}

// NewAPIRuntime creates the runtime. The HTTP client timeout covers one
// streamed model response, not the whole turn.
func NewAPIRuntime(logger *slog.Logger) *APIRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIRuntime{
		logger: logger.With("component", "runtime"),
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// CreateSession implements Runtime.
func (r *APIRuntime) CreateSession(_ context.Context, cfg SessionConfig) (Session, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[cfg.Provider]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %q has no known endpoint; set a base URL in desktop settings", cfg.Provider)
	}

	toolsByName := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		toolsByName[t.Name()] = t
	}

	s := &apiSession{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    r.http,
		logger:  r.logger.With("model", cfg.Model),
		tools:   toolsByName,
		subs:    make(map[int]func(Event)),
	}
	if cfg.SystemPrompt != "" {
		s.history = append(s.history, chatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	return s, nil
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatRequest struct {
	Model         string          `json:"model"`
	Messages      []chatMessage   `json:"messages"`
	Tools         []chatTool      `json:"tools,omitempty"`
	Stream        bool            `json:"stream"`
	StreamOptions map[string]bool `json:"stream_options,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatToolSpec `json:"function"`
}

type chatToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// apiSession is one live conversation against the completions API.
type apiSession struct {
	cfg     SessionConfig
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	tools   map[string]Tool

	mu         sync.Mutex
	subs       map[int]func(Event)
	nextSub    int
	streaming  bool
	closed     bool
	cancelTurn context.CancelFunc
	history    []chatMessage
}

// SendUserMessage implements Session. The turn loops between the model and
// tool executions until the model stops asking for tools; the terminal
// event is emitted exactly once, including for cancelled turns.
func (s *apiSession) SendUserMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	if s.streaming {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	s.streaming = true
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel
	s.history = append(s.history, chatMessage{Role: "user", Content: text})
	s.mu.Unlock()

	var usage Usage
	defer func() {
		cancel()
		s.mu.Lock()
		s.streaming = false
		s.cancelTurn = nil
		s.mu.Unlock()
		var u *Usage
		if usage.PromptTokens > 0 || usage.CompletionTokens > 0 {
			u = &usage
		}
		s.emit(Event{Kind: EventTurnEnd, Usage: u})
	}()

	for round := 0; round < maxToolRounds; round++ {
		reply, err := s.streamModel(turnCtx)
		if err != nil {
			if turnCtx.Err() != nil {
				// Cancelled turns finish quietly; the terminal event still
				// fires from the deferred block.
				return nil
			}
			return err
		}
		usage.PromptTokens += reply.usage.PromptTokens
		usage.CompletionTokens += reply.usage.CompletionTokens

		s.mu.Lock()
		s.history = append(s.history, chatMessage{
			Role:      "assistant",
			Content:   reply.content,
			ToolCalls: reply.toolCalls,
		})
		s.mu.Unlock()

		if len(reply.toolCalls) == 0 {
			return nil
		}
		for _, tc := range reply.toolCalls {
			s.runTool(turnCtx, tc)
		}
	}
	return fmt.Errorf("turn exceeded %d tool rounds", maxToolRounds)
}

type modelReply struct {
	content   string
	toolCalls []chatToolCall
	usage     Usage
}

// streamModel performs one streamed completions call, emitting deltas as
// they arrive and accumulating tool calls across chunks.
func (s *apiSession) streamModel(ctx context.Context) (*modelReply, error) {
	s.mu.Lock()
	req := chatRequest{
		Model:         s.cfg.Model,
		Messages:      append([]chatMessage(nil), s.history...),
		Stream:        true,
		StreamOptions: map[string]bool{"include_usage": true},
	}
	s.mu.Unlock()
	for _, t := range s.cfg.Tools {
		req.Tools = append(req.Tools, chatTool{
			Type: "function",
			Function: chatToolSpec{
				Name:        t.Name(),
				Description: t.PromptDoc(),
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	reply := &modelReply{}
	var content strings.Builder
	calls := make(map[int]*chatToolCall)
	callArgs := make(map[int]*strings.Builder)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			reply.usage.PromptTokens = chunk.Usage.PromptTokens
			reply.usage.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			s.emit(Event{Kind: EventThinkingDelta, Delta: delta.ReasoningContent})
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			s.emit(Event{Kind: EventTextDelta, Delta: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &chatToolCall{Index: tc.Index, ID: tc.ID, Type: "function"}
				calls[tc.Index] = call
				callArgs[tc.Index] = &strings.Builder{}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			callArgs[tc.Index].WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading model stream: %w", err)
	}

	reply.content = content.String()
	for idx := 0; idx < len(calls); idx++ {
		call, ok := calls[idx]
		if !ok {
			continue
		}
		call.Function.Arguments = callArgs[idx].String()
		reply.toolCalls = append(reply.toolCalls, *call)
	}
	return reply, nil
}

// runTool executes one requested tool call and records the result in the
// conversation. Tool failures are fed back to the model, not raised.
func (s *apiSession) runTool(ctx context.Context, tc chatToolCall) {
	args := json.RawMessage(tc.Function.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	} else if !json.Valid(args) {
		// Providers can mis-stream tool calls and leave the accumulated
		// arguments truncated. Carry them as a JSON string so every
		// downstream consumer still sees valid JSON.
		args, _ = json.Marshal(tc.Function.Arguments)
	}
	s.emit(Event{Kind: EventToolStart, ToolCallID: tc.ID, ToolName: tc.Function.Name, Args: args})

	var result string
	var isError bool
	if tool, ok := s.tools[tc.Function.Name]; ok {
		out, err := tool.Execute(ctx, args)
		if err != nil {
			result = "Error: " + err.Error()
			isError = true
		} else {
			result = out
		}
	} else {
		result = fmt.Sprintf("Error: unknown tool %q", tc.Function.Name)
		isError = true
	}

	s.emit(Event{Kind: EventToolEnd, ToolCallID: tc.ID, ToolName: tc.Function.Name, Args: args, Result: result, IsError: isError})

	s.mu.Lock()
	s.history = append(s.history, chatMessage{
		Role:       "tool",
		Content:    result,
		ToolCallID: tc.ID,
	})
	s.mu.Unlock()
}

func (s *apiSession) emit(ev Event) {
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

// Subscribe implements Session.
func (s *apiSession) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// IsStreaming implements Session.
func (s *apiSession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Cancel implements Session.
func (s *apiSession) Cancel() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close implements Session. Tools holding external resources (the browser)
// are shut down with the session.
func (s *apiSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancelTurn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, t := range s.tools {
		if closer, ok := t.(interface{ Shutdown() }); ok {
			closer.Shutdown()
		}
	}
	return nil
}
