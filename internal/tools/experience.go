// ABOUTME: Tool for persisting agent experience notes as JSONL under the agent dir
// ABOUTME: Also provides the read-back used to prepend past experience to prompts

package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const experienceFile = "experience.jsonl"

// experienceContextLimit caps how many recent entries are replayed into a
// new session's context.
const experienceContextLimit = 20

const saveExperiencePromptDoc = `## Save Experience Tool

Use ` + "`save_experience`" + ` to record a lesson, preference, or fact worth
remembering across sessions. Saved entries are replayed to you at the start
of future conversations.

Arguments: {"topic": "short label", "content": "what to remember"}`

// ExperienceEntry is one persisted note.
type ExperienceEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic,omitempty"`
	Content   string    `json:"content"`
}

type saveExperienceArgs struct {
	Topic   string `json:"topic,omitempty"`
	Content string `json:"content"`
}

// SaveExperienceTool appends experience entries to a JSONL file shared by
// every session of the agent.
type SaveExperienceTool struct {
	agentDir string
	logger   *slog.Logger

	mu sync.Mutex
}

// NewSaveExperienceTool creates the tool bound to one agent directory.
func NewSaveExperienceTool(agentDir string, logger *slog.Logger) *SaveExperienceTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveExperienceTool{
		agentDir: agentDir,
		logger:   logger.With("component", "save-experience-tool"),
	}
}

// Name implements runtime.Tool.
func (t *SaveExperienceTool) Name() string { return "save_experience" }

// PromptDoc implements runtime.Tool.
func (t *SaveExperienceTool) PromptDoc() string { return saveExperiencePromptDoc }

// Execute implements runtime.Tool.
func (t *SaveExperienceTool) Execute(_ context.Context, raw json.RawMessage) (string, error) {
	var args saveExperienceArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parsing save_experience arguments: %w", err)
	}
	if strings.TrimSpace(args.Content) == "" {
		return "", errors.New("content is required")
	}

	entry := ExperienceEntry{
		Timestamp: time.Now().UTC(),
		Topic:     args.Topic,
		Content:   args.Content,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encoding experience entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(t.agentDir, 0o755); err != nil {
		return "", fmt.Errorf("creating agent directory: %w", err)
	}
	path := filepath.Join(t.agentDir, experienceFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening experience file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("writing experience entry: %w", err)
	}
	t.logger.Debug("experience saved", "topic", args.Topic)
	return "experience saved", nil
}

// ExperienceContext renders the most recent experience entries as a prompt
// block, or "" when nothing has been saved yet. Unreadable files are treated
// as empty so a corrupt note never blocks a chat.
func ExperienceContext(agentDir string) string {
	entries, err := readExperience(filepath.Join(agentDir, experienceFile))
	if err != nil || len(entries) == 0 {
		return ""
	}
	if len(entries) > experienceContextLimit {
		entries = entries[len(entries)-experienceContextLimit:]
	}

	var b strings.Builder
	b.WriteString("## Remembered Experience\n\nNotes you saved in past sessions:\n")
	for _, e := range entries {
		b.WriteString("- ")
		if e.Topic != "" {
			b.WriteString("[")
			b.WriteString(e.Topic)
			b.WriteString("] ")
		}
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func readExperience(path string) ([]ExperienceEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []ExperienceEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e ExperienceEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
