// ABOUTME: Lifecycle supervision of the backend child process
// ABOUTME: Spawns with an injected port, forwards output to logs, stops gracefully

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// stopGrace is how long Stop waits after SIGTERM before killing the child.
const stopGrace = 5 * time.Second

// Supervisor runs the backend service as a child process. When the
// configured entry point does not exist the supervisor degrades to a no-op
// so the gateway can front an externally managed backend.
type Supervisor struct {
	command string
	entry   string
	args    []string
	port    int
	logger  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	skipped bool
}

// New creates a supervisor for the given command line. The port is exported
// to the child via the PORT environment variable.
func New(command, entry string, args []string, port int, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		command: command,
		entry:   entry,
		args:    args,
		port:    port,
		logger:  logger.With("component", "supervisor"),
	}
}

// Port returns the port the child was told to listen on.
func (s *Supervisor) Port() int { return s.port }

// Start spawns the child process. A missing entry point is logged and
// skipped rather than failing startup.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("backend already started")
	}

	if s.entry != "" {
		if _, err := os.Stat(s.entry); err != nil {
			s.logger.Warn("backend entry point not found; skipping spawn",
				"entry", s.entry)
			s.skipped = true
			return nil
		}
	}

	args := s.args
	if s.entry != "" {
		args = append([]string{s.entry}, s.args...)
	}
	cmd := exec.Command(s.command, args...)
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(s.port))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching backend stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching backend stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting backend process: %w", err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})

	go s.forward(stdout, slog.LevelInfo)
	go s.forward(stderr, slog.LevelWarn)
	go s.monitor(ctx, cmd)

	s.logger.Info("backend process started",
		"pid", cmd.Process.Pid,
		"port", s.port,
		"command", s.command)
	return nil
}

// Running reports whether a child process is currently alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Skipped reports whether Start declined to spawn a child.
func (s *Supervisor) Skipped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

func (s *Supervisor) forward(r io.Reader, level slog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Log(context.Background(), level, scanner.Text(), "source", "backend")
	}
}

func (s *Supervisor) monitor(ctx context.Context, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	close(done)

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Error("backend process exited", "error", err)
		return
	}
	s.logger.Info("backend process exited cleanly")
}

// Stop terminates the child: SIGTERM first, SIGKILL after the grace period.
// Safe to call when nothing was spawned.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("signaling backend failed", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	case <-ctx.Done():
	}

	s.logger.Warn("backend did not exit in time; killing")
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("killing backend process: %w", err)
	}
	<-done
	return nil
}
