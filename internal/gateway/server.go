// ABOUTME: Gateway assembly: port discovery, backend supervision, HTTP listener
// ABOUTME: Owns startup order and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openbot/openbot-gateway/internal/backend"
	"github.com/openbot/openbot-gateway/internal/config"
	"github.com/openbot/openbot-gateway/internal/runtime"
	"github.com/openbot/openbot-gateway/internal/schedule"
	"github.com/openbot/openbot-gateway/internal/session"
	"github.com/openbot/openbot-gateway/internal/supervisor"
)

const shutdownGrace = 10 * time.Second

// Server is the assembled gateway: supervised backend, session registry,
// socket protocol server and HTTP front door.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	sup         *supervisor.Supervisor
	backend     *backend.Client
	broadcaster *session.Broadcaster
	registry    *session.Registry
	runner      *schedule.Runner
	socket      *SocketServer

	httpSrv  *http.Server
	listener net.Listener
}

// New wires the gateway from configuration and an agent runtime. A free
// backend port is discovered here; failure to find one is startup-fatal.
func New(cfg *config.Config, rt runtime.Runtime, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	port, err := supervisor.FindFreePort(cfg.Backend.PortBase)
	if err != nil {
		return nil, fmt.Errorf("finding backend port: %w", err)
	}

	backendURL := &url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}
	be := backend.New(backendURL.String(), cfg.Backend.APIPrefix, logger)

	broadcaster := session.NewBroadcaster(logger)
	registry := session.NewRegistry(rt, be, broadcaster, cfg.Agent.DesktopDir, cfg.Agent.Dir, logger)
	runner := schedule.NewRunner(registry, be, cfg.Schedule.PollInterval, cfg.Schedule.IdleTimeout, logger)
	socket := NewSocketServer(registry, logger)

	router := newRouter(routerDeps{
		socket:    socket,
		runner:    runner,
		backend:   backendURL,
		apiPrefix: cfg.Backend.APIPrefix,
		staticDir: cfg.Static.Dir,
		agentDir:  cfg.Agent.Dir,
		logger:    logger,
	})

	return &Server{
		cfg:         cfg,
		logger:      logger.With("component", "gateway"),
		sup:         supervisor.New(cfg.Backend.Command, cfg.Backend.Entry, cfg.Backend.Args, port, logger),
		backend:     be,
		broadcaster: broadcaster,
		registry:    registry,
		runner:      runner,
		socket:      socket,
		httpSrv:     &http.Server{Handler: router},
	}, nil
}

// Registry exposes the session registry, mainly for introspection commands.
func (s *Server) Registry() *session.Registry { return s.registry }

// Addr returns the bound front-door address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Server.HTTPAddr
	}
	return s.listener.Addr().String()
}

// Start spawns the backend child and begins serving the front door. It
// returns once the listener is bound; serving continues in the background
// until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.sup.Start(ctx); err != nil {
		return fmt.Errorf("starting backend: %w", err)
	}

	listener, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = s.sup.Stop(stopCtx)
		return fmt.Errorf("binding %s: %w", s.cfg.Server.HTTPAddr, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	s.logger.Info("gateway started",
		"addr", listener.Addr().String(),
		"backend_port", s.sup.Port(),
		"backend_spawned", !s.sup.Skipped())
	return nil
}

// Shutdown stops the gateway in dependency order: backend child first so no
// new work arrives mid-teardown, then socket connections, sessions, and
// finally the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("gateway shutting down")

	var firstErr error
	if err := s.sup.Stop(ctx); err != nil {
		firstErr = err
		s.logger.Warn("stopping backend failed", "error", err)
	}

	s.socket.CloseAll()
	s.registry.Shutdown()
	s.broadcaster.Close()

	if s.listener != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("gateway stopped")
	return firstErr
}
