// ABOUTME: HTTP front door: health, scheduled tasks, skill install, proxy, static UI
// ABOUTME: Single chi router shared by the socket upgrade and the REST surface

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openbot/openbot-gateway/internal/schedule"
	"github.com/openbot/openbot-gateway/internal/skills"
)

// routerDeps collects everything the front door serves.
type routerDeps struct {
	socket    *SocketServer
	runner    *schedule.Runner
	backend   *url.URL // proxy target, nil disables the proxy
	apiPrefix string
	staticDir string
	agentDir  string
	logger    *slog.Logger
}

// newRouter builds the chi router for the front door. Route precedence:
// exact gateway endpoints first, then the backend proxy prefix, then the
// static UI with its SPA fallback.
func newRouter(d routerDeps) chi.Router {
	logger := d.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/socket", d.socket.Handler())

	r.Post("/run-scheduled-task", runScheduledTaskHandler(d.runner, logger))

	r.Post(d.apiPrefix+"/skills/install-from-path", installSkillHandler(d.agentDir, logger))

	if d.backend != nil {
		proxy := newBackendProxy(d.backend, logger)
		r.Handle(d.apiPrefix+"/*", proxy)
		r.Handle(d.apiPrefix, proxy)
	}

	if d.staticDir != "" {
		r.NotFound(staticHandler(d.staticDir))
	}

	return r
}

func runScheduledTaskHandler(runner *schedule.Runner, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schedule.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		result, err := runner.Run(r.Context(), req)
		if err != nil {
			logger.Warn("scheduled task failed",
				"session_id", req.SessionID,
				"task_id", req.TaskID,
				"error", err)
			if schedule.IsValidation(err) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func installSkillHandler(agentDir string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req skills.InstallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		result, err := skills.Install(agentDir, req)
		if err != nil {
			status := http.StatusInternalServerError
			if skills.IsValidation(err) {
				status = http.StatusBadRequest
			}
			logger.Warn("skill install failed", "path", req.Path, "error", err)
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		logger.Info("skill installed", "name", result.Name, "dir", result.InstallDir)
		writeJSON(w, http.StatusOK, result)
	}
}

// newBackendProxy reverse-proxies API traffic to the supervised backend.
// Proxy failures answer 502 with a JSON body so the UI can distinguish a
// down backend from a backend error.
func newBackendProxy(target *url.URL, logger *slog.Logger) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("backend proxy error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Backend service unavailable"})
	}
	return proxy
}

// staticHandler serves the packaged UI. Unknown paths on HTML-accepting GET
// requests fall back to index.html so client-side routes deep-link.
func staticHandler(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}

		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "text/html") {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
