package mcpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

// Server serves the HTTP API for one manager.
type Server struct {
	manager *mcpmgr.Manager
	opts    Options

	router  chi.Router
	handler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewServer builds the router for mgr.
func NewServer(mgr *mcpmgr.Manager, opts *Options) (*Server, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpapi: manager is required")
	}
	options := opts.withDefaults()
	s := &Server{manager: mgr, opts: options}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/tools", s.handleTools)
	r.Post("/tools/call", s.handleCall)
	r.Route("/servers/{name}", func(r chi.Router) {
		r.Get("/tools", s.handleServerTools)
		r.Post("/reconnect", s.handleReconnect)
	})
	if options.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(options.Gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r

	s.handler = cors.New(cors.Options{
		AllowedOrigins: options.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)
	return s, nil
}

// Handler exposes the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router exposes the underlying chi router so callers can mount extra routes
// before serving.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		serv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("mcpapi: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.Handler()}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.opts.Logger.Info("api listening", "addr", s.opts.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetStatus())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.manager.HealthCheck()
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.manager.Catalog().Entries(),
	})
}

func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.manager.HasServer(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server": name,
		"tools":  s.manager.ToolsForServer(name),
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.manager.Reconnect(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"server":    name,
			"connected": true,
			"toolCount": len(s.manager.ToolsForServer(name)),
		})
	case errors.Is(err, mcpmgr.ErrServerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, mcpmgr.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, mcpmgr.ErrAttemptInFlight):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.opts.Logger.Warn("manual reconnect failed", "server", name, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var call mcpmgr.ToolCall
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err := dec.Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if call.ServerID == "" || call.ToolName == "" {
		writeError(w, http.StatusBadRequest, "serverId and toolName are required")
		return
	}

	res, err := s.manager.ExecuteTool(r.Context(), call)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
