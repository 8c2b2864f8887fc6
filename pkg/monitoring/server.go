// Package monitoring exposes the engine's debug-info accessor and a
// health endpoint over HTTP, grounded on the chi-routed status server
// pattern used elsewhere in this ecosystem.
package monitoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shrtyk/rsm-core/api"
)

const defaultShutdownTimeout = 5 * time.Second

// DebugInfoProvider is implemented by *rsm.Engine[T, D] for any T, D.
type DebugInfoProvider interface {
	DebugInfo(ctx context.Context) api.DebugInfo
}

type Server struct {
	engine DebugInfoProvider
	log    *slog.Logger
	addr   string
	srv    *http.Server
}

func NewServer(engine DebugInfoProvider, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, addr: addr, log: log}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/debug/rsm", s.handleDebugInfo)
	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("monitoring server error", api.ErrAttr(err))
		}
	}()
	s.log.Info("monitoring server started", slog.String("addr", s.addr))
	return nil
}

func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", api.ErrAttr(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDebugInfo(w http.ResponseWriter, r *http.Request) {
	info := s.engine.DebugInfo(r.Context())
	s.writeJSON(w, http.StatusOK, info)
}
