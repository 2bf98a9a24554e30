// Package appserver is the host HTTP surface: health and metrics routes with
// the gateway mounted as the fallback for everything else.
package appserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"assetgate/cli/internal/gateway"
	"assetgate/cli/internal/logging"
)

const statusPath = "/_assetgate/status"

type Deps struct {
	Gateway *gateway.Gateway
	DevMode bool
	Logger  *slog.Logger
	Version string
}

type Server struct {
	router *chi.Mux
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Gateway == nil {
		return nil, routeError("gateway is required")
	}
	lg := deps.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	s := &Server{deps: deps, logger: lg.With("module", "appserver")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get(statusPath, s.handleStatus)
	// /metrics exposes the collectors the gateway records into, so the two
	// cannot drift apart.
	if m := deps.Gateway.Metrics(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	router, err := gateway.Mount(deps.Gateway, r, deps.DevMode)
	if err != nil {
		return nil, err
	}
	s.router = router
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": map[string]any{"service": "assetgate", "status": "ok"}})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g := s.deps.Gateway
	state := g.ProxyState()
	mode := "prod"
	if s.deps.DevMode {
		mode = "dev"
	}
	data := map[string]any{
		"mode":           mode,
		"version":        s.deps.Version,
		"tool":           state.Tool.Name(),
		"hmr_path":       state.Tool.HMRPath(),
		"active_tunnels": g.ActiveTunnels(),
		"registered":     g.Registry().Len(),
	}
	if state.Base != nil {
		data["upstream"] = state.Base.String()
	}
	if src := g.Config().Assets(); src != nil {
		data["assets"] = src.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

// requestLogger attaches a request scoped logger and logs one line per
// request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lg := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), lg)))
		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		lg.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
