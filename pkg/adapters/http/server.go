// Package http exposes the diffusion service over HTTP and WebSocket.
package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/diffuse/internal/logging"
	"github.com/aretw0/diffuse/pkg/adapters/websocket"
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/observability"
	"github.com/aretw0/diffuse/pkg/service"
	"github.com/aretw0/diffuse/pkg/session"
)

// DefaultReadLimit caps JSON request bodies.
const DefaultReadLimit int64 = 16 << 20

// Config configures the handler.
type Config struct {
	// Version is reported by GET /info.
	Version string

	// ReadLimitBytes caps request bodies. Defaults to DefaultReadLimit.
	ReadLimitBytes int64

	// WebSocket configures streaming connections.
	WebSocket websocket.Config

	Logger *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	Service  *service.Service
	Sessions *session.Registry

	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHandler builds the router. sessions may be nil, in which case a registry bound to
// svc is created.
func NewHandler(svc *service.Service, sessions *session.Registry, cfg Config) http.Handler {
	if cfg.ReadLimitBytes <= 0 {
		cfg.ReadLimitBytes = DefaultReadLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = cfg.ReadLimitBytes
	}
	if sessions == nil {
		sessions = session.NewRegistry(svc)
	}

	s := &Server{
		Service:  svc,
		Sessions: sessions,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  svc.Metrics(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Post("/diffuse", s.Diffuse)
	r.Post("/diffuse/sample", s.Sample)
	r.Get("/diffuse/ws", s.Stream)
	r.Get("/schedule", s.PreviewSchedule)
	r.Get("/schedule/last", s.LastSchedule)
	r.Get("/sessions", s.ListSessions)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument counts requests by route pattern and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		s.metrics.Request(route, code)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"route", route,
			"code", code,
			"duration", time.Since(start),
		)
	})
}

// Diffuse handles POST /diffuse.
func (s *Server) Diffuse(w http.ResponseWriter, r *http.Request) {
	var body service.DiffuseRequest
	if !s.decodeBody(w, r, &body) {
		return
	}

	res, err := s.Service.Diffuse(r.Context(), body)
	if err != nil {
		s.writeError(w, "Diffuse", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// Sample handles POST /diffuse/sample.
func (s *Server) Sample(w http.ResponseWriter, r *http.Request) {
	var body service.SampleRequest
	if !s.decodeBody(w, r, &body) {
		return
	}

	res, err := s.Service.Sample(r.Context(), body)
	if err != nil {
		s.writeError(w, "Sample", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// Stream handles GET /diffuse/ws. The connection is owned by one session until it ends.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Upgrade(w, r, s.cfg.WebSocket)
	if err != nil {
		// The upgrader has already replied.
		s.logger.Warn("Stream: upgrade failed", "err", err)
		return
	}

	if err := s.Sessions.Serve(r.Context(), conn); err != nil {
		s.logger.Debug("Stream: session ended with error", "err", err)
	}
}

// PreviewSchedule handles GET /schedule?steps=&schedule=&beta_start=&beta_end=.
func (s *Server) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var params service.Params
	if err := decodeQuery(r, &params); err != nil {
		s.writeError(w, "PreviewSchedule", err)
		return
	}

	res, err := s.Service.PreviewSchedule(params)
	if err != nil {
		s.writeError(w, "PreviewSchedule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// LastSchedule handles GET /schedule/last.
func (s *Server) LastSchedule(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Service.LastSchedule(r.Context())
	if err != nil {
		s.writeError(w, "LastSchedule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Sessions.List())
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	version := strings.TrimSpace(s.cfg.Version)
	if version == "" {
		version = "unknown"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "diffuse-http",
		"version": version,
	})
}

// -- Helpers --

type errorBody struct {
	Detail string `json:"detail"`
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.ReadLimitBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Detail: "request body too large"})
		case errors.Is(err, io.EOF):
			s.writeJSON(w, http.StatusBadRequest, errorBody{Detail: "empty request body"})
		default:
			s.writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body: " + err.Error()})
		}
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

// decodeQuery maps single-valued query parameters onto v, converting strings as needed.
func decodeQuery(r *http.Request, v any) error {
	raw := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) > 0 && values[0] != "" {
			raw[key] = values[0]
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           v,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return domain.NewConfigError("query", "%v", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case domain.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrScheduleNotRecorded):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "code", code, "err", err)
	}
	s.writeJSON(w, code, errorBody{Detail: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
