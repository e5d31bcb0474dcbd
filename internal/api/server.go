package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/virtual-tryon/internal/config"
	"github.com/JakeFAU/virtual-tryon/internal/metrics"
	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

// TryOnService is the behavior the handlers need from the service layer.
type TryOnService interface {
	ScrapeClothing(ctx context.Context, pageURL string) ([]tryon.ImageCandidate, error)
	TryOn(ctx context.Context, req tryon.TryOnRequest) (tryon.TryOnResult, error)
	Session(ctx context.Context, sessionID string) (tryon.SessionView, error)
}

// ReadinessCheck pings one downstream dependency.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

const readinessTimeout = 2 * time.Second

// Server wires HTTP handlers to the try-on service.
type Server struct {
	router chi.Router
	svc    TryOnService
	checks []ReadinessCheck
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc TryOnService, checks []ReadinessCheck, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		svc:    svc,
		checks: checks,
		logger: logger.Named("api"),
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	r.Use(bodyLimitMiddleware(cfg.Server.MaxRequestBytes))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.root)
		r.Post("/scrape-clothing", s.scrapeClothing)
		r.Post("/virtual-tryon", s.virtualTryOn)
		r.Get("/sessions/{session_id}", s.getSession)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for _, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			failures[check.Name] = err.Error()
			s.logger.Warn("readiness check failed", zap.String("check", check.Name), zap.Error(err))
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello World"})
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type scrapeResponse struct {
	Success bool                   `json:"success"`
	Images  []tryon.ImageCandidate `json:"images"`
}

func (s *Server) scrapeClothing(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusUnprocessableEntity, "url is required")
		return
	}

	images, err := s.svc.ScrapeClothing(r.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		s.fail(w, r, "scrape clothing failed", err, scrapeErrorResponse)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Success: true, Images: images})
}

type tryOnResponse struct {
	Success        bool   `json:"success"`
	ResultImage    string `json:"result_image"`
	ProcessingTime string `json:"processing_time"`
	SessionID      string `json:"session_id"`
	ResultID       string `json:"result_id"`
}

func (s *Server) virtualTryOn(w http.ResponseWriter, r *http.Request) {
	var req tryon.TryOnRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PersonImage) == "" {
		writeError(w, http.StatusUnprocessableEntity, "person_image is required")
		return
	}

	res, err := s.svc.TryOn(r.Context(), req)
	if err != nil {
		s.fail(w, r, "virtual try-on failed", err, tryOnErrorResponse)
		return
	}
	writeJSON(w, http.StatusOK, tryOnResponse{
		Success:        true,
		ResultImage:    res.ResultImage,
		ProcessingTime: res.ProcessingTime,
		SessionID:      res.SessionID,
		ResultID:       res.RecordID,
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	view, err := s.svc.Session(r.Context(), sessionID)
	if err != nil {
		s.fail(w, r, "get session failed", err, sessionErrorResponse)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// decode reads a JSON body into dst, writing the error response itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// fail maps err to a response. An expired request deadline wins over the
// error's own mapping, since fetch timeouts under it look like unreachable sources.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, logMsg string, err error, mapErr func(error) (int, string)) {
	status, msg := mapErr(err)
	if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		status, msg = http.StatusGatewayTimeout, msgTimeout
	}
	s.logFailure(r, logMsg, status, err)
	writeError(w, status, msg)
}

func (s *Server) logFailure(r *http.Request, msg string, status int, err error) {
	fields := []zap.Field{
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, fields...)
		return
	}
	s.logger.Info(msg, fields...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
