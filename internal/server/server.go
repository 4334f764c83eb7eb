// Package server wires the client HTTP surface (spec.md §6) using
// chi: gateway liveness, per-service and summarized health, queue
// status/list/process/retry/purge/metrics, and the catch-all
// forwarding route. The host HTTP framework itself is an external
// collaborator per spec.md §1; this package is the thin adapter
// between chi's mux and the core packages' plain-Go APIs.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pookie0613/astech-api-gateway/internal/adminapi"
	"github.com/pookie0613/astech-api-gateway/internal/config"
	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
	"github.com/pookie0613/astech-api-gateway/internal/health"
	"github.com/pookie0613/astech-api-gateway/internal/proxy"
	"github.com/pookie0613/astech-api-gateway/internal/router"
)

// Server holds the dependencies the HTTP handlers need.
type Server struct {
	cfg    config.Config
	proxy  *proxy.Proxy
	health *health.Registry
	admin  *adminapi.API
	logger *zap.Logger
	mux    *chi.Mux
}

// New builds a Server and mounts every route in spec.md §6.
func New(cfg config.Config, p *proxy.Proxy, reg *health.Registry, admin *adminapi.API, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, proxy: p, health: reg, admin: admin, logger: logger}
	s.mux = chi.NewRouter()
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(s.logRequests)

	s.mux.Get("/metrics", promhttp.Handler().ServeHTTP)

	s.mux.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleGatewayHealth)
		r.Get("/services/health", s.handleAllServicesHealth)
		r.Get("/services/{name}/health", s.handleServiceHealth)

		r.Get("/queue/status", s.handleQueueStatus)
		r.Get("/queue/requests", s.handleListMain)
		r.Get("/queue/dead-letter-requests", s.handleListDeadLetter)
		r.Post("/queue/process", s.handleProcess)
		r.Post("/queue/retry", s.handleRetry)
		r.Post("/queue/purge", s.handlePurge)
		r.Get("/queue/metrics", s.handleMetrics)
		r.Post("/queue/metrics/reset", s.handleMetricsReset)
		r.Get("/queue/health", s.handleQueueHealth)

		r.HandleFunc("/*", s.handleForward)
	})
	s.mux.HandleFunc("/*", s.handleForward)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "astech-api-gateway",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAllServicesHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.CheckAll(r.Context(), servicesOf(s.cfg))
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.cfg.ServiceBaseURL[name]; !ok {
		writeError(w, http.StatusNotFound, "unknown_service", withMessage(name))
		return
	}
	entry := s.health.CheckAll(r.Context(), []string{name})[name]
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":      name,
		"health":       entry,
		"queue_status": s.admin.Status(r.Context()),
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.Status(r.Context()))
}

func (s *Server) handleListMain(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	msgs, err := s.admin.ListMain(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", withMessage(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": msgs})
}

func (s *Server) handleListDeadLetter(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	msgs, err := s.admin.ListDeadLetter(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", withMessage(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": msgs})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.admin.Process(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

type retryRequest struct {
	MessageID string `json:"message_id"`
	QueueType string `json:"queue_type"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", withMessage(err.Error()))
		return
	}
	queueName, ok := normalizeQueueType(req.QueueType)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_queue_type", withMessage(req.QueueType))
		return
	}
	result, err := s.admin.Retry(r.Context(), queueName, req.MessageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", withMessage(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type purgeRequest struct {
	QueueType string `json:"queue_type"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", withMessage(err.Error()))
		return
	}
	queueName, ok := normalizeQueueType(req.QueueType)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_queue_type", withMessage(req.QueueType))
		return
	}
	if err := s.admin.Purge(r.Context(), queueName); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", withMessage(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.Metrics())
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	s.admin.ResetMetrics()
	writeJSON(w, http.StatusOK, s.admin.Metrics())
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.QueueHealth(r.Context()))
}

// handleForward implements the catch-all client route: resolve the
// path via router.Route, then delegate to the proxy, falling back to
// 400 when the first segment (after an optional api/ prefix) is not a
// recognized selector, or 404 when there is no segment at all.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	match, outcome := router.Route(r.URL.Path, s.cfg.SelectorToService)
	hint := "recognized selectors: " + strings.Join(config.RecognizedSelectors(), ", ")
	switch outcome {
	case router.NoSelector:
		writeError(w, http.StatusNotFound, "no_route", withMessage(hint))
		return
	case router.UnrecognizedSelector:
		writeError(w, http.StatusBadRequest, "unrecognized_selector", withMessage(hint))
		return
	}

	baseURL, ok := s.health.URLOf(match.Service)
	if !ok {
		writeError(w, http.StatusInternalServerError, "misconfigured_service", withService(match.Service, match.Endpoint, r.Method))
		return
	}

	req := proxy.FromHTTP(r, match.Service, match.Endpoint)
	outcome, err := s.proxy.Forward(r.Context(), req, baseURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error",
			withMessage(err.Error()), withService(match.Service, match.Endpoint, r.Method))
		return
	}

	switch {
	case outcome.Forwarded:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.StatusCode)
		_, _ = w.Write(outcome.Body)
	case outcome.Queued:
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable",
			withService(match.Service, match.Endpoint, r.Method),
			withQueued(true), withMessageID(outcome.MessageID))
	case outcome.Cached:
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable",
			withService(match.Service, match.Endpoint, r.Method),
			withQueued(false), withCached(true), withMessageID(outcome.MessageID))
	default:
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable",
			withService(match.Service, match.Endpoint, r.Method), withQueued(false))
	}
}

func normalizeQueueType(qt string) (string, bool) {
	switch qt {
	case "main":
		return gatewaymsg.Main, true
	case "dead_letter":
		return gatewaymsg.DeadLetter, true
	default:
		return "", false
	}
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func servicesOf(cfg config.Config) []string {
	out := make([]string, 0, len(cfg.ServiceBaseURL))
	for name := range cfg.ServiceBaseURL {
		out = append(out, name)
	}
	return out
}
