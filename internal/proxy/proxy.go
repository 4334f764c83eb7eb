// Package proxy implements the gateway's front door: given a resolved
// (service, endpoint) and a live request, it either forwards directly,
// enqueues (mutating requests against an unhealthy service), or fails
// fast (non-mutating requests against an unhealthy service), per the
// decision table in spec.md §4.3.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pookie0613/astech-api-gateway/internal/clock"
	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
	"github.com/pookie0613/astech-api-gateway/internal/queue"
	"github.com/pookie0613/astech-api-gateway/internal/upstream"
)

// HealthChecker is the subset of health.Registry the proxy needs.
type HealthChecker interface {
	IsAvailable(ctx context.Context, service string) bool
	URLOf(service string) (string, bool)
}

// Outcome describes what the proxy did with a request, for the
// handler layer (internal/server) to turn into an HTTP response.
type Outcome struct {
	// Forwarded is true when the upstream was actually called.
	Forwarded  bool
	StatusCode int
	Body       []byte

	// Queued/Cached describe the unavailable-upstream path.
	Queued    bool
	Cached    bool
	MessageID string
}

// Proxy is the forwarding front door described in spec.md §4.3.
type Proxy struct {
	health  HealthChecker
	store   queue.Store
	cache   *queue.CacheFallback
	caller  *upstream.Caller
	clock   clock.Clock
	logger  *zap.Logger
}

// New builds a Proxy.
func New(health HealthChecker, store queue.Store, cache *queue.CacheFallback, forwardTimeout time.Duration, clk clock.Clock, logger *zap.Logger) *Proxy {
	return &Proxy{
		health: health,
		store:  store,
		cache:  cache,
		caller: upstream.NewCaller(forwardTimeout),
		clock:  clk,
		logger: logger,
	}
}

// Request carries the subset of an inbound HTTP request the proxy
// needs, decoupling it from net/http so it is trivially testable.
type Request struct {
	Method         string
	Service        string
	Endpoint       string
	Headers        map[string]string
	Query          map[string]interface{}
	Body           map[string]interface{}
	IPAddress      string
	UserAgent      string
	RequestID      string
	Authorization  string
	XRequestedWith string
}

// FromHTTP builds a Request from a live *http.Request already routed
// to (service, endpoint).
func FromHTTP(r *http.Request, service, endpoint string) Request {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	query := make(map[string]interface{}, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) == 1 {
			query[k] = v[0]
		} else {
			query[k] = v
		}
	}

	var body map[string]interface{}
	if r.Method != http.MethodGet && r.Body != nil {
		raw, err := io.ReadAll(r.Body)
		if err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}

	return Request{
		Method:         strings.ToUpper(r.Method),
		Service:        service,
		Endpoint:       endpoint,
		Headers:        headers,
		Query:          query,
		Body:           body,
		IPAddress:      ip,
		UserAgent:      r.Header.Get("User-Agent"),
		RequestID:      requestID,
		Authorization:  r.Header.Get("Authorization"),
		XRequestedWith: r.Header.Get("X-Requested-With"),
	}
}

// Forward implements the decision table in spec.md §4.3.
func (p *Proxy) Forward(ctx context.Context, req Request, baseURL string) (Outcome, error) {
	if p.health.IsAvailable(ctx, req.Service) {
		outcome, err := p.callUpstream(ctx, req, baseURL)
		if err == nil {
			return outcome, nil
		}
		p.logger.Warn("direct upstream call failed, falling through to unavailable path",
			zap.String("service", req.Service), zap.Error(err))
	}

	if !gatewaymsg.Mutating(req.Method) {
		return Outcome{Queued: false}, nil
	}

	return p.enqueue(ctx, req)
}

func (p *Proxy) callUpstream(ctx context.Context, req Request, baseURL string) (Outcome, error) {
	var payload interface{}
	if req.Method == http.MethodGet {
		payload = req.Query
	} else {
		payload = req.Body
	}

	result, err := upstream.Call(ctx, p.caller, baseURL, req.Endpoint, req.Method, req.Headers, payload)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Forwarded:  true,
		StatusCode: result.StatusCode,
		Body:       result.Body,
	}, nil
}

func (p *Proxy) enqueue(ctx context.Context, req Request) (Outcome, error) {
	msg := gatewaymsg.New(gatewaymsg.NewParams{
		Service:        req.Service,
		Endpoint:       req.Endpoint,
		Method:         req.Method,
		Data:           req.Body,
		Headers:        req.Headers,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		RequestID:      req.RequestID,
		Authorization:  req.Authorization,
		XRequestedWith: req.XRequestedWith,
		Now:            p.clock.Now(),
	})

	if err := p.store.Push(ctx, gatewaymsg.Main, msg); err != nil {
		p.logger.Error("queue backend unreachable, falling back to cache", zap.Error(err))
		p.cache.Put(msg)
		return Outcome{Queued: false, Cached: true, MessageID: msg.ID}, nil
	}

	return Outcome{Queued: true, MessageID: msg.ID}, nil
}
