// Package health tracks upstream liveness with a TTL cache, probing
// on demand (or on an operator-triggered forceRefresh) rather than
// strictly on a fixed ticker, per spec.md §4.2.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is a cached liveness result for one service.
type Entry struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Prober performs the actual upstream liveness check. The production
// implementation issues "GET <base>/api/health" with a timeout; tests
// substitute a fake.
type Prober interface {
	Probe(ctx context.Context, baseURL string) (healthy bool, lastError string)
}

// HTTPProber is the production Prober: a 2xx response is healthy,
// anything else (including timeout or connection error) is unhealthy.
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProber builds a Prober with the given per-probe timeout. The
// underlying client has no timeout of its own so the context deadline
// set per call is authoritative.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		Client:  &http.Client{},
		Timeout: timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, baseURL string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return false, err.Error()
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, http.StatusText(resp.StatusCode)
	}
	return true, ""
}

// ServiceURLs resolves a service name to its upstream base URL.
type ServiceURLs interface {
	URLOf(service string) (string, bool)
}

// staticURLs adapts a plain map to ServiceURLs.
type staticURLs map[string]string

func (m staticURLs) URLOf(service string) (string, bool) {
	u, ok := m[service]
	return u, ok
}

// NewStaticURLs wraps a service->baseURL map for use as ServiceURLs.
func NewStaticURLs(m map[string]string) ServiceURLs {
	return staticURLs(m)
}

// Registry caches per-service health, probing lazily when an entry is
// stale. Concurrent probes for the same service are coalesced with a
// per-service mutex rather than a shared singleflight group: the spec
// treats "last writer wins" on an un-deduplicated probe as acceptable,
// so a simple mutex buys deduplication without an extra dependency.
type Registry struct {
	urls   ServiceURLs
	prober Prober
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	entries  map[string]Entry
	inflight map[string]*sync.Mutex
}

// NewRegistry constructs a Registry. ttl is the cache freshness
// window (default 30s per spec.md §3).
func NewRegistry(urls ServiceURLs, prober Prober, ttl time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		urls:     urls,
		prober:   prober,
		ttl:      ttl,
		logger:   logger,
		entries:  make(map[string]Entry),
		inflight: make(map[string]*sync.Mutex),
	}
}

// IsAvailable reports whether service is currently considered
// healthy, probing if the cached entry is stale or absent.
func (r *Registry) IsAvailable(ctx context.Context, service string) bool {
	return r.entryFor(ctx, service).Healthy
}

// URLOf returns the configured base URL for service, if any.
func (r *Registry) URLOf(service string) (string, bool) {
	return r.urls.URLOf(service)
}

// CheckAll returns an entry for every requested service, probing any
// service whose cached entry is absent or older than the TTL, so the
// admin surface never shows a service with no entry at all.
func (r *Registry) CheckAll(ctx context.Context, services []string) map[string]Entry {
	out := make(map[string]Entry, len(services))
	for _, s := range services {
		out[s] = r.entryFor(ctx, s)
	}
	return out
}

// ForceRefresh invalidates the cached entry for service and re-probes
// immediately.
func (r *Registry) ForceRefresh(ctx context.Context, service string) Entry {
	r.mu.Lock()
	delete(r.entries, service)
	r.mu.Unlock()
	return r.entryFor(ctx, service)
}

func (r *Registry) entryFor(ctx context.Context, service string) Entry {
	r.mu.Lock()
	if e, ok := r.entries[service]; ok && time.Since(e.CheckedAt) < r.ttl {
		r.mu.Unlock()
		return e
	}
	lock, ok := r.inflight[service]
	if !ok {
		lock = &sync.Mutex{}
		r.inflight[service] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the per-service lock: another goroutine
	// may have just finished a probe while we waited.
	r.mu.Lock()
	if e, ok := r.entries[service]; ok && time.Since(e.CheckedAt) < r.ttl {
		r.mu.Unlock()
		return e
	}
	r.mu.Unlock()

	entry := r.probe(ctx, service)

	r.mu.Lock()
	r.entries[service] = entry
	r.mu.Unlock()

	return entry
}

func (r *Registry) probe(ctx context.Context, service string) Entry {
	base, ok := r.urls.URLOf(service)
	if !ok {
		return Entry{Healthy: false, CheckedAt: time.Now(), LastError: "unknown service"}
	}

	healthy, lastErr := r.prober.Probe(ctx, base)
	if r.logger != nil {
		if healthy {
			r.logger.Debug("upstream health check passed", zap.String("service", service))
		} else {
			r.logger.Warn("upstream health check failed",
				zap.String("service", service), zap.String("error", lastErr))
		}
	}
	return Entry{Healthy: healthy, CheckedAt: time.Now(), LastError: lastErr}
}
