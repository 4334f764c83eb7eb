// Package adminapi implements the read/control surface over
// QueueStore, HealthRegistry, and metrics described in spec.md §4.6.
// It is deliberately plain Go (no HTTP here) so it is testable without
// a server; internal/server mounts it behind chi routes.
package adminapi

import (
	"context"
	"time"

	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
	"github.com/pookie0613/astech-api-gateway/internal/health"
	"github.com/pookie0613/astech-api-gateway/internal/metrics"
	"github.com/pookie0613/astech-api-gateway/internal/queue"
	"github.com/pookie0613/astech-api-gateway/internal/worker"
)

// degradedThreshold is the main-queue depth above which the queue
// health summary reports at least "degraded" (spec.md §4.6).
const degradedThreshold = 1000

// QueueStatus is the response shape for "queue status".
type QueueStatus struct {
	Connected            bool      `json:"connected"`
	MainDepth            int64     `json:"main_depth"`
	DeadLetterDepth      int64     `json:"dead_letter_depth"`
	RequestQueueDepth    int64     `json:"request_queue_depth"`
	ResponseQueueDepth   int64     `json:"response_queue_depth"`
	DeadLetterQueueDepth int64     `json:"dead_letter_queue_depth"`
	Timestamp            time.Time `json:"timestamp"`
}

// HealthSummary is the derived "healthy|degraded|unhealthy" verdict.
type HealthSummary struct {
	Status   string                  `json:"status"`
	Queue    QueueStatus             `json:"queue"`
	Services map[string]health.Entry `json:"services"`
}

// API wires the admin operations over the core components.
type API struct {
	store    queue.Store
	health   *health.Registry
	metrics  *metrics.Sink
	worker   *worker.Worker
	services []string
}

// New builds an API.
func New(store queue.Store, reg *health.Registry, sink *metrics.Sink, w *worker.Worker, services []string) *API {
	return &API{store: store, health: reg, metrics: sink, worker: w, services: services}
}

// Status reports queue depths and backend connectivity. All three
// historical names (request_queue, response_queue, dead_letter_queue)
// are present in the payload per spec.md §4.4; response_queue is
// always zero since nothing ever writes to it.
func (a *API) Status(ctx context.Context) QueueStatus {
	connected := a.store.Ping(ctx) == nil

	mainDepth, _ := a.store.Length(ctx, gatewaymsg.Main)
	dlDepth, _ := a.store.Length(ctx, gatewaymsg.DeadLetter)

	return QueueStatus{
		Connected:            connected,
		MainDepth:            mainDepth,
		DeadLetterDepth:      dlDepth,
		RequestQueueDepth:    mainDepth,
		ResponseQueueDepth:   0,
		DeadLetterQueueDepth: dlDepth,
		Timestamp:            time.Now(),
	}
}

// ListMain peeks up to limit messages from the main queue.
func (a *API) ListMain(ctx context.Context, limit int) ([]gatewaymsg.Message, error) {
	return a.store.Peek(ctx, gatewaymsg.Main, limit)
}

// ListDeadLetter peeks up to limit messages from the dead-letter queue.
func (a *API) ListDeadLetter(ctx context.Context, limit int) ([]gatewaymsg.Message, error) {
	return a.store.Peek(ctx, gatewaymsg.DeadLetter, limit)
}

// Process triggers one drain cycle over the main queue.
func (a *API) Process(ctx context.Context) {
	a.worker.DrainMain(ctx)
}

// RetryResult is the response shape for a targeted retry.
type RetryResult struct {
	Found     bool `json:"found"`
	Succeeded bool `json:"succeeded"`
}

// Retry implements spec.md §4.5.3 over the given queue ("main" or
// "dead_letter").
func (a *API) Retry(ctx context.Context, queueName, id string) (RetryResult, error) {
	found, succeeded, err := a.worker.RetryOne(ctx, queueName, id)
	if err != nil {
		return RetryResult{}, err
	}
	return RetryResult{Found: found, Succeeded: succeeded}, nil
}

// Purge deletes all messages from queueName.
func (a *API) Purge(ctx context.Context, queueName string) error {
	return a.store.Purge(ctx, queueName)
}

// Metrics returns the current counter snapshot.
func (a *API) Metrics() metrics.Snapshot {
	return a.metrics.Snapshot()
}

// ResetMetrics zeroes all four counters as a group.
func (a *API) ResetMetrics() {
	a.metrics.Reset()
}

// ServiceHealth returns the per-service health snapshot.
func (a *API) ServiceHealth(ctx context.Context) map[string]health.Entry {
	return a.health.CheckAll(ctx, a.services)
}

// QueueHealth derives the summarized healthy/degraded/unhealthy
// verdict described in spec.md §4.6:
//   - main-queue depth > 1000 => degraded
//   - any upstream unhealthy => degraded
//   - all upstreams unhealthy AND queue depth huge => unhealthy
func (a *API) QueueHealth(ctx context.Context) HealthSummary {
	status := a.Status(ctx)
	services := a.ServiceHealth(ctx)

	anyUnhealthy := false
	allUnhealthy := len(services) > 0
	for _, e := range services {
		if !e.Healthy {
			anyUnhealthy = true
		} else {
			allUnhealthy = false
		}
	}

	verdict := "healthy"
	if status.MainDepth > degradedThreshold || anyUnhealthy {
		verdict = "degraded"
	}
	if allUnhealthy && status.MainDepth > degradedThreshold {
		verdict = "unhealthy"
	}

	return HealthSummary{Status: verdict, Queue: status, Services: services}
}
