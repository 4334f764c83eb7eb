// Package metrics implements the gateway's four monotone counters
// (processed, failed, retried, dead_lettered) plus a Prometheus
// mirror exposed on /metrics. The counters themselves are plain
// atomics so AdminAPI's reset() can zero them instantly; Prometheus
// counters cannot be decremented, so they mirror rather than replace
// the authoritative values.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the admin-facing view of the four counters.
type Snapshot struct {
	Processed     uint64 `json:"processed"`
	Failed        uint64 `json:"failed"`
	Retried       uint64 `json:"retried"`
	DeadLettered  uint64 `json:"dead_lettered"`
}

// Sink is the shared counter set. All increments are atomic; Reset
// zeroes all four as a group (spec.md §4.5.4).
type Sink struct {
	processed    uint64
	failed       uint64
	retried      uint64
	deadLettered uint64

	promProcessed    prometheus.Counter
	promFailed       prometheus.Counter
	promRetried      prometheus.Counter
	promDeadLettered prometheus.Counter
}

// NewSink builds a Sink and registers its Prometheus counters against
// reg. Pass prometheus.NewRegistry() in tests to avoid colliding with
// the default global registry across test runs.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		promProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_queue_processed_total",
			Help: "Messages successfully delivered to an upstream after being queued.",
		}),
		promFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_queue_failed_total",
			Help: "Upstream call failures observed while draining the queue.",
		}),
		promRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_queue_retried_total",
			Help: "Messages requeued for another retry attempt.",
		}),
		promDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_queue_dead_lettered_total",
			Help: "Messages moved to the dead-letter queue after exhausting retries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.promProcessed, s.promFailed, s.promRetried, s.promDeadLettered)
	}
	return s
}

func (s *Sink) IncProcessed() {
	atomic.AddUint64(&s.processed, 1)
	s.promProcessed.Inc()
}

func (s *Sink) IncFailed() {
	atomic.AddUint64(&s.failed, 1)
	s.promFailed.Inc()
}

func (s *Sink) IncRetried() {
	atomic.AddUint64(&s.retried, 1)
	s.promRetried.Inc()
}

func (s *Sink) IncDeadLettered() {
	atomic.AddUint64(&s.deadLettered, 1)
	s.promDeadLettered.Inc()
}

// Snapshot returns the current counter values.
func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		Processed:    atomic.LoadUint64(&s.processed),
		Failed:       atomic.LoadUint64(&s.failed),
		Retried:      atomic.LoadUint64(&s.retried),
		DeadLettered: atomic.LoadUint64(&s.deadLettered),
	}
}

// Reset zeroes all four counters, each with its own atomic store; the
// four stores are not one atomic step, so a concurrent Snapshot or
// increment can observe some counters zeroed and others not. It does not
// reset the Prometheus mirrors, since Prometheus counters are
// defined to be monotonic for the lifetime of the process; operators
// wanting a Prometheus-side reset restart the process.
func (s *Sink) Reset() {
	atomic.StoreUint64(&s.processed, 0)
	atomic.StoreUint64(&s.failed, 0)
	atomic.StoreUint64(&s.retried, 0)
	atomic.StoreUint64(&s.deadLettered, 0)
}
