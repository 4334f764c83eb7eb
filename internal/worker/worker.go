// Package worker drains the request queue in bounded cycles,
// re-checking upstream health, re-executing the upstream call, and
// applying retry/backoff or dead-lettering, per spec.md §4.5.
package worker

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pookie0613/astech-api-gateway/internal/clock"
	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
	"github.com/pookie0613/astech-api-gateway/internal/metrics"
	"github.com/pookie0613/astech-api-gateway/internal/queue"
	"github.com/pookie0613/astech-api-gateway/internal/upstream"
)

// HealthChecker is the subset of health.Registry the worker needs.
type HealthChecker interface {
	IsAvailable(ctx context.Context, service string) bool
	URLOf(service string) (string, bool)
}

// Worker drains queue.Store per the cycle algorithm in spec.md §4.5.
type Worker struct {
	health     HealthChecker
	store      queue.Store
	caller     *upstream.Caller
	metrics    *metrics.Sink
	forensics  *queue.ForensicsStore
	clock      clock.Clock
	logger     *zap.Logger

	mainLimit       int
	deadLetterLimit int

	// sleep is overridden in tests to avoid real backoff delays.
	sleep func(context.Context, time.Duration)
}

// New builds a Worker.
func New(health HealthChecker, store queue.Store, forensics *queue.ForensicsStore, sink *metrics.Sink, forwardTimeout time.Duration, mainLimit, deadLetterLimit int, clk clock.Clock, logger *zap.Logger) *Worker {
	return &Worker{
		health:          health,
		store:           store,
		caller:          upstream.NewCaller(forwardTimeout),
		metrics:         sink,
		forensics:       forensics,
		clock:           clk,
		logger:          logger,
		mainLimit:       mainLimit,
		deadLetterLimit: deadLetterLimit,
		sleep:           sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Backoff computes min(2^retryCount, 60) + uniform_jitter[0,1), per
// spec.md §4.5.1; the cap and the jitter range keep the result below
// 61 seconds for any retryCount.
func Backoff(retryCount int) time.Duration {
	secs := math.Min(math.Pow(2, float64(retryCount)), 60)
	jitter := rand.Float64()
	return time.Duration((secs + jitter) * float64(time.Second))
}

// DrainMain runs one bounded cycle over the main queue (up to
// mainLimit iterations, stopping early once the queue is empty). A
// cycle pops at most as many messages as the queue held when it
// started, so a message requeued during the cycle waits for the next.
func (w *Worker) DrainMain(ctx context.Context) {
	limit := w.mainLimit
	if n, err := w.store.Length(ctx, gatewaymsg.Main); err == nil && n < int64(limit) {
		limit = int(n)
	}
	for i := 0; i < limit; i++ {
		msg, ok, err := w.store.Pop(ctx, gatewaymsg.Main)
		if err != nil {
			w.logger.Error("drain main: pop failed, ending cycle", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		w.processMain(ctx, msg)
	}
}

// DrainDeadLetter runs one bounded cycle over the dead-letter queue.
// Per spec.md §4.5 step 2/3, a healthy upstream call that now
// succeeds is processed and dropped; anything else leaves the message
// quarantined (re-pushed unchanged, not consumed).
func (w *Worker) DrainDeadLetter(ctx context.Context) {
	for i := 0; i < w.deadLetterLimit; i++ {
		msg, ok, err := w.store.Pop(ctx, gatewaymsg.DeadLetter)
		if err != nil {
			w.logger.Error("drain dead-letter: pop failed, ending cycle", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		w.processDeadLetter(ctx, msg)
	}
}

func (w *Worker) processMain(ctx context.Context, msg gatewaymsg.Message) {
	if !w.health.IsAvailable(ctx, msg.Service) {
		w.retryOrDeadLetter(ctx, msg)
		return
	}

	result, err := w.callUpstream(ctx, msg)
	if err == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
		w.metrics.IncProcessed()
		return
	}

	w.metrics.IncFailed()
	w.retryOrDeadLetter(ctx, msg)
}

func (w *Worker) processDeadLetter(ctx context.Context, msg gatewaymsg.Message) {
	if !w.health.IsAvailable(ctx, msg.Service) {
		w.requeueUnchanged(ctx, gatewaymsg.DeadLetter, msg)
		return
	}

	result, err := w.callUpstream(ctx, msg)
	if err == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
		w.metrics.IncProcessed()
		return
	}

	w.metrics.IncFailed()
	w.requeueUnchanged(ctx, gatewaymsg.DeadLetter, msg)
}

func (w *Worker) requeueUnchanged(ctx context.Context, queueName string, msg gatewaymsg.Message) {
	if err := w.store.Push(ctx, queueName, msg); err != nil {
		w.logger.Error("re-push quarantined message failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

// retryOrDeadLetter implements spec.md §4.5 step 2 and the invariant
// in §3 ("retry_count ≤ max_retries; equality triggers dead-lettering
// on the next failure"): a message that has already exhausted its
// retries is dead-lettered as-is; otherwise retry_count is
// incremented and the message is requeued with backoff.
func (w *Worker) retryOrDeadLetter(ctx context.Context, msg gatewaymsg.Message) {
	if msg.RetryCount >= msg.MaxRetries {
		w.deadLetter(ctx, msg)
		return
	}
	msg.RetryCount++
	w.requeueWithBackoff(ctx, msg)
}

// requeueWithBackoff blocks for the computed delay (single-worker
// model per spec.md §9) then re-pushes to the head of the main queue.
func (w *Worker) requeueWithBackoff(ctx context.Context, msg gatewaymsg.Message) {
	delay := Backoff(msg.RetryCount)
	w.sleep(ctx, delay)

	if err := w.store.Push(ctx, gatewaymsg.Main, msg); err != nil {
		w.logger.Error("requeue with backoff failed", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	w.metrics.IncRetried()
}

func (w *Worker) deadLetter(ctx context.Context, msg gatewaymsg.Message) {
	now := w.clock.Now()
	msg.DeadLetterAt = &now

	if err := w.store.Push(ctx, gatewaymsg.DeadLetter, msg); err != nil {
		w.logger.Error("dead-letter push failed", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	w.metrics.IncDeadLettered()
	w.forensics.Record(msg)
}

func (w *Worker) callUpstream(ctx context.Context, msg gatewaymsg.Message) (upstream.Result, error) {
	base, ok := w.health.URLOf(msg.Service)
	if !ok {
		return upstream.Result{}, errUnknownService(msg.Service)
	}
	var payload interface{}
	if msg.Method != http.MethodGet {
		payload = msg.Data
	}
	return upstream.Call(ctx, w.caller, base, msg.Endpoint, msg.Method, msg.Headers, payload)
}

type errUnknownService string

func (e errUnknownService) Error() string { return "worker: unknown service " + string(e) }

// RetryOne implements spec.md §4.5.3: remove the message from queueName,
// clear its retry state, and execute it once synchronously. It
// returns whether the message was found and whether execution
// succeeded (2xx).
func (w *Worker) RetryOne(ctx context.Context, queueName, id string) (found bool, succeeded bool, err error) {
	msg, err := w.store.Remove(ctx, queueName, id)
	if err != nil {
		if err == queue.ErrNotFound {
			return false, false, nil
		}
		return false, false, err
	}

	msg.RetryCount = 0
	msg.DeadLetterAt = nil

	if !w.health.IsAvailable(ctx, msg.Service) {
		w.retryOrDeadLetter(ctx, msg)
		return true, false, nil
	}

	result, callErr := w.callUpstream(ctx, msg)
	if callErr == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
		w.metrics.IncProcessed()
		return true, true, nil
	}

	w.metrics.IncFailed()
	w.retryOrDeadLetter(ctx, msg)
	return true, false, nil
}
