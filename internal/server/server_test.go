package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pookie0613/astech-api-gateway/internal/adminapi"
	"github.com/pookie0613/astech-api-gateway/internal/clock"
	"github.com/pookie0613/astech-api-gateway/internal/config"
	"github.com/pookie0613/astech-api-gateway/internal/health"
	"github.com/pookie0613/astech-api-gateway/internal/metrics"
	"github.com/pookie0613/astech-api-gateway/internal/proxy"
	"github.com/pookie0613/astech-api-gateway/internal/queue"
	"github.com/pookie0613/astech-api-gateway/internal/worker"
)

type fakeHTTPProber struct{ healthy bool }

func (f fakeHTTPProber) Probe(ctx context.Context, baseURL string) (bool, string) {
	return f.healthy, ""
}

func newTestServer(t *testing.T, upstreamURL string, healthy bool) (*Server, queue.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := queue.NewRedisStoreWithClient(client)

	cfg := config.Config{
		ServiceBaseURL:    map[string]string{"courses": upstreamURL, "trainees": upstreamURL, "exams": upstreamURL},
		SelectorToService: map[string]string{"courses": "courses", "classes": "courses", "trainees": "trainees", "results": "trainees", "exams": "exams"},
	}

	urls := health.NewStaticURLs(cfg.ServiceBaseURL)
	prober := fakeHTTPProber{healthy: healthy}
	reg := health.NewRegistry(urls, prober, time.Hour, zap.NewNop())

	cache := queue.NewCacheFallback(time.Hour)
	p := proxy.New(reg, store, cache, 5*time.Second, clock.Real{}, zap.NewNop())

	sink := metrics.NewSink(prometheus.NewRegistry())
	forensics := queue.NewForensicsStore(time.Hour)
	w := worker.New(reg, store, forensics, sink, 5*time.Second, 100, 50, clock.Real{}, zap.NewNop())
	admin := adminapi.New(store, reg, sink, w, []string{"courses", "trainees", "exams"})

	return New(cfg, p, reg, admin, zap.NewNop()), store
}

func TestHandleForward_HealthyUpstream_RelaysResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/courses/1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":1}`))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, upstream.URL, true)

	req := httptest.NewRequest(http.MethodGet, "/api/courses/1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":1}`, rec.Body.String())
}

func TestHandleForward_UnrecognizedSelector_Returns400(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused", true)

	req := httptest.NewRequest(http.MethodGet, "/api/bogus/1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "unrecognized_selector", env.Error)
}

func TestHandleForward_EmptyPath_Returns404(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused", true)

	req := httptest.NewRequest(http.MethodGet, "/api/", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleForward_UnhealthyMutating_QueuesAndReturns503(t *testing.T) {
	srv, store := newTestServer(t, "http://unreachable.invalid", false)

	body := []byte(`{"title":"New Course"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/courses", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Queued)
	require.True(t, *env.Queued)
	require.NotEmpty(t, env.MessageID)

	length, _ := store.Length(req.Context(), "main")
	require.EqualValues(t, 1, length)
}

func TestHandleForward_UnhealthyNonMutating_FailsFastWith503(t *testing.T) {
	srv, store := newTestServer(t, "http://unreachable.invalid", false)

	req := httptest.NewRequest(http.MethodGet, "/api/courses", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	length, _ := store.Length(req.Context(), "main")
	require.EqualValues(t, 0, length)
}

func TestHandleGatewayHealth_AlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused", true)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleQueueStatusAndProcess_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused", false)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/process", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/queue/status", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePurge_InvalidQueueTypeReturns400(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused", true)

	req := httptest.NewRequest(http.MethodPost, "/api/queue/purge", bytes.NewReader([]byte(`{"queue_type":"bogus"}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetry_UnknownMessageIDReportsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused", true)

	payload := []byte(`{"message_id":"missing","queue_type":"main"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/queue/retry", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result adminapi.RetryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Found)
}
