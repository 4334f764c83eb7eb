package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pookie0613/astech-api-gateway/internal/clock"
	"github.com/pookie0613/astech-api-gateway/internal/gatewaymsg"
	"github.com/pookie0613/astech-api-gateway/internal/queue"
)

type fakeHealth struct {
	available map[string]bool
	urls      map[string]string
}

func (f *fakeHealth) IsAvailable(ctx context.Context, service string) bool {
	return f.available[service]
}

func (f *fakeHealth) URLOf(service string) (string, bool) {
	u, ok := f.urls[service]
	return u, ok
}

func newTestStore(t *testing.T) queue.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.NewRedisStoreWithClient(client)
}

func TestForward_HealthyUpstream_RelaysStatusAndBodyVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/trainees/7", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":7,"name":"X"}`))
	}))
	defer upstream.Close()

	store := newTestStore(t)
	health := &fakeHealth{available: map[string]bool{"trainees": true}, urls: map[string]string{"trainees": upstream.URL}}
	p := New(health, store, queue.NewCacheFallback(time.Hour), 5*time.Second, clock.Real{}, zap.NewNop())

	req := Request{Method: http.MethodGet, Service: "trainees", Endpoint: "/trainees/7"}
	outcome, err := p.Forward(context.Background(), req, upstream.URL)

	require.NoError(t, err)
	require.True(t, outcome.Forwarded)
	require.Equal(t, http.StatusOK, outcome.StatusCode)
	require.JSONEq(t, `{"id":7,"name":"X"}`, string(outcome.Body))

	length, _ := store.Length(context.Background(), gatewaymsg.Main)
	require.EqualValues(t, 0, length, "happy path must not touch the queue")
}

func TestForward_UnhealthyMutating_Enqueues(t *testing.T) {
	store := newTestStore(t)
	health := &fakeHealth{available: map[string]bool{"exams": false}, urls: map[string]string{"exams": "http://exams"}}
	p := New(health, store, queue.NewCacheFallback(time.Hour), 5*time.Second, clock.Real{}, zap.NewNop())

	req := Request{Method: http.MethodPost, Service: "exams", Endpoint: "/exams", Body: map[string]interface{}{"name": "X"}}
	outcome, err := p.Forward(context.Background(), req, "http://exams")

	require.NoError(t, err)
	require.False(t, outcome.Forwarded)
	require.True(t, outcome.Queued)
	require.NotEmpty(t, outcome.MessageID)

	length, _ := store.Length(context.Background(), gatewaymsg.Main)
	require.EqualValues(t, 1, length)
}

func TestForward_UnhealthyNonMutating_FailsFastWithoutQueueing(t *testing.T) {
	store := newTestStore(t)
	health := &fakeHealth{available: map[string]bool{"trainees": false}, urls: map[string]string{"trainees": "http://trainees"}}
	p := New(health, store, queue.NewCacheFallback(time.Hour), 5*time.Second, clock.Real{}, zap.NewNop())

	req := Request{Method: http.MethodGet, Service: "trainees", Endpoint: "/trainees"}
	outcome, err := p.Forward(context.Background(), req, "http://trainees")

	require.NoError(t, err)
	require.False(t, outcome.Forwarded)
	require.False(t, outcome.Queued)

	length, _ := store.Length(context.Background(), gatewaymsg.Main)
	require.EqualValues(t, 0, length)
}

type failingStore struct{ queue.Store }

func (failingStore) Push(ctx context.Context, queueName string, msg gatewaymsg.Message) error {
	return errors.New("backend unreachable")
}

func TestForward_QueueBackendDown_FallsBackToCache(t *testing.T) {
	health := &fakeHealth{available: map[string]bool{"exams": false}, urls: map[string]string{"exams": "http://exams"}}
	cache := queue.NewCacheFallback(time.Hour)
	p := New(health, failingStore{}, cache, 5*time.Second, clock.Real{}, zap.NewNop())

	req := Request{Method: http.MethodPost, Service: "exams", Endpoint: "/exams", Body: map[string]interface{}{"name": "X"}}
	outcome, err := p.Forward(context.Background(), req, "http://exams")

	require.NoError(t, err)
	require.False(t, outcome.Queued)
	require.True(t, outcome.Cached)
	require.NotEmpty(t, outcome.MessageID)

	_, ok := cache.Get(outcome.MessageID)
	require.True(t, ok)
}

func TestFromHTTP_BuildsRequestFromLiveHTTPRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/exams", nil)
	r.Header.Set("Authorization", "Bearer secret")
	r.Header.Set("User-Agent", "test-agent")
	r.URL.RawQuery = url.Values{"limit": {"10"}}.Encode()

	req := FromHTTP(r, "exams", "/exams")

	require.Equal(t, "POST", req.Method)
	require.Equal(t, "exams", req.Service)
	require.Equal(t, "test-agent", req.UserAgent)
	require.Equal(t, "10", req.Query["limit"])
	require.NotEmpty(t, req.RequestID)
}
