package enqueuer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/bus"
	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
)

func newTestEnqueuer(t *testing.T, handler http.HandlerFunc) (*Enqueuer, chan int64, chan int64, *eventqueue.Queue) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rc, err := restclient.New(restclient.Config{
		BaseURL: srv.URL,
		APIKey:  "public",
		Secret:  "key",
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	runQ := make(chan int64, 4)
	killQ := make(chan int64, 4)
	events := eventqueue.New()

	e := New(Config{
		REST:           rc,
		Paths:          Paths{Worker: "/api/v1/worker/", Run: "/api/v1/run/", KillRequest: "/api/v1/kill_request/"},
		Events:         events,
		RunQueue:       runQ,
		KillQueue:      killQ,
		WorkerVersion:  "test",
		ConcurrentJobs: 4,
		Logger:         zap.NewNop(),
	})
	return e, runQ, killQ, events
}

func TestHandleEnqueueDuplicateDropped(t *testing.T) {
	patchCount := 0
	e, runQ, _, events := newTestEnqueuer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/run/1/":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":1,"resource_uri":"/api/v1/run/1/","enqueue_dts":"2026-01-01 00:00:00+00:00"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/worker/":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"meta":{"next":null},"objects":[{"resource_uri":"/api/v1/worker/1/"}]}`))
		case r.Method == http.MethodPatch:
			patchCount++
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	runID := int64(1)
	e.HandleFrame(context.Background(), mustFrame(t, bus.BroadcastTopic("x"), map[string]any{"action": "enqueue", "run_id": runID}))

	require.Equal(t, 0, patchCount, "duplicate enqueue must not PATCH")
	require.Equal(t, 0, events.Len())
	select {
	case <-runQ:
		t.Fatal("duplicate enqueue must not be pushed to run queue")
	default:
	}
}

func TestHandleEnqueueFreshRunPushesAndEmits(t *testing.T) {
	e, runQ, _, events := newTestEnqueuer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/run/2/":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":2,"resource_uri":"/api/v1/run/2/","enqueue_dts":null}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/worker/":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"meta":{"next":null},"objects":[{"resource_uri":"/api/v1/worker/1/"}]}`))
		case r.Method == http.MethodPatch:
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	runID := int64(2)
	e.HandleFrame(context.Background(), mustFrame(t, bus.BroadcastTopic("x"), map[string]any{"action": "enqueue", "run_id": runID}))

	select {
	case id := <-runQ:
		require.Equal(t, runID, id)
	case <-time.After(time.Second):
		t.Fatal("expected run id pushed to queue")
	}
	require.Equal(t, 1, events.Len())
	ev, ok := events.TryPop()
	require.True(t, ok)
	require.Equal(t, "enqueued", ev.Event)
	require.Equal(t, runID, *ev.RunID)
}

func mustFrame(t *testing.T, topic string, payload any) bus.Frame {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Frame{Topic: topic, Payload: raw}
}
