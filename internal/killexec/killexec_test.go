package killexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
)

func TestExecuteKillPatchesAndEmits(t *testing.T) {
	var mu sync.Mutex
	var patches []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/kill_request/7/":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":7,"resource_uri":"/api/v1/kill_request/7/","run":"/api/v1/run/5/"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/run/5/":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":5,"resource_uri":"/api/v1/run/5/","pid":999999}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/kill_request/7/":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			patches = append(patches, body)
			mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rc, err := restclient.New(restclient.Config{BaseURL: srv.URL, APIKey: "k", Secret: "s", Logger: zap.NewNop()})
	require.NoError(t, err)

	killQ := make(chan int64, 1)
	events := eventqueue.New()

	exec := New(Config{
		REST:      rc,
		Paths:     Paths{Run: "/api/v1/run/", KillRequest: "/api/v1/kill_request/"},
		Events:    events,
		KillQueue: killQ,
		Logger:    zap.NewNop(),
	})

	killQ <- 7
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(patches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.Equal(t, 1, events.Len())
	ev, ok := events.TryPop()
	require.True(t, ok)
	require.Equal(t, "executed", ev.Event)
	require.Equal(t, int64(7), *ev.KillRequestID)
}
