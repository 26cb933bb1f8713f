package runpool

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

type fakeControlPlane struct {
	mu       sync.Mutex
	run      map[string]any
	job      map[string]any
	patches  []map[string]any
	posted   []map[string]any
	postedRL bool
}

func newFakeControlPlane(scriptContent string) *fakeControlPlane {
	return &fakeControlPlane{
		run: map[string]any{
			"id":           float64(1),
			"resource_uri": "/api/v1/run/1/",
			"job":          "/api/v1/job/1/",
			"run_log":      "",
		},
		job: map[string]any{
			"resource_uri":   "/api/v1/job/1/",
			"script_content": scriptContent,
		},
	}
}

func (f *fakeControlPlane) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/run/1/":
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(f.run)

		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/job/1/":
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(f.job)

		case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/run/1/":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.patches = append(f.patches, body)
			w.WriteHeader(http.StatusAccepted)

		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/run_log/":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.posted = append(f.posted, body)
			f.postedRL = true
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestPool(t *testing.T, fcp *fakeControlPlane) (*Pool, chan int64, *eventqueue.Queue) {
	t.Helper()
	srv := httptest.NewServer(fcp.handler())
	t.Cleanup(srv.Close)

	rc, err := restclient.New(restclient.Config{BaseURL: srv.URL, APIKey: "k", Secret: "s", Logger: zap.NewNop()})
	require.NoError(t, err)

	runQ := make(chan int64, 1)
	events := eventqueue.New()

	pool := New(Config{
		REST:        rc,
		Paths:       Paths{Run: "/api/v1/run/", RunLog: "/api/v1/run_log/"},
		Events:      events,
		RunQueue:    runQ,
		TempDir:     t.TempDir(),
		MaxLogBytes: 819200,
		Logger:      zap.NewNop(),
	})
	return pool, runQ, events
}

func TestExecuteRunHappyPath(t *testing.T) {
	fcp := newFakeControlPlane("#!/usr/bin/env bash\necho \"Hello World!\";\n")
	pool, runQ, events := newTestPool(t, fcp)

	runQ <- 1
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		fcp.mu.Lock()
		defer fcp.mu.Unlock()
		return len(fcp.patches) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	fcp.mu.Lock()
	defer fcp.mu.Unlock()
	require.True(t, fcp.postedRL)
	last := fcp.patches[len(fcp.patches)-1]
	require.Equal(t, true, last["return_success"])

	require.Equal(t, 2, events.Len())
}

func TestExecuteRunBadShebang(t *testing.T) {
	fcp := newFakeControlPlane("#!I love cheese\n")
	pool, runQ, _ := newTestPool(t, fcp)

	runQ <- 1
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		fcp.mu.Lock()
		defer fcp.mu.Unlock()
		return len(fcp.patches) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	fcp.mu.Lock()
	defer fcp.mu.Unlock()
	// Setup failed, so no pid PATCH: only start_dts and the terminal PATCH.
	require.Len(t, fcp.patches, 2)
	last := fcp.patches[len(fcp.patches)-1]
	require.Equal(t, false, last["return_success"])
	require.Len(t, fcp.posted, 1)
	content, _ := fcp.posted[0]["content"].(string)
	require.Contains(t, content, "Could not execute job")
}
