package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/bus"
	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/model"
)

func TestPublisherDrainsFIFOThenStopsOnSecondSignal(t *testing.T) {
	var upgrader websocket.Upgrader
	received := make(chan bus.Frame, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var f bus.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			received <- f
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	busPub := bus.NewPublisher(wsURL, zap.NewNop())
	defer busPub.Close()

	events := eventqueue.New()
	events.Push(model.RunEnqueued(1))
	events.Push(model.RunStarted(1))
	events.Push(model.RunReturned(1))

	pub := New(busPub, events, nil, zap.NewNop())

	stopDraining := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx, stopDraining) }()

	var order []string
	for i := 0; i < 3; i++ {
		select {
		case f := <-received:
			var ev model.Event
			require.NoError(t, json.Unmarshal(f.Payload, &ev))
			order = append(order, ev.Event)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Equal(t, []string{"enqueued", "started", "returned"}, order)

	close(stopDraining)
	require.NoError(t, <-done)
}
