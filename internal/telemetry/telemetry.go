// Package telemetry wires up the Prometheus metrics the worker exposes on
// its /metrics endpoint. Grounded on server/go.mod declaring
// github.com/prometheus/client_golang without a single importing file in
// the teacher repository — this worker wires that dependency up for real.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds every counter/gauge the worker updates during its
// lifecycle.
type Metrics struct {
	RunsStarted     prometheus.Counter
	RunsReturned    prometheus.Counter
	RunsFailed      prometheus.Counter
	KillsExecuted   prometheus.Counter
	EventQueueDepth prometheus.Gauge
	RunQueueDepth   prometheus.Gauge
}

// New registers and returns the worker's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_worker_runs_started_total",
			Help: "Total number of runs that began executing.",
		}),
		RunsReturned: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_worker_runs_returned_total",
			Help: "Total number of runs that reached a terminal state.",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_worker_runs_failed_total",
			Help: "Total number of runs that returned with return_success=false.",
		}),
		KillsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobrunner_worker_kills_executed_total",
			Help: "Total number of kill requests executed.",
		}),
		EventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobrunner_worker_event_queue_depth",
			Help: "Current depth of the outbound event queue.",
		}),
		RunQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobrunner_worker_run_queue_depth",
			Help: "Current depth of the inbound run queue.",
		}),
	}
}

// Server serves /metrics on addr until ctx is cancelled.
func Server(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry: metrics server: %w", err)
	}
}
