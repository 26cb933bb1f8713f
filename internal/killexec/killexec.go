// Package killexec implements the kill executor: the single task that
// consumes kill-request IDs, kills the target run's process tree, and
// acknowledges the kill to the control plane. Grounded on spec.md §4.6.
package killexec

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/model"
	"github.com/relaywatch/jobrunner-worker/internal/pidtree"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
	"github.com/relaywatch/jobrunner-worker/internal/telemetry"
)

// Paths holds the REST resource paths the kill executor reads and writes.
type Paths struct {
	Run         string
	KillRequest string
}

// Executor is the single task draining the kill queue.
type Executor struct {
	rest      *restclient.Client
	paths     Paths
	events    *eventqueue.Queue
	killQueue <-chan int64
	metrics   *telemetry.Metrics
	logger    *zap.Logger
}

// Config bundles Executor's dependencies.
type Config struct {
	REST      *restclient.Client
	Paths     Paths
	Events    *eventqueue.Queue
	KillQueue <-chan int64
	Metrics   *telemetry.Metrics
	Logger    *zap.Logger
}

// New builds an Executor.
func New(cfg Config) *Executor {
	return &Executor{
		rest:      cfg.REST,
		paths:     cfg.Paths,
		events:    cfg.Events,
		killQueue: cfg.KillQueue,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.Named("killexec"),
	}
}

// Run pops kill-request IDs until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case killID := <-e.killQueue:
			if err := e.executeKill(ctx, killID); err != nil {
				e.logger.Error("kill execution aborted by REST failure", zap.Int64("kill_request_id", killID), zap.Error(err))
				return err
			}
		}
	}
}

func (e *Executor) executeKill(ctx context.Context, killID int64) error {
	killPath := restclient.JoinID(e.paths.KillRequest, killID)

	var kr model.KillRequest
	if err := e.rest.Get(ctx, killPath, &kr); err != nil {
		return fmt.Errorf("killexec: loading kill request %d: %w", killID, err)
	}

	run, err := kr.Run.Get(ctx, e.rest)
	if err != nil {
		return fmt.Errorf("killexec: loading run for kill request %d: %w", killID, err)
	}

	if run.PID != nil {
		pidtree.Kill(ctx, *run.PID, e.logger)
	} else {
		e.logger.Warn("kill request for run with no recorded pid", zap.Int64("kill_request_id", killID))
	}

	if err := e.rest.Patch(ctx, killPath, map[string]any{"execute_dts": model.Now()}); err != nil {
		return fmt.Errorf("killexec: execute patch for kill request %d: %w", killID, err)
	}

	e.events.Push(model.KillRequestExecuted(killID))
	if e.metrics != nil {
		e.metrics.KillsExecuted.Inc()
	}
	return nil
}
