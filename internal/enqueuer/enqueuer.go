// Package enqueuer implements the single dispatch loop that turns inbound
// broadcast frames into run-queue/kill-queue pushes and ping responses. It
// is grounded on original_source/job_runner_worker/enqueuer.py (the
// duplicate-check-then-PATCH-then-push-then-emit sequence) and
// arkeep-io-arkeep/agent/internal/connection/manager.go's jobStreamLoop for
// the receive-decode-dispatch-continue loop shape.
package enqueuer

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/bus"
	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/hoststats"
	"github.com/relaywatch/jobrunner-worker/internal/model"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
	"github.com/relaywatch/jobrunner-worker/internal/telemetry"
)

// Paths holds the REST resource paths the enqueuer reads and writes.
type Paths struct {
	Worker      string
	Run         string
	KillRequest string
}

// Enqueuer dispatches decoded broadcast commands. A single instance is
// owned by one task per spec.md §5 ("the two bus sockets are owned by
// single tasks").
type Enqueuer struct {
	rest          *restclient.Client
	paths         Paths
	events        *eventqueue.Queue
	runQueue      chan<- int64
	killQueue     chan<- int64
	workerVersion string
	concurrentJob int
	metrics       *telemetry.Metrics
	logger        *zap.Logger
}

// Config bundles Enqueuer's dependencies.
type Config struct {
	REST           *restclient.Client
	Paths          Paths
	Events         *eventqueue.Queue
	RunQueue       chan<- int64
	KillQueue      chan<- int64
	WorkerVersion  string
	ConcurrentJobs int
	Metrics        *telemetry.Metrics
	Logger         *zap.Logger
}

// New builds an Enqueuer.
func New(cfg Config) *Enqueuer {
	return &Enqueuer{
		rest:          cfg.REST,
		paths:         cfg.Paths,
		events:        cfg.Events,
		runQueue:      cfg.RunQueue,
		killQueue:     cfg.KillQueue,
		workerVersion: cfg.WorkerVersion,
		concurrentJob: cfg.ConcurrentJobs,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.Named("enqueuer"),
	}
}

// HandleFrame decodes frame and dispatches it by action. It is passed
// directly as the handle callback to bus.Subscriber.Run. Errors are logged,
// not returned — a single malformed or unreachable command must not abort
// the subscriber loop.
func (e *Enqueuer) HandleFrame(ctx context.Context, frame bus.Frame) {
	var cmd model.Command
	if err := json.Unmarshal(frame.Payload, &cmd); err != nil {
		e.logger.Warn("dropping malformed command envelope", zap.Error(err))
		return
	}

	switch cmd.Action {
	case model.ActionEnqueue:
		e.handleEnqueue(ctx, cmd)
	case model.ActionKill:
		e.handleKill(ctx, cmd)
	case model.ActionPing:
		e.handlePing(ctx)
	default:
		e.logger.Warn("dropping command with unknown action", zap.String("action", cmd.Action))
	}
}

func (e *Enqueuer) handleEnqueue(ctx context.Context, cmd model.Command) {
	if cmd.RunID == nil {
		e.logger.Warn("enqueue command missing run_id")
		return
	}
	runID := *cmd.RunID

	worker, err := e.soleWorker(ctx)
	if err != nil {
		e.logger.Warn("enqueue: could not resolve worker", zap.Int64("run_id", runID), zap.Error(err))
		return
	}

	runPath := restclient.JoinID(e.paths.Run, runID)
	var run model.Run
	if err := e.rest.Get(ctx, runPath, &run); err != nil {
		e.logger.Warn("enqueue: failed to load run", zap.Int64("run_id", runID), zap.Error(err))
		return
	}

	// P4 / P1: a run whose enqueue_dts is already set is a duplicate
	// dispatch and must be dropped, not re-enqueued.
	if run.EnqueueDTS != nil {
		e.logger.Warn("dropping duplicate enqueue dispatch", zap.Int64("run_id", runID))
		return
	}

	now := model.Now()
	if err := e.rest.Patch(ctx, runPath, map[string]any{
		"enqueue_dts": now,
		"worker":      worker.ResourceURI,
	}); err != nil {
		e.logger.Warn("enqueue: PATCH failed", zap.Int64("run_id", runID), zap.Error(err))
		return
	}

	select {
	case e.runQueue <- runID:
	case <-ctx.Done():
		return
	}
	if e.metrics != nil {
		e.metrics.RunQueueDepth.Set(float64(len(e.runQueue)))
	}

	e.events.Push(model.RunEnqueued(runID))
}

func (e *Enqueuer) handleKill(ctx context.Context, cmd model.Command) {
	if cmd.KillRequestID == nil {
		e.logger.Warn("kill command missing kill_request_id")
		return
	}
	killID := *cmd.KillRequestID

	killPath := restclient.JoinID(e.paths.KillRequest, killID)
	var kr model.KillRequest
	if err := e.rest.Get(ctx, killPath, &kr); err != nil {
		e.logger.Warn("kill: failed to load kill request", zap.Int64("kill_request_id", killID), zap.Error(err))
		return
	}

	if kr.EnqueueDTS != nil {
		e.logger.Warn("dropping duplicate kill dispatch", zap.Int64("kill_request_id", killID))
		return
	}

	if err := e.rest.Patch(ctx, killPath, map[string]any{"enqueue_dts": model.Now()}); err != nil {
		e.logger.Warn("kill: PATCH failed", zap.Int64("kill_request_id", killID), zap.Error(err))
		return
	}

	select {
	case e.killQueue <- killID:
	case <-ctx.Done():
		return
	}

	e.events.Push(model.KillRequestEnqueued(killID))
}

func (e *Enqueuer) handlePing(ctx context.Context) {
	worker, err := e.soleWorker(ctx)
	if err != nil {
		e.logger.Warn("ping: could not resolve worker", zap.Error(err))
		return
	}

	attrs := map[string]any{
		"ping_response_dts": model.Now(),
		"worker_version":    e.workerVersion,
		"concurrent_jobs":   e.concurrentJob,
	}

	if stats, err := hoststats.Collect(ctx); err != nil {
		e.logger.Warn("ping: host stats collection failed, omitting", zap.Error(err))
	} else {
		attrs["cpu_percent"] = stats.CPUPercent
		attrs["mem_percent"] = stats.MemPercent
		attrs["disk_percent"] = stats.DiskPercent
	}

	if err := e.rest.Patch(ctx, worker.ResourceURI, attrs); err != nil {
		e.logger.Warn("ping: PATCH failed", zap.Error(err))
	}
}

// soleWorker fetches the worker list and returns the single expected
// record, or an error if zero or more than one came back.
func (e *Enqueuer) soleWorker(ctx context.Context) (model.Worker, error) {
	workers, err := restclient.List[model.Worker](ctx, e.rest, e.paths.Worker, nil)
	if err != nil {
		return model.Worker{}, fmt.Errorf("listing workers: %w", err)
	}
	if len(workers) != 1 {
		return model.Worker{}, fmt.Errorf("expected exactly one worker, got %d", len(workers))
	}
	return workers[0], nil
}
