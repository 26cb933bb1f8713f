// Package publisher drains the event queue onto the bus in FIFO order.
// Grounded almost line for line on
// original_source/job_runner_worker/events.py's publish loop: non-blocking
// dequeue, 500ms sleep when empty, and — critically — continuing to drain
// after the primary shutdown signal fires until the queue is empty and a
// second, independent signal also fires (spec.md §4.8, §4.10, P9).
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/bus"
	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/telemetry"
)

// pollInterval is how long the publisher sleeps when the event queue is
// empty, per spec.md §4.8.
const pollInterval = 500 * time.Millisecond

// Publisher drains events onto a bus.Publisher.
type Publisher struct {
	bus     *bus.Publisher
	events  *eventqueue.Queue
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// New builds a Publisher. metrics may be nil — callers that don't need
// queue-depth reporting (e.g. tests) can omit it.
func New(b *bus.Publisher, events *eventqueue.Queue, metrics *telemetry.Metrics, logger *zap.Logger) *Publisher {
	return &Publisher{bus: b, events: events, metrics: metrics, logger: logger.Named("publisher")}
}

// Run drains events until stopDraining is closed AND the queue is empty, or
// until ctx is cancelled (which returns at once, even with events still
// queued) — the publisher is the one task that
// outlives the primary shutdown signal, per spec.md §5 ("the supervisor
// defers publisher termination until after all executors are quiescent").
//
// stopDraining is the secondary shutdown signal: it must only be closed
// once every producer (enqueuer, run pool, kill executor) has already
// exited, so no further events can be enqueued after it fires.
func (p *Publisher) Run(ctx context.Context, stopDraining <-chan struct{}) error {
	for {
		ev, ok := p.events.TryPop()
		if p.metrics != nil {
			p.metrics.EventQueueDepth.Set(float64(p.events.Len()))
		}
		if !ok {
			select {
			case <-stopDraining:
				return nil
			default:
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
				continue
			}
		}

		frame, err := bus.NewFrame(bus.EventTopic, ev)
		if err != nil {
			p.logger.Error("failed to encode event frame, dropping", zap.Error(err))
			continue
		}

		// Retry the same frame until it publishes, preserving FIFO order —
		// moving on to the next event first would deliver events out of
		// enqueue order.
		for {
			pubErr := p.bus.Publish(ctx, frame)
			if pubErr == nil {
				break
			}
			p.logger.Warn("failed to publish event, retrying", zap.Error(pubErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}
