// Package supervisor runs the worker's primary tasks and restarts any that
// crash, implementing the first phase of the two-phase shutdown spec.md
// §4.10 describes. The restart-map design follows spec.md §9's note
// directly. The primary shutdown signal is the context.Context passed to
// RunPrimary (derived from the process's signal context); the secondary
// signal is not handled here — it is a channel the caller closes once
// RunPrimary has returned (see cmd/worker). This is the idiomatic Go
// substitute for the source's "raise a queue signal N times" trick, which
// exists there only because Python's task model has no broadcast
// cancellation primitive.
package supervisor

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Task is a supervised unit of work. It must return promptly once ctx is
// cancelled; any other return (nil or error) before that is treated as a
// crash and respawned.
type Task func(ctx context.Context) error

// Supervisor restarts a named Task whenever it exits before ctx is done.
type Supervisor struct {
	logger *zap.Logger
}

// New builds a Supervisor.
func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger.Named("supervisor")}
}

// Supervise runs factory repeatedly under name until ctx is cancelled. It
// blocks — callers run it in its own goroutine.
func (s *Supervisor) Supervise(ctx context.Context, name string, factory Task) {
	for {
		err := factory(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("task crashed, respawning", zap.String("task", name), zap.Error(err))
			continue
		}
		s.logger.Warn("task exited unexpectedly, respawning", zap.String("task", name))
	}
}

// RunPrimary spawns every primary task (enqueuer, each run-pool worker,
// the kill executor) under supervision and blocks until ctx is cancelled
// and all of them have returned.
func (s *Supervisor) RunPrimary(ctx context.Context, tasks map[string]Task) {
	var wg sync.WaitGroup
	for name, task := range tasks {
		wg.Add(1)
		go func(name string, task Task) {
			defer wg.Done()
			s.Supervise(ctx, name, task)
		}(name, task)
	}
	<-ctx.Done()
	wg.Wait()
}
