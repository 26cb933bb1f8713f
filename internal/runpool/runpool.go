// Package runpool implements the run executor pool: N goroutines that
// consume run IDs, materialize the job's script, spawn it under its
// shebang interpreter, capture output, and report the terminal state. It
// is grounded on arkeep-io-arkeep/agent/internal/executor/executor.go's
// Executor shape (generalized from one sequential worker to N pooled
// goroutines), agent/internal/hooks/runner.go for subprocess invocation,
// agent/internal/restic/wrapper.go's runWithProgress for draining a
// child's output without blocking the caller, and
// original_source/job_runner_worker/worker.py for the exact
// materialize-patch-spawn-patch-truncate sequence.
package runpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/model"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
	"github.com/relaywatch/jobrunner-worker/internal/telemetry"
)

// failurePrefix tags a run log body produced by a materialization/spawn
// failure, per spec.md §4.4's closing paragraph.
const failurePrefix = "[job runner worker] Could not execute job: "

// Paths holds the REST resource paths the pool reads and writes.
type Paths struct {
	Run    string
	RunLog string
}

// Pool is a set of identical run-executing workers sharing one run queue.
type Pool struct {
	rest        *restclient.Client
	paths       Paths
	events      *eventqueue.Queue
	runQueue    <-chan int64
	tempDir     string
	maxLogBytes int
	metrics     *telemetry.Metrics
	logger      *zap.Logger
}

// Config bundles Pool's dependencies.
type Config struct {
	REST        *restclient.Client
	Paths       Paths
	Events      *eventqueue.Queue
	RunQueue    <-chan int64
	TempDir     string
	MaxLogBytes int
	Metrics     *telemetry.Metrics
	Logger      *zap.Logger
}

// New builds a Pool. Spawn one goroutine per desired concurrency level,
// each calling Run — the supervisor is responsible for respawning a worker
// goroutine that returns an error.
func New(cfg Config) *Pool {
	return &Pool{
		rest:        cfg.REST,
		paths:       cfg.Paths,
		events:      cfg.Events,
		runQueue:    cfg.RunQueue,
		tempDir:     cfg.TempDir,
		maxLogBytes: cfg.MaxLogBytes,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.Named("runpool"),
	}
}

// Run pops run IDs until ctx is cancelled. It returns ctx.Err() on clean
// shutdown, or a non-nil error if a REST call the control plane treats as
// authoritative (start/return PATCH, log POST/PATCH) exhausts its retries —
// that surfaces as a task crash for the supervisor to respawn, per spec.md
// §7 ("Client-side REST failure ... surfaces to the calling task").
func (p *Pool) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case runID := <-p.runQueue:
			if err := p.executeRun(ctx, runID); err != nil {
				p.logger.Error("run execution aborted by REST failure", zap.Int64("run_id", runID), zap.Error(err))
				return err
			}
		}
	}
}

func (p *Pool) executeRun(ctx context.Context, runID int64) error {
	runPath := restclient.JoinID(p.paths.Run, runID)
	logger := p.logger.With(zap.Int64("run_id", runID))

	var run model.Run
	if err := p.rest.Get(ctx, runPath, &run); err != nil {
		return fmt.Errorf("runpool: loading run %d: %w", runID, err)
	}

	if err := p.rest.Patch(ctx, runPath, map[string]any{"start_dts": model.Now()}); err != nil {
		return fmt.Errorf("runpool: start patch for run %d: %w", runID, err)
	}
	p.events.Push(model.RunStarted(runID))
	if p.metrics != nil {
		p.metrics.RunsStarted.Inc()
	}

	output, exitCode, spawned := p.materializeAndSpawn(ctx, &run, logger)

	// Step 7: reload the run — a prior worker process may have died after
	// posting a RunLog but before reaching return_dts (spec.md §4.9/§9).
	var reloaded model.Run
	if err := p.rest.Get(ctx, runPath, &reloaded); err != nil {
		return fmt.Errorf("runpool: reloading run %d: %w", runID, err)
	}

	truncated := truncate(output, p.maxLogBytes)
	if err := p.postLog(ctx, runPath, reloaded, truncated); err != nil {
		return fmt.Errorf("runpool: posting log for run %d: %w", runID, err)
	}

	returnSuccess := spawned && exitCode == 0
	if err := p.rest.Patch(ctx, runPath, map[string]any{
		"return_dts":     model.Now(),
		"return_success": returnSuccess,
	}); err != nil {
		return fmt.Errorf("runpool: return patch for run %d: %w", runID, err)
	}
	p.events.Push(model.RunReturned(runID))
	if p.metrics != nil {
		p.metrics.RunsReturned.Inc()
		if !returnSuccess {
			p.metrics.RunsFailed.Inc()
		}
	}
	return nil
}

func (p *Pool) postLog(ctx context.Context, runPath string, run model.Run, content []byte) error {
	if run.RunLog.URI() != "" {
		return p.rest.Patch(ctx, run.RunLog.URI(), map[string]any{"content": string(content)})
	}
	return p.rest.Post(ctx, p.paths.RunLog, map[string]any{
		"run":     runPath,
		"content": string(content),
	}, nil)
}

// materializeAndSpawn implements spec.md §4.4 steps 3-5: validate the
// shebang, write the script to a temp file, spawn it, and drain its
// combined output. Any failure here is captured as a failed run, not
// propagated — the run still reaches a terminal state (spec.md §7).
func (p *Pool) materializeAndSpawn(ctx context.Context, run *model.Run, logger *zap.Logger) (output []byte, exitCode int, spawned bool) {
	job, err := run.Job.Get(ctx, p.rest)
	if err != nil {
		return []byte(failurePrefix + fmt.Sprintf("failed to load job: %v", err)), 0, false
	}

	interpreter, ok := shebangInterpreter(job.ScriptContent)
	if !ok {
		return []byte(failurePrefix + "script does not begin with a #! shebang line"), 0, false
	}

	content := strings.ReplaceAll(job.ScriptContent, "\r", "")

	scriptPath, err := writeScript(p.tempDir, content)
	if err != nil {
		return []byte(failurePrefix + fmt.Sprintf("failed to write script: %v", err)), 0, false
	}
	defer os.Remove(scriptPath)

	interpArgs := strings.Fields(interpreter)
	if len(interpArgs) == 0 {
		return []byte(failurePrefix + "empty shebang interpreter"), 0, false
	}
	args := append(interpArgs, scriptPath)

	// Deliberately not ctx here: a run that has started must run to
	// completion even if the worker is shutting down (spec.md §5, P9).
	cmd := exec.Command(args[0], args[1:]...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return []byte(failurePrefix + fmt.Sprintf("failed to start: %v", err)), 0, false
	}

	pid := cmd.Process.Pid
	runPath := restclient.JoinID(p.paths.Run, run.ID)
	if err := p.rest.Patch(ctx, runPath, map[string]any{"pid": pid}); err != nil {
		logger.Warn("failed to patch pid", zap.Error(err))
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
		pw.Close()
	}()

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, pr)
	waitErr := <-waitDone

	code := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	return buf.Bytes(), code, true
}

// shebangInterpreter extracts the interpreter command from script's first
// line, requiring it to begin with "#!".
func shebangInterpreter(script string) (string, bool) {
	firstLine := script
	if idx := strings.IndexByte(script, '\n'); idx >= 0 {
		firstLine = script[:idx]
	}
	firstLine = strings.TrimSuffix(firstLine, "\r")

	if !strings.HasPrefix(firstLine, "#!") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(firstLine, "#!")), true
}

// writeScript creates a uniquely named, UTF-8, 0700 temp file under dir
// containing content, per spec.md §9's note on temp-file FD handling: we
// write bytes directly instead of closing then reopening an OS fd.
func writeScript(dir, content string) (string, error) {
	f, err := os.CreateTemp(dir, "jobrunner-*.sh")
	if err != nil {
		return "", err
	}
	path := f.Name()

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
