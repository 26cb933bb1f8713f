// Package main is the entry point for the jobrunner-worker binary.
// It wires all internal packages together and starts the worker.
//
// Startup sequence:
//  1. Parse CLI flags, load environment configuration
//  2. Build logger
//  3. Build the REST client
//  4. Reset runs a previous worker process left incomplete (spec.md §4.9)
//  5. Build the shared queues, bus sockets, and every task
//  6. Start the event publisher — it outlives every other task
//  7. Run the primary tasks under supervision until signalled
//  8. Drain the remaining event queue, then exit
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/bus"
	"github.com/relaywatch/jobrunner-worker/internal/cleanup"
	"github.com/relaywatch/jobrunner-worker/internal/config"
	"github.com/relaywatch/jobrunner-worker/internal/enqueuer"
	"github.com/relaywatch/jobrunner-worker/internal/eventqueue"
	"github.com/relaywatch/jobrunner-worker/internal/killexec"
	"github.com/relaywatch/jobrunner-worker/internal/publisher"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
	"github.com/relaywatch/jobrunner-worker/internal/runpool"
	"github.com/relaywatch/jobrunner-worker/internal/supervisor"
	"github.com/relaywatch/jobrunner-worker/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagOverrides holds the subset of config.Config options also exposed as
// CLI flags. Each flag defaults to its zero value and is applied over the
// environment-derived config only when explicitly set on the command
// line — the env var is the default, the flag overrides it, the same
// layering cmd/agent/main.go applies over its ARKEEP_* envOrDefault
// settings.
type flagOverrides struct {
	apiBaseURL     string
	concurrentJobs int
	logLevel       string
	metricsAddr    string
}

func newRootCmd() *cobra.Command {
	var ov flagOverrides

	root := &cobra.Command{
		Use:   "jobrunner-worker",
		Short: "Job runner worker — executes broadcast shell jobs for a control plane",
		Long: `jobrunner-worker connects to a control plane over a pub/sub bus,
receives broadcast run/kill/ping commands, spawns jobs as child processes,
streams their output back via REST, and publishes lifecycle events.

Every option has an environment variable default (see internal/config);
the flags below override the corresponding environment variable when set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, ov)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&ov.apiBaseURL, "api-base-url", "", "Control plane base URL (overrides API_BASE_URL)")
	root.PersistentFlags().IntVar(&ov.concurrentJobs, "concurrent-jobs", 0, "Number of concurrent run-executor workers (overrides CONCURRENT_JOBS)")
	root.PersistentFlags().StringVar(&ov.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&ov.metricsAddr, "metrics-addr", "", "Address for the /metrics endpoint, empty disables it (overrides METRICS_ADDR)")

	return root
}

// applyFlagOverrides layers any explicitly-set CLI flags over the
// environment-derived config, flag by flag — a flag left at its zero
// value (not passed) leaves the environment's value untouched.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, ov flagOverrides) {
	if cmd.Flags().Changed("api-base-url") {
		cfg.APIBaseURL = ov.apiBaseURL
	}
	if cmd.Flags().Changed("concurrent-jobs") {
		cfg.ConcurrentJobs = ov.concurrentJobs
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = ov.logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = ov.metricsAddr
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jobrunner-worker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cmd *cobra.Command, ov flagOverrides) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagOverrides(cmd, &cfg, ov)

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting jobrunner-worker",
		zap.String("version", version),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Int("concurrent_jobs", cfg.ConcurrentJobs),
	)

	// --- Signal handling ---
	// ctx is the primary shutdown signal; it fans out to the enqueuer, the
	// run pool, and the kill executor simultaneously via context
	// cancellation. The publisher is deliberately NOT derived from it — see
	// stopDraining below (spec.md §4.10, P9).
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rest, err := restclient.New(restclient.Config{
		BaseURL: cfg.APIBaseURL,
		APIKey:  cfg.APIKey,
		Secret:  cfg.Secret,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build REST client: %w", err)
	}

	if err := cleanup.ResetIncompleteRuns(ctx, rest, cfg.RunResourceURI, cfg.APIKey, logger); err != nil {
		return fmt.Errorf("startup cleanup failed: %w", err)
	}

	events := eventqueue.New()
	runQueue := make(chan int64, cfg.ConcurrentJobs*2)
	killQueue := make(chan int64, cfg.ConcurrentJobs*2)

	sub := bus.NewSubscriber(cfg.BroadcasterURL(), bus.BroadcastTopic(cfg.APIKey), cfg.ReconnectAfterInactivity, logger)
	busPub := bus.NewPublisher(cfg.EventsURL(), logger)
	defer busPub.Close()

	// --- Metrics ---
	// Built before the components below so every one of them can record
	// against it directly, rather than updating a registry no one reads.
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := telemetry.Server(ctx, cfg.MetricsAddr, reg, logger); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	enq := enqueuer.New(enqueuer.Config{
		REST: rest,
		Paths: enqueuer.Paths{
			Worker:      cfg.WorkerResourceURI,
			Run:         cfg.RunResourceURI,
			KillRequest: cfg.KillRequestResourceURI,
		},
		Events:         events,
		RunQueue:       runQueue,
		KillQueue:      killQueue,
		WorkerVersion:  version,
		ConcurrentJobs: cfg.ConcurrentJobs,
		Metrics:        metrics,
		Logger:         logger,
	})

	pool := runpool.New(runpool.Config{
		REST:        rest,
		Paths:       runpool.Paths{Run: cfg.RunResourceURI, RunLog: cfg.RunLogResourceURI},
		Events:      events,
		RunQueue:    runQueue,
		TempDir:     cfg.ScriptTempPath,
		MaxLogBytes: cfg.MaxLogBytes,
		Metrics:     metrics,
		Logger:      logger,
	})

	killer := killexec.New(killexec.Config{
		REST:      rest,
		Paths:     killexec.Paths{Run: cfg.RunResourceURI, KillRequest: cfg.KillRequestResourceURI},
		Events:    events,
		KillQueue: killQueue,
		Metrics:   metrics,
		Logger:    logger,
	})

	pub := publisher.New(busPub, events, metrics, logger)

	// --- Two-phase shutdown ---
	// The publisher must keep draining after every producer has stopped
	// enqueuing events, so it runs under context.Background() rather than
	// ctx — closing stopDraining only once RunPrimary has returned is what
	// guarantees no further events can arrive after draining is told to
	// stop.
	stopDraining := make(chan struct{})
	publisherDone := make(chan error, 1)
	go func() {
		publisherDone <- pub.Run(context.Background(), stopDraining)
	}()

	sup := supervisor.New(logger)

	primaryTasks := map[string]supervisor.Task{
		"enqueuer": func(ctx context.Context) error {
			return sub.Run(ctx, func(frame bus.Frame) {
				enq.HandleFrame(ctx, frame)
			})
		},
		"kill-executor": killer.Run,
	}
	for i := 0; i < cfg.ConcurrentJobs; i++ {
		primaryTasks[fmt.Sprintf("run-executor-%d", i)] = pool.Run
	}

	// Blocks until ctx is cancelled (SIGINT/SIGTERM) and every primary task
	// has returned.
	sup.RunPrimary(ctx, primaryTasks)

	logger.Info("primary tasks stopped, draining remaining events")
	close(stopDraining)
	if err := <-publisherDone; err != nil {
		logger.Warn("publisher drain ended with error", zap.Error(err))
	}

	// This worker is designed to run forever; any return from run — even a
	// clean, fully-drained shutdown — is an operator-visible abnormal stop,
	// per spec.md §6.5.
	return fmt.Errorf("jobrunner-worker stopped on termination signal")
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
