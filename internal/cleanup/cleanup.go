// Package cleanup implements the startup reset of runs a previous worker
// process left incomplete, grounded on
// original_source/job_runner_worker/cleanup.py's reset_incomplete_runs
// (spec.md §4.9, P8).
package cleanup

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/model"
	"github.com/relaywatch/jobrunner-worker/internal/restclient"
)

// incompleteStates are the run states a dead worker can leave stuck.
var incompleteStates = []string{model.RunStateInQueue, model.RunStateStarted}

// ResetIncompleteRuns lists every run in an incomplete state belonging to
// this worker's API key and returns each to "scheduled" by clearing its
// enqueue/start timestamps.
func ResetIncompleteRuns(ctx context.Context, rest *restclient.Client, runPath, apiKey string, logger *zap.Logger) error {
	logger = logger.Named("cleanup")
	logger.Info("cleaning up incomplete runs")

	for _, state := range incompleteStates {
		params := url.Values{
			"state":           []string{state},
			"worker__api_key": []string{apiKey},
		}

		runs, err := restclient.List[model.Run](ctx, rest, runPath, params)
		if err != nil {
			return fmt.Errorf("cleanup: listing %s runs: %w", state, err)
		}

		for _, run := range runs {
			logger.Warn("run was left incomplete", zap.String("resource_uri", run.ResourceURI))
			if err := rest.Patch(ctx, run.ResourceURI, map[string]any{
				"enqueue_dts": nil,
				"start_dts":   nil,
			}); err != nil {
				return fmt.Errorf("cleanup: resetting run %s: %w", run.ResourceURI, err)
			}
		}
	}

	return nil
}
