// Package pidtree implements recursive process-tree termination, per
// spec.md §4.7: enumerate children via `ps --ppid`, recurse, then SIGKILL
// the parent. A dead-already process (ESRCH) is logged, not fatal — the
// child may have exited naturally before the signal landed, the same
// TOCTOU tolerance other_examples/...aetherflow's handleAgentKill documents
// for its own syscall.Kill call.
package pidtree

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// syscallKill is overridable in tests, mirroring the pack's own pattern of
// exposing the signal call as a package variable.
var syscallKill = syscall.Kill

// childLister returns the direct child PIDs of pid. The default
// implementation shells out to ps; tests substitute a fake.
type childLister func(ctx context.Context, pid int) ([]int, error)

// Kill recursively terminates the process tree rooted at pid: children are
// killed first (post-order), then pid itself. Errors from missing
// processes are swallowed (logged at debug) since the tree may have
// already exited.
func Kill(ctx context.Context, pid int, logger *zap.Logger) {
	killTree(ctx, pid, psChildren, logger)
}

func killTree(ctx context.Context, pid int, children childLister, logger *zap.Logger) {
	kids, err := children(ctx, pid)
	if err != nil {
		logger.Debug("failed to list child processes", zap.Int("pid", pid), zap.Error(err))
	}

	for _, child := range kids {
		killTree(ctx, child, children, logger)
	}

	if err := syscallKill(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			logger.Debug("process already gone", zap.Int("pid", pid))
		} else {
			logger.Warn("failed to kill process", zap.Int("pid", pid), zap.Error(err))
		}
	}
}

// psChildren shells out to `ps -o pid --ppid <pid> --noheaders` and parses
// one PID per line.
func psChildren(ctx context.Context, pid int) ([]int, error) {
	cmd := exec.CommandContext(ctx, "ps", "-o", "pid", "--ppid", strconv.Itoa(pid), "--noheaders")
	out, err := cmd.Output()
	if err != nil {
		// A non-zero exit with no stdout commonly means "no children" —
		// ps exits 1 in that case on most platforms. Treat as empty.
		if len(out) == 0 {
			return nil, nil
		}
		return nil, err
	}

	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		childPID, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, childPID)
	}
	return pids, nil
}
