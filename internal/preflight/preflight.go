// Package preflight implements the blocking pre-start check runner
// consumed by the Session Manager's start_engagement (spec §4.3, §6):
// run_all(config) -> []CheckResult. Deciding whether the results block a
// start (P0/P1 failures, ignorable warnings) is done by the session
// package, not here.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cyberredd/internal/cerr"
)

// DockerPinger is the narrow Executor contract a check needs; kept as an
// interface so tests substitute a fake instead of a live daemon.
type DockerPinger interface {
	Ping(ctx context.Context) error
}

// ScopeLoader is the narrow scope-config contract a check needs.
type ScopeLoader func(path string) error

// Check is one named pre-flight probe.
type Check struct {
	Name     string
	Priority string // P0 | P1
	Run      func(ctx context.Context, configPath string) (ok bool, message string)
}

// Runner satisfies session.PreFlightRunner: RunAll(configPath) ->
// []cerr.PreFlightCheckResult.
type Runner struct {
	checks []Check
}

// NewRunner builds the daemon's standard check set: Docker reachability,
// scope config loads cleanly, the checkpoint base dir is writable, and
// the audit log path is writable. Any of these can be replaced or
// extended by callers building a custom Runner via NewCustomRunner.
func NewRunner(docker DockerPinger, scopeLoader ScopeLoader, checkpointBaseDir, auditLogPath string) *Runner {
	return NewCustomRunner([]Check{
		dockerReachableCheck(docker),
		scopeConfigLoadsCheck(scopeLoader),
		writableDirCheck("checkpoint_store_writable", "P0", checkpointBaseDir),
		writableDirCheck("audit_log_writable", "P0", filepath.Dir(auditLogPath)),
	})
}

func NewCustomRunner(checks []Check) *Runner {
	return &Runner{checks: checks}
}

// RunAll executes every check in order, never stopping early: the
// operator needs the full enumeration of what's wrong, not just the
// first failure (spec §7 "Pre-flight failures block start with a clear
// enumeration of the checks that failed").
func (r *Runner) RunAll(configPath string) ([]cerr.PreFlightCheckResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([]cerr.PreFlightCheckResult, 0, len(r.checks))
	for _, c := range r.checks {
		ok, message := c.Run(ctx, configPath)
		status := "PASS"
		if !ok {
			if c.Priority == "P0" {
				status = "FAIL"
			} else {
				status = "WARN"
			}
		}
		results = append(results, cerr.PreFlightCheckResult{
			Name:     c.Name,
			Status:   status,
			Priority: c.Priority,
			Message:  message,
		})
	}
	return results, nil
}

func dockerReachableCheck(docker DockerPinger) Check {
	return Check{
		Name:     "docker_reachable",
		Priority: "P0",
		Run: func(ctx context.Context, _ string) (bool, string) {
			if docker == nil {
				return false, "no docker client configured"
			}
			if err := docker.Ping(ctx); err != nil {
				return false, fmt.Sprintf("docker ping failed: %v", err)
			}
			return true, "docker daemon reachable"
		},
	}
}

func scopeConfigLoadsCheck(loader ScopeLoader) Check {
	return Check{
		Name:     "scope_config_loads",
		Priority: "P0",
		Run: func(_ context.Context, configPath string) (bool, string) {
			if loader == nil {
				return true, "no scope loader configured"
			}
			if err := loader(configPath); err != nil {
				return false, fmt.Sprintf("scope config failed to load: %v", err)
			}
			return true, "scope config valid"
		},
	}
}

// writableDirCheck probes a directory by creating it if missing and
// writing+removing a throwaway file, matching the way the teacher's
// storage layers fail fast on unwritable paths at startup rather than on
// first use.
func writableDirCheck(name, priority, dir string) Check {
	return Check{
		Name:     name,
		Priority: priority,
		Run: func(_ context.Context, _ string) (bool, string) {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return false, fmt.Sprintf("cannot create %s: %v", dir, err)
			}
			probe := filepath.Join(dir, ".preflight-probe")
			if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
				return false, fmt.Sprintf("%s is not writable: %v", dir, err)
			}
			_ = os.Remove(probe)
			return true, dir + " is writable"
		},
	}
}
