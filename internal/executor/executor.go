// Package executor runs the containerized inference step of a workspace
// under the resource and time limits its JobSpec declares. Backends are
// interchangeable; the caller picks one at configuration time, never per
// call.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// Executor runs one inference step. Implementations never retry; retry
// policy belongs to the scheduler.
type Executor interface {
	Backend() string
	Execute(ctx context.Context, ws *workspace.Workspace, spec *model.JobSpec) (*model.Execution, *model.Error)
}

// New selects a backend from configuration.
func New(cfg *config.ExecutorConfig) (Executor, error) {
	switch cfg.EXECUTOR_TYPE {
	case "local":
		return NewLocalExecutor(), nil
	case "docker":
		return NewDockerExecutor(cfg)
	case "containerd":
		return NewContainerdExecutor(cfg)
	case "cluster":
		return NewClusterExecutor(cfg)
	default:
		return nil, fmt.Errorf("unknown executor type %q", cfg.EXECUTOR_TYPE)
	}
}

// runInfo is the document written to logs/run_info.json after every
// execution attempt, successful or not.
type runInfo struct {
	JobID      string  `json:"job_id"`
	Backend    string  `json:"backend"`
	Image      string  `json:"image,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt string  `json:"finished_at"`
	Elapsed    float64 `json:"elapsed_seconds"`
	ExitCode   int64   `json:"exit_code"`
	TimedOut   bool    `json:"timed_out,omitempty"`
}

func writeRunInfo(ws *workspace.Workspace, spec *model.JobSpec, backend string, started time.Time, exitCode int64, timedOut bool) {
	finished := time.Now().UTC()
	info := runInfo{
		JobID:      spec.JobID,
		Backend:    backend,
		Image:      spec.Container.Image,
		StartedAt:  started.UTC().Format(time.RFC3339),
		FinishedAt: finished.Format(time.RFC3339),
		Elapsed:    finished.Sub(started).Seconds(),
		ExitCode:   exitCode,
		TimedOut:   timedOut,
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(ws.RunInfoPath(), raw, 0o644)
}

// appendRunLog ensures logs/container.log exists and appends lifecycle
// lines to it.
func appendRunLog(ws *workspace.Workspace, lines ...string) {
	f, err := os.OpenFile(ws.RunLogPath(), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	for _, line := range lines {
		fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
	}
}
