package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// LocalExecutor runs the jobspec command as a host process. Meant for
// development and tests; the container image reference is ignored.
type LocalExecutor struct{}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

func (e *LocalExecutor) Backend() string { return "local" }

func (e *LocalExecutor) Execute(ctx context.Context, ws *workspace.Workspace, spec *model.JobSpec) (*model.Execution, *model.Error) {
	if len(spec.Container.Command) == 0 {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			"local execution requires container.command")
	}
	if err := ws.EnsureRuntimeDirs(); err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed, err.Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	logFile, err := os.OpenFile(ws.RunLogPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to open run log: %v", err))
	}
	defer logFile.Close()

	cmd := exec.CommandContext(runCtx, spec.Container.Command[0], spec.Container.Command[1:]...)
	cmd.Dir = ws.Root
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"CRUCIBLE_WORKSPACE="+ws.Root,
		"CRUCIBLE_INPUT="+ws.InputPath(),
		"CRUCIBLE_OUTPUT="+ws.OutputPath(),
	)
	for k, v := range spec.Container.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	started := time.Now()
	err = cmd.Run()
	elapsed := time.Since(started)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		writeRunInfo(ws, spec, e.Backend(), started, -1, true)
		return nil, model.NewError(model.StageExecution, model.CodeTimeoutError,
			fmt.Sprintf("execution exceeded time limit of %ds", spec.TimeLimit)).
			WithDetail("time_limit", spec.TimeLimit).
			WithDetail("log_path", ws.RunLogPath())
	}
	if ctx.Err() != nil {
		return nil, model.NewError(model.StageExecution, model.CodeTimeoutError,
			"execution canceled before completion")
	}

	if err != nil {
		exitCode := int64(-1)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = int64(exitErr.ExitCode())
		}
		writeRunInfo(ws, spec, e.Backend(), started, exitCode, false)
		exitLog := logger.FromContext(ctx)
		exitLog.Warn().Str("job_id", spec.JobID).Int64("exit_code", exitCode).
			Msg("local execution exited nonzero")
		return nil, model.NewError(model.StageExecution, model.CodeContainerExitNonzero,
			fmt.Sprintf("process exited with code %d", exitCode)).
			WithDetail("exit_code", exitCode).
			WithDetail("log_path", ws.RunLogPath())
	}

	writeRunInfo(ws, spec, e.Backend(), started, 0, false)
	return &model.Execution{
		ExitCode:  0,
		Elapsed:   elapsed,
		LogPath:   ws.RunLogPath(),
		Backend:   e.Backend(),
		StartedAt: started,
	}, nil
}
