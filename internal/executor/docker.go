package executor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

const containerWorkspace = "/workspace"

// DockerExecutor runs the inference step on a local Docker daemon.
type DockerExecutor struct {
	docker     *client.Client
	pullPolicy string
}

func NewDockerExecutor(cfg *config.ExecutorConfig) (*DockerExecutor, error) {
	dc, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialise docker: %w", err)
	}
	return &DockerExecutor{docker: dc, pullPolicy: cfg.IMAGE_PULL_POLICY}, nil
}

func (e *DockerExecutor) Backend() string { return "docker" }

// resolveImage honors IMAGE_PULL_POLICY before any container is created.
func (e *DockerExecutor) resolveImage(ctx context.Context, image string) *model.Error {
	_, err := e.docker.ImageInspect(ctx, image)
	present := err == nil

	switch e.pullPolicy {
	case "never":
		if !present {
			return model.NewError(model.StageExecution, model.CodeImageNotPresent,
				fmt.Sprintf("image %s is not present and pull policy forbids pulling", image)).
				WithDetail("image", image)
		}
		return nil
	case "missing":
		if present {
			return nil
		}
	}

	reader, err := e.docker.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return model.NewError(model.StageExecution, model.CodeImagePullFailed,
			fmt.Sprintf("unable to pull image %s: %v", image, err)).
			WithDetail("image", image)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return model.NewError(model.StageExecution, model.CodeImagePullFailed,
			fmt.Sprintf("image pull for %s did not complete: %v", image, err)).
			WithDetail("image", image)
	}
	return nil
}

func (e *DockerExecutor) Execute(ctx context.Context, ws *workspace.Workspace, spec *model.JobSpec) (*model.Execution, *model.Error) {
	if merr := e.resolveImage(ctx, spec.Container.Image); merr != nil {
		return nil, merr
	}
	if err := ws.EnsureRuntimeDirs(); err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed, err.Error())
	}

	memBytes, err := spec.Resources.MemoryBytes()
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("invalid memory request: %v", err))
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: ws.InputPath(), Target: containerWorkspace + "/input", ReadOnly: true},
		{Type: mount.TypeBind, Source: ws.MetaPath(), Target: containerWorkspace + "/meta.json", ReadOnly: true},
		{Type: mount.TypeBind, Source: ws.OutputPath(), Target: containerWorkspace + "/output"},
		{Type: mount.TypeBind, Source: ws.LogsPath(), Target: containerWorkspace + "/logs"},
	}

	env := make([]string, 0, len(spec.Container.Env))
	for k, v := range spec.Container.Env {
		env = append(env, k+"="+v)
	}

	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(network.NetworkNone),
		Resources: container.Resources{
			CPUPeriod: 100000,
			CPUQuota:  int64(spec.Resources.CPU * 100000),
			Memory:    memBytes,
		},
		Mounts: mounts,
	}
	cfg := &container.Config{
		Image:      spec.Container.Image,
		Cmd:        spec.Container.Command,
		WorkingDir: spec.Container.WorkingDir,
		Env:        env,
		Labels: map[string]string{
			"crucible.job_id": spec.JobID,
		},
	}

	created, err := e.docker.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           cfg,
		HostConfig:       hostCfg,
		NetworkingConfig: &network.NetworkingConfig{},
		Name:             "crucible-" + spec.JobID,
	})
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to create container: %v", err)).
			WithDetail("image", spec.Container.Image)
	}
	defer e.remove(created.ID)

	started := time.Now()
	appendRunLog(ws, fmt.Sprintf("container %s created for job %s", created.ID, spec.JobID))

	if _, err := e.docker.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to start container: %v", err)).
			WithDetail("container_id", created.ID)
	}

	exitCode, merr := e.wait(ctx, ws, spec, created.ID, started)
	if merr != nil {
		return nil, merr
	}

	appendRunLog(ws, fmt.Sprintf("container %s exited with code %d", created.ID, exitCode))
	writeRunInfo(ws, spec, e.Backend(), started, exitCode, false)

	if exitCode != 0 {
		return nil, model.NewError(model.StageExecution, model.CodeContainerExitNonzero,
			fmt.Sprintf("container exited with code %d", exitCode)).
			WithDetail("exit_code", exitCode).
			WithDetail("log_path", ws.RunLogPath())
	}

	return &model.Execution{
		ExitCode:  0,
		Elapsed:   time.Since(started),
		LogPath:   ws.RunLogPath(),
		Backend:   e.Backend(),
		StartedAt: started,
	}, nil
}

// wait blocks until the container stops or the jobspec deadline passes,
// force-stopping the container in the latter case.
func (e *DockerExecutor) wait(ctx context.Context, ws *workspace.Workspace, spec *model.JobSpec, id string, started time.Time) (int64, *model.Error) {
	res := e.docker.ContainerWait(ctx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	deadline := time.NewTimer(spec.Timeout())
	defer deadline.Stop()

	select {
	case err := <-res.Error:
		return 0, model.NewError(model.StageExecution, model.CodeExecutionError,
			fmt.Sprintf("wait on container failed: %v", err)).
			WithDetail("container_id", id)
	case status := <-res.Result:
		return status.StatusCode, nil
	case <-deadline.C:
		e.kill(id)
		appendRunLog(ws, fmt.Sprintf("container %s killed after exceeding %ds limit", id, spec.TimeLimit))
		writeRunInfo(ws, spec, e.Backend(), started, -1, true)
		return 0, model.NewError(model.StageExecution, model.CodeTimeoutError,
			fmt.Sprintf("execution exceeded time limit of %ds", spec.TimeLimit)).
			WithDetail("time_limit", spec.TimeLimit).
			WithDetail("container_id", id).
			WithDetail("log_path", ws.RunLogPath())
	case <-ctx.Done():
		e.kill(id)
		return 0, model.NewError(model.StageExecution, model.CodeTimeoutError,
			"execution canceled before completion").
			WithDetail("container_id", id)
	}
}

func (e *DockerExecutor) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	timeout := 0
	if _, err := e.docker.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeout}); err != nil {
		logger.Log.Warn().Err(err).Str("container_id", id).Msg("unable to stop container")
	}
}

func (e *DockerExecutor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.docker.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true}); err != nil {
		logger.Log.Warn().Err(err).Str("container_id", id).Msg("unable to remove container")
	}
}
