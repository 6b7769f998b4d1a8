package executor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/opencontainers/runtime-spec/specs-go"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// ContainerdExecutor runs the inference step directly on containerd,
// for hosts without a Docker daemon.
type ContainerdExecutor struct {
	client     *containerd.Client
	namespace  string
	pullPolicy string
}

func NewContainerdExecutor(cfg *config.ExecutorConfig) (*ContainerdExecutor, error) {
	cc, err := containerd.New(
		cfg.CONTAINERD_SOCKET,
		containerd.WithDefaultNamespace(cfg.CONTAINERD_NS),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialise containerd: %w", err)
	}
	return &ContainerdExecutor{
		client:     cc,
		namespace:  cfg.CONTAINERD_NS,
		pullPolicy: cfg.IMAGE_PULL_POLICY,
	}, nil
}

func (e *ContainerdExecutor) Backend() string { return "containerd" }

func (e *ContainerdExecutor) resolveImage(ctx context.Context, ref string) (containerd.Image, *model.Error) {
	image, err := e.client.GetImage(ctx, ref)
	if err == nil {
		if e.pullPolicy != "always" {
			return image, nil
		}
	} else if e.pullPolicy == "never" {
		return nil, model.NewError(model.StageExecution, model.CodeImageNotPresent,
			fmt.Sprintf("image %s is not present and pull policy forbids pulling", ref)).
			WithDetail("image", ref)
	}

	image, err = e.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeImagePullFailed,
			fmt.Sprintf("unable to pull image %s: %v", ref, err)).
			WithDetail("image", ref)
	}
	return image, nil
}

func (e *ContainerdExecutor) Execute(ctx context.Context, ws *workspace.Workspace, spec *model.JobSpec) (*model.Execution, *model.Error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	image, merr := e.resolveImage(ctx, spec.Container.Image)
	if merr != nil {
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

	env := make([]string, 0, len(spec.Container.Env))
	for k, v := range spec.Container.Env {
		env = append(env, k+"="+v)
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithCPUCFS(int64(spec.Resources.CPU*100000), 100000),
		oci.WithMemoryLimit(uint64(memBytes)),
		oci.WithEnv(env),
	}
	if len(spec.Container.Command) > 0 {
		specOpts = append(specOpts, oci.WithProcessArgs(spec.Container.Command...))
	}
	if spec.Container.WorkingDir != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(spec.Container.WorkingDir))
	}

	mounts := []specs.Mount{
		{Type: "bind", Source: ws.InputPath(), Destination: containerWorkspace + "/input", Options: []string{"rbind", "ro"}},
		{Type: "bind", Source: ws.MetaPath(), Destination: containerWorkspace + "/meta.json", Options: []string{"rbind", "ro"}},
		{Type: "bind", Source: ws.OutputPath(), Destination: containerWorkspace + "/output", Options: []string{"rbind", "rw"}},
		{Type: "bind", Source: ws.LogsPath(), Destination: containerWorkspace + "/logs", Options: []string{"rbind", "rw"}},
	}
	specOpts = append(specOpts, oci.WithMounts(mounts))

	name := "crucible-" + spec.JobID
	cont, err := e.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithSnapshotter("overlayfs"),
		containerd.WithNewSnapshot(name, image),
		containerd.WithNewSpec(specOpts...),
		containerd.WithAdditionalContainerLabels(map[string]string{"crucible.job_id": spec.JobID}),
	)
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to create container: %v", err)).
			WithDetail("image", spec.Container.Image)
	}
	defer e.cleanup(cont)

	task, err := cont.NewTask(ctx, cio.NullIO)
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to create task: %v", err))
	}

	exitC, err := task.Wait(ctx)
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to wait on task: %v", err))
	}

	started := time.Now()
	appendRunLog(ws, fmt.Sprintf("container %s created for job %s", name, spec.JobID))

	if err := task.Start(ctx); err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to start task: %v", err))
	}

	var status containerd.ExitStatus
	select {
	case status = <-exitC:
	case <-time.After(spec.Timeout()):
		e.stopTask(ctx, task)
		appendRunLog(ws, fmt.Sprintf("container %s killed after exceeding %ds limit", name, spec.TimeLimit))
		writeRunInfo(ws, spec, e.Backend(), started, -1, true)
		return nil, model.NewError(model.StageExecution, model.CodeTimeoutError,
			fmt.Sprintf("execution exceeded time limit of %ds", spec.TimeLimit)).
			WithDetail("time_limit", spec.TimeLimit).
			WithDetail("log_path", ws.RunLogPath())
	case <-ctx.Done():
		e.stopTask(ctx, task)
		return nil, model.NewError(model.StageExecution, model.CodeTimeoutError,
			"execution canceled before completion")
	}

	code, _, err := status.Result()
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeExecutionError,
			fmt.Sprintf("unable to read exit status: %v", err))
	}

	appendRunLog(ws, fmt.Sprintf("container %s exited with code %d", name, code))
	writeRunInfo(ws, spec, e.Backend(), started, int64(code), false)

	if code != 0 {
		return nil, model.NewError(model.StageExecution, model.CodeContainerExitNonzero,
			fmt.Sprintf("container exited with code %d", code)).
			WithDetail("exit_code", code).
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

func (e *ContainerdExecutor) stopTask(ctx context.Context, task containerd.Task) {
	if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
		logger.Log.Warn().Err(err).Msg("unable to kill containerd task")
	}
}

func (e *ContainerdExecutor) cleanup(cont containerd.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	if task, err := cont.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
	}
	if err := cont.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		logger.Log.Warn().Err(err).Str("container_id", cont.ID()).Msg("unable to remove container")
	}
}
