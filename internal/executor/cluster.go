package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// ClusterExecutor runs the inference step as a Kubernetes batch Job.
// Workspace paths must resolve on the node (shared volume); the Job
// mounts them via hostPath.
type ClusterExecutor struct {
	client     kubernetes.Interface
	namespace  string
	pullPolicy corev1.PullPolicy
}

func NewClusterExecutor(cfg *config.ExecutorConfig) (*ClusterExecutor, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return nil, fmt.Errorf("unable to locate kubeconfig: %w", herr)
			}
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("unable to build kubernetes config: %w", err)
		}
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to initialise kubernetes client: %w", err)
	}

	pull := corev1.PullIfNotPresent
	switch cfg.IMAGE_PULL_POLICY {
	case "always":
		pull = corev1.PullAlways
	case "never":
		pull = corev1.PullNever
	}

	return &ClusterExecutor{
		client:     cs,
		namespace:  cfg.K8S_NAMESPACE,
		pullPolicy: pull,
	}, nil
}

func (e *ClusterExecutor) Backend() string { return "cluster" }

func (e *ClusterExecutor) Execute(ctx context.Context, ws *workspace.Workspace, spec *model.JobSpec) (*model.Execution, *model.Error) {
	if err := ws.EnsureRuntimeDirs(); err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed, err.Error())
	}

	job, merr := e.buildJob(ws, spec)
	if merr != nil {
		return nil, merr
	}

	created, err := e.client.BatchV1().Jobs(e.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("unable to create job: %v", err)).
			WithDetail("image", spec.Container.Image)
	}
	defer e.deleteJob(created.Name)

	started := time.Now()
	appendRunLog(ws, fmt.Sprintf("kubernetes job %s created for job %s", created.Name, spec.JobID))

	deadline := time.NewTimer(spec.Timeout())
	defer deadline.Stop()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, model.NewError(model.StageExecution, model.CodeTimeoutError,
				"execution canceled before completion")
		case <-deadline.C:
			appendRunLog(ws, fmt.Sprintf("kubernetes job %s killed after exceeding %ds limit", created.Name, spec.TimeLimit))
			writeRunInfo(ws, spec, e.Backend(), started, -1, true)
			return nil, model.NewError(model.StageExecution, model.CodeTimeoutError,
				fmt.Sprintf("execution exceeded time limit of %ds", spec.TimeLimit)).
				WithDetail("time_limit", spec.TimeLimit).
				WithDetail("log_path", ws.RunLogPath())
		case <-ticker.C:
			cur, err := e.client.BatchV1().Jobs(e.namespace).Get(ctx, created.Name, metav1.GetOptions{})
			if err != nil {
				pollLog := logger.FromContext(ctx)
				pollLog.Warn().Err(err).Str("job", created.Name).Msg("unable to poll job status")
				continue
			}
			if cur.Status.Succeeded > 0 {
				appendRunLog(ws, fmt.Sprintf("kubernetes job %s succeeded", created.Name))
				writeRunInfo(ws, spec, e.Backend(), started, 0, false)
				return &model.Execution{
					ExitCode:  0,
					Elapsed:   time.Since(started),
					LogPath:   ws.RunLogPath(),
					Backend:   e.Backend(),
					StartedAt: started,
				}, nil
			}
			if cur.Status.Failed > 0 {
				appendRunLog(ws, fmt.Sprintf("kubernetes job %s failed", created.Name))
				writeRunInfo(ws, spec, e.Backend(), started, 1, false)
				return nil, model.NewError(model.StageExecution, model.CodeContainerExitNonzero,
					fmt.Sprintf("kubernetes job %s failed", created.Name)).
					WithDetail("exit_code", 1).
					WithDetail("log_path", ws.RunLogPath())
			}
		}
	}
}

func (e *ClusterExecutor) buildJob(ws *workspace.Workspace, spec *model.JobSpec) (*batchv1.Job, *model.Error) {
	memQty, err := resource.ParseQuantity(spec.Resources.Memory)
	if err != nil {
		return nil, model.NewError(model.StageExecution, model.CodeContainerCreateFailed,
			fmt.Sprintf("invalid memory request: %v", err))
	}
	cpuQty := resource.NewMilliQuantity(int64(spec.Resources.CPU*1000), resource.DecimalSI)

	limits := corev1.ResourceList{
		corev1.ResourceCPU:    *cpuQty,
		corev1.ResourceMemory: memQty,
	}
	if spec.Resources.GPU > 0 {
		limits["nvidia.com/gpu"] = *resource.NewQuantity(int64(spec.Resources.GPU), resource.DecimalSI)
	}

	env := make([]corev1.EnvVar, 0, len(spec.Container.Env))
	for k, v := range spec.Container.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	hostPath := func(path string, t corev1.HostPathType) corev1.VolumeSource {
		return corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: path, Type: &t}}
	}
	dirType := corev1.HostPathDirectory
	fileType := corev1.HostPathFile

	backoff := int32(0)
	deadlineSec := int64(spec.TimeLimit)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "crucible-" + spec.JobID,
			Namespace: e.namespace,
			Labels:    map[string]string{"app": "crucible", "crucible/job-id": spec.JobID},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          &backoff,
			ActiveDeadlineSeconds: &deadlineSec,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"app": "crucible", "crucible/job-id": spec.JobID},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            "main",
							Image:           spec.Container.Image,
							ImagePullPolicy: e.pullPolicy,
							Command:         spec.Container.Command,
							WorkingDir:      spec.Container.WorkingDir,
							Env:             env,
							Resources: corev1.ResourceRequirements{
								Limits:   limits,
								Requests: limits,
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "input", MountPath: containerWorkspace + "/input", ReadOnly: true},
								{Name: "meta", MountPath: containerWorkspace + "/meta.json", ReadOnly: true},
								{Name: "output", MountPath: containerWorkspace + "/output"},
								{Name: "logs", MountPath: containerWorkspace + "/logs"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{Name: "input", VolumeSource: hostPath(ws.InputPath(), dirType)},
						{Name: "meta", VolumeSource: hostPath(ws.MetaPath(), fileType)},
						{Name: "output", VolumeSource: hostPath(ws.OutputPath(), dirType)},
						{Name: "logs", VolumeSource: hostPath(ws.LogsPath(), dirType)},
					},
				},
			},
		},
	}
	return job, nil
}

func (e *ClusterExecutor) deleteJob(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	policy := metav1.DeletePropagationBackground
	err := e.client.BatchV1().Jobs(e.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if err != nil {
		logger.Log.Warn().Err(err).Str("job", name).Msg("unable to delete kubernetes job")
	}
}
