package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// Action selects which part of the run/score sequence a task covers.
type Action string

const (
	ActionRun      Action = "run"
	ActionScore    Action = "score"
	ActionPipeline Action = "pipeline"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionRun, ActionScore, ActionPipeline:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// TaskType is the kind of ML task a workspace describes. The set is
// extensible: unknown values are accepted as-is by validation.
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskRegression     TaskType = "regression"
	TaskDetection      TaskType = "detection"
	TaskSegmentation   TaskType = "segmentation"
	TaskNLP            TaskType = "nlp"
)

// ResourceSpec declares the resource envelope for one execution.
type ResourceSpec struct {
	CPU    float64 `json:"cpu"`
	Memory string  `json:"memory"`
	GPU    int     `json:"gpu"`
}

// MemoryBytes parses the memory string ("512Mi", "4Gi", ...) to bytes.
func (r ResourceSpec) MemoryBytes() (int64, error) {
	return units.RAMInBytes(r.Memory)
}

// ContainerSpec describes the inference container to run.
type ContainerSpec struct {
	Image      string            `json:"image"`
	Command    []string          `json:"command,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
}

// JobSpec is the parsed contents of a workspace's meta.json.
type JobSpec struct {
	JobID     string        `json:"job_id"`
	TaskType  TaskType      `json:"task_type"`
	Scorer    string        `json:"scorer"`
	InputURI  string        `json:"input_uri,omitempty"`
	OutputURI string        `json:"output_uri,omitempty"`
	TimeLimit int           `json:"time_limit,omitempty"`
	Resources ResourceSpec  `json:"resources"`
	Container ContainerSpec `json:"container"`
}

const (
	MinTimeLimit     = 60
	MaxTimeLimit     = 7200
	DefaultTimeLimit = 1800

	MinCPU = 0.1
	MaxCPU = 32.0
	MaxGPU = 8
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

// Normalize fills defaults and reports the first out-of-range field.
// A spec with a zero time limit gets the default; everything else must
// already be inside its documented range.
func (s *JobSpec) Normalize() error {
	if !jobIDPattern.MatchString(s.JobID) {
		return fmt.Errorf("job_id %q must be 3-50 chars of [A-Za-z0-9_-]", s.JobID)
	}
	if s.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if s.Scorer == "" {
		return fmt.Errorf("scorer is required")
	}
	if s.TimeLimit == 0 {
		s.TimeLimit = DefaultTimeLimit
	}
	if s.TimeLimit < MinTimeLimit || s.TimeLimit > MaxTimeLimit {
		return fmt.Errorf("time_limit %d outside [%d, %d]", s.TimeLimit, MinTimeLimit, MaxTimeLimit)
	}
	if s.Resources.CPU < MinCPU || s.Resources.CPU > MaxCPU {
		return fmt.Errorf("resources.cpu %.2f outside [%.1f, %.1f]", s.Resources.CPU, MinCPU, MaxCPU)
	}
	if s.Resources.Memory == "" {
		return fmt.Errorf("resources.memory is required")
	}
	if _, err := s.Resources.MemoryBytes(); err != nil {
		return fmt.Errorf("resources.memory %q: %w", s.Resources.Memory, err)
	}
	if s.Resources.GPU < 0 || s.Resources.GPU > MaxGPU {
		return fmt.Errorf("resources.gpu %d outside [0, %d]", s.Resources.GPU, MaxGPU)
	}
	if s.Container.Image == "" {
		return fmt.Errorf("container.image is required")
	}
	return nil
}

// Timeout returns the wall-clock deadline for one execution.
func (s *JobSpec) Timeout() time.Duration {
	return time.Duration(s.TimeLimit) * time.Second
}

// TaskState is the externally visible lifecycle of a scheduled task.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskRunning TaskState = "RUNNING"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// Task binds one workspace path to one action for the scheduler.
type Task struct {
	ID          uuid.UUID         `json:"id"`
	Workspace   string            `json:"workspace"`
	Action      Action            `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
	CallbackURL string            `json:"callbackUrl,omitempty"`
	State       TaskState         `json:"state"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
	Result      *Result           `json:"result,omitempty"`
	Error       *Error            `json:"error,omitempty"`
}

// SubmitResponse reports whether a submission was enqueued or deduplicated
// against an already-active task for the same workspace.
type SubmitResponse struct {
	Submitted bool   `json:"submitted"`
	Running   bool   `json:"running,omitempty"`
	TaskID    string `json:"task_id"`
}

// Execution is the outcome of one successful container run.
type Execution struct {
	ExitCode  int64         `json:"exit_code"`
	Elapsed   time.Duration `json:"elapsed"`
	LogPath   string        `json:"log_path,omitempty"`
	Backend   string        `json:"backend"`
	StartedAt time.Time     `json:"started_at"`
}
