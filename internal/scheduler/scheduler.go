// Package scheduler accepts task submissions, suppresses duplicate
// concurrent work per workspace, and drives the pipeline through an
// asynchronous worker pool.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rvikhe/crucible/internal/cache"
	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/db/repository"
	"github.com/rvikhe/crucible/internal/pipeline"
	"github.com/rvikhe/crucible/internal/queue"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/storage"
	"github.com/rvikhe/crucible/internal/util"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

type Scheduler struct {
	cfg       *config.SchedulerConfig
	ctrl      *pipeline.Controller
	queue     queue.Queue
	cache     cache.Cache
	storage   storage.Storage            // optional
	repo      *repository.TaskRepository // optional
	callbacks *CallbackClient

	mu     sync.Mutex
	tasks  map[string]*model.Task
	active map[string]string // workspace path -> task id
	cancel map[string]context.CancelFunc
}

func NewScheduler(cfg *config.SchedulerConfig, ctrl *pipeline.Controller, q queue.Queue, c cache.Cache, st storage.Storage, repo *repository.TaskRepository) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		ctrl:      ctrl,
		queue:     q,
		cache:     c,
		storage:   st,
		repo:      repo,
		callbacks: NewCallbackClient(cfg),
		tasks:     map[string]*model.Task{},
		active:    map[string]string{},
		cancel:    map[string]context.CancelFunc{},
	}
}

// Start attaches the worker pool to the queue.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.queue.Subscribe(ctx, s.cfg.WORKER_COUNT, s.process)
}

// Submit enqueues one task unless an active task already targets the
// same workspace path, in which case the existing task id is returned
// instead.
func (s *Scheduler) Submit(ctx context.Context, wsPath string, action model.Action, params map[string]string, callbackURL string) (*model.SubmitResponse, error) {
	wsPath = filepath.Clean(wsPath)

	s.mu.Lock()
	if existing, ok := s.active[wsPath]; ok {
		s.mu.Unlock()
		return &model.SubmitResponse{
			Submitted: false,
			Running:   true,
			TaskID:    existing,
		}, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	task := &model.Task{
		ID:          id,
		Workspace:   wsPath,
		Action:      action,
		Params:      params,
		CallbackURL: callbackURL,
		State:       model.TaskPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.tasks[id.String()] = task
	s.active[wsPath] = id.String()
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.CreateTask(ctx, task); err != nil {
			persistLog := logger.FromContext(ctx)
			persistLog.Error().Err(err).Str("task_id", id.String()).Msg("unable to persist task")
		}
	}

	if err := s.queue.Publish(ctx, id.String()); err != nil {
		s.mu.Lock()
		delete(s.tasks, id.String())
		delete(s.active, wsPath)
		s.mu.Unlock()
		return nil, fmt.Errorf("unable to enqueue task: %w", err)
	}

	return &model.SubmitResponse{Submitted: true, TaskID: id.String()}, nil
}

// GetStatus reports a task's state and, once finished, its payload.
// Finished tasks are served from cache after eviction from the live map.
func (s *Scheduler) GetStatus(ctx context.Context, taskID string) (*model.Task, error) {
	s.mu.Lock()
	if task, ok := s.tasks[taskID]; ok {
		cp := *task
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	var raw []byte
	if err := s.cache.Get(ctx, util.GetResultKey(taskID), &raw); err == nil {
		var task model.Task
		if err := json.Unmarshal(raw, &task); err == nil {
			return &task, nil
		}
	}

	if s.repo != nil {
		return s.repo.GetTaskByID(ctx, taskID)
	}
	return nil, fmt.Errorf("task %s not found", taskID)
}

// Cancel stops a running task. Gated behind CANCEL_ENABLED; the default
// build exposes the endpoint but refuses the operation.
func (s *Scheduler) Cancel(taskID string) *model.Error {
	if !s.cfg.CANCEL_ENABLED {
		return model.NewError(model.StagePipeline, model.CodeCancelUnsupported,
			"task cancellation is disabled")
	}

	s.mu.Lock()
	cancel, ok := s.cancel[taskID]
	s.mu.Unlock()
	if !ok {
		return model.NewError(model.StagePipeline, model.CodeInternalError,
			fmt.Sprintf("task %s is not running", taskID))
	}
	cancel()
	return nil
}

// process is the worker entrypoint for one task id. Panics are recovered
// and surfaced as pipeline errors, never as a dead worker.
func (s *Scheduler) process(ctx context.Context, taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		logger.Log.Warn().Str("task_id", taskID).Msg("dequeued unknown task")
		return nil
	}
	now := time.Now().UTC()
	task.State = model.TaskRunning
	task.StartedAt = &now

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel[taskID] = cancel
	s.mu.Unlock()
	defer cancel()

	if s.repo != nil {
		if err := s.repo.UpdateTask(ctx, task); err != nil {
			logger.Log.Error().Err(err).Str("task_id", taskID).Msg("unable to persist task transition")
		}
	}

	var (
		result *model.Result
		merr   *model.Error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				if config.PrintStacktrace() {
					logger.Log.Error().Str("task_id", taskID).
						Str("panic", fmt.Sprint(r)).
						Str("stack", string(debug.Stack())).
						Msg("worker panic")
				}
				merr = model.NewError(model.StagePipeline, model.CodeInternalError,
					fmt.Sprintf("worker panic: %v", r)).
					WithDetail("task_id", taskID)
			}
		}()

		switch task.Action {
		case model.ActionRun:
			result, merr = s.ctrl.RunOnly(runCtx, task.Workspace)
		case model.ActionScore:
			result, merr = s.ctrl.ScoreOnly(runCtx, task.Workspace, task.Params)
		default:
			result, merr = s.ctrl.Pipeline(runCtx, task.Workspace, task.Params)
		}
	}()

	s.finish(ctx, task, result, merr)
	return nil
}

// finish applies the terminal transition, frees the dedup slot, caches
// the payload, archives artifacts, and triggers callback delivery.
func (s *Scheduler) finish(ctx context.Context, task *model.Task, result *model.Result, merr *model.Error) {
	now := time.Now().UTC()

	s.mu.Lock()
	task.FinishedAt = &now
	task.Result = result
	task.Error = merr
	if merr != nil {
		task.State = model.TaskFailure
	} else {
		task.State = model.TaskSuccess
	}
	delete(s.active, task.Workspace)
	delete(s.cancel, task.ID.String())
	cp := *task
	s.mu.Unlock()

	if raw, err := json.Marshal(&cp); err == nil {
		if err := s.cache.Put(ctx, util.GetResultKey(cp.ID.String()), raw, s.cfg.RESULT_CACHE_TTL); err != nil {
			logger.Log.Warn().Err(err).Str("task_id", cp.ID.String()).Msg("unable to cache task payload")
		} else {
			// Cached copies serve status lookups; drop the live entry.
			s.mu.Lock()
			delete(s.tasks, cp.ID.String())
			s.mu.Unlock()
		}
	}

	if s.repo != nil {
		if err := s.repo.UpdateTask(ctx, &cp); err != nil {
			logger.Log.Error().Err(err).Str("task_id", cp.ID.String()).Msg("unable to persist task completion")
		}
	}

	if s.storage != nil && merr == nil {
		s.archive(ctx, &cp)
	}

	if cp.CallbackURL != "" {
		go s.callbacks.Deliver(context.Background(), &cp)
	}

	logger.Log.Info().
		Str("task_id", cp.ID.String()).
		Str("workspace", cp.Workspace).
		Str("state", string(cp.State)).
		Msg("task finished")
}

// archive copies result.json and container.log to object storage.
// Best effort; failures are logged and do not affect the task outcome.
func (s *Scheduler) archive(ctx context.Context, task *model.Task) {
	ws, merr := workspace.Validate(task.Workspace)
	if merr != nil {
		return
	}

	for _, f := range []struct{ local, name string }{
		{ws.ResultPath(), workspace.ResultFile},
		{ws.RunLogPath(), workspace.RunLogFile},
	} {
		raw, err := readIfExists(f.local)
		if err != nil || raw == nil {
			continue
		}
		obj := util.GetArchivePath(ws.Spec.JobID, f.name)
		if err := s.storage.Upload(ctx, obj, raw); err != nil {
			logger.Log.Warn().Err(err).Str("object", obj).Msg("unable to archive artifact")
		}
	}
}
