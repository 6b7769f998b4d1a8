package repository

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rvikhe/crucible/internal/db"
	"github.com/rvikhe/crucible/internal/tracer"
	"github.com/rvikhe/crucible/internal/util"
	"github.com/rvikhe/crucible/model"
)

// TaskRepository persists task history for audit. The scheduler's live
// state machine stays in memory; rows here are write-mostly.
type TaskRepository struct {
	db *db.DB
}

func NewTaskRepository(db *db.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task *model.Task) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/CreateTask",
		trace.WithAttributes(attribute.String("task_id", task.ID.String())))
	defer span.End()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO tasks (
			id,
			workspace,
			action,
			state,
			created_at
		)
		VALUES ($1,$2,$3,$4,$5)
	`,
		task.ID,
		task.Workspace,
		string(task.Action),
		string(task.State),
		task.CreatedAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (r *TaskRepository) UpdateTask(ctx context.Context, task *model.Task) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/UpdateTask",
		trace.WithAttributes(attribute.String("task_id", task.ID.String())))
	defer span.End()

	var payload []byte
	if task.Result != nil || task.Error != nil {
		raw, err := json.Marshal(map[string]any{
			"result": task.Result,
			"error":  task.Error,
		})
		if err != nil {
			util.RecordSpanError(span, err)
			return err
		}
		payload = raw
	}

	_, err := r.db.Pool.Exec(ctx, `
		UPDATE tasks
		SET
			state       = $2,
			started_at  = $3,
			finished_at = $4,
			payload     = $5
		WHERE id = $1
	`,
		task.ID,
		string(task.State),
		task.StartedAt,
		task.FinishedAt,
		payload,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (r *TaskRepository) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/GetTask")
	defer span.End()

	var (
		task    model.Task
		action  string
		state   string
		payload []byte
	)
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, workspace, action, state, created_at, started_at, finished_at, payload
		FROM tasks
		WHERE id = $1
	`, id)

	err := row.Scan(&task.ID, &task.Workspace, &action, &state,
		&task.CreatedAt, &task.StartedAt, &task.FinishedAt, &payload)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	task.Action = model.Action(action)
	task.State = model.TaskState(state)

	if len(payload) > 0 {
		var body struct {
			Result *model.Result `json:"result"`
			Error  *model.Error  `json:"error"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		task.Result = body.Result
		task.Error = body.Error
	}
	return &task, nil
}
