// Package pipeline composes the executor and the scorer registry into
// the run -> score sequence, producing exactly one Result or one Error.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rvikhe/crucible/internal/executor"
	"github.com/rvikhe/crucible/internal/scorer"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/tracer"
	"github.com/rvikhe/crucible/internal/util"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

type Controller struct {
	exec     executor.Executor
	registry *scorer.Registry
}

func NewController(exec executor.Executor, registry *scorer.Registry) *Controller {
	return &Controller{exec: exec, registry: registry}
}

// RunOnly validates the workspace and executes the inference container.
// The Result carries no metrics, only timing and versioning-free
// execution facts.
func (c *Controller) RunOnly(ctx context.Context, path string) (*model.Result, *model.Error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Pipeline/RunOnly",
		trace.WithAttributes(attribute.String("workspace", path)))
	defer span.End()

	ws, merr := workspace.Validate(path)
	if merr != nil {
		util.RecordSpanError(span, merr)
		return nil, merr
	}

	exec, merr := c.runStage(ctx, ws)
	if merr != nil {
		util.RecordSpanError(span, merr)
		return nil, merr
	}

	res := model.NewResult("executor", exec.Backend)
	res.Timing = &model.Timing{
		RunSeconds:   exec.Elapsed.Seconds(),
		TotalSeconds: exec.Elapsed.Seconds(),
	}
	res.Resources = &model.Resources{GPUsGranted: ws.Spec.Resources.GPU}
	return res, nil
}

// ScoreOnly validates the workspace, resolves its declared scorer, and
// scores whatever predictions are already in output/. The Result (or the
// Error) is persisted to output/result.json.
func (c *Controller) ScoreOnly(ctx context.Context, path string, params map[string]string) (*model.Result, *model.Error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Pipeline/ScoreOnly",
		trace.WithAttributes(attribute.String("workspace", path)))
	defer span.End()

	ws, merr := workspace.Validate(path)
	if merr != nil {
		util.RecordSpanError(span, merr)
		return nil, merr
	}

	res, merr := c.scoreStage(ctx, ws, params)
	if merr != nil {
		util.RecordSpanError(span, merr)
		c.persistError(ws, merr)
		return nil, merr
	}
	return res, nil
}

// Pipeline runs then scores. A failure at either stage aborts with that
// stage's Error; scoring never runs against a failed prediction set.
func (c *Controller) Pipeline(ctx context.Context, path string, params map[string]string) (*model.Result, *model.Error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Pipeline/Full",
		trace.WithAttributes(attribute.String("workspace", path)))
	defer span.End()

	ws, merr := workspace.Validate(path)
	if merr != nil {
		util.RecordSpanError(span, merr)
		return nil, merr
	}

	exec, merr := c.runStage(ctx, ws)
	if merr != nil {
		util.RecordSpanError(span, merr)
		return nil, merr
	}

	res, merr := c.scoreStage(ctx, ws, params)
	if merr != nil {
		util.RecordSpanError(span, merr)
		c.persistError(ws, merr)
		return nil, merr
	}

	if res.Timing == nil {
		res.Timing = &model.Timing{}
	}
	res.Timing.RunSeconds = exec.Elapsed.Seconds()
	res.Timing.TotalSeconds = res.Timing.RunSeconds + res.Timing.ScoreSeconds

	// Re-persist with the merged timing block.
	if err := ws.WriteResult(res); err != nil {
		rewriteLog := logger.FromContext(ctx)
		rewriteLog.Warn().Err(err).Str("workspace", path).Msg("unable to rewrite result")
	}
	return res, nil
}

// runStage executes the container after scorer resolution. An
// unresolvable scorer name fails fast before any container is started.
func (c *Controller) runStage(ctx context.Context, ws *workspace.Workspace) (*model.Execution, *model.Error) {
	if _, merr := c.registry.Lookup(ws.Spec.Scorer); merr != nil {
		return nil, merr
	}
	return c.exec.Execute(ctx, ws, ws.Spec)
}

func (c *Controller) scoreStage(ctx context.Context, ws *workspace.Workspace, params map[string]string) (*model.Result, *model.Error) {
	impl, merr := c.registry.Lookup(ws.Spec.Scorer)
	if merr != nil {
		return nil, merr
	}

	started := time.Now()
	res, merr := impl.Score(ctx, ws, params)
	if merr != nil {
		return nil, merr
	}
	elapsed := time.Since(started)

	if res.Timing == nil {
		res.Timing = &model.Timing{}
	}
	res.Timing.ScoreSeconds = elapsed.Seconds()
	if res.Timing.TotalSeconds == 0 {
		res.Timing.TotalSeconds = res.Timing.ScoreSeconds
	}

	if err := res.Verify(); err != nil {
		return nil, model.NewError(model.StageScoring, model.CodeDataValidationError,
			err.Error()).WithDetail("scorer", ws.Spec.Scorer)
	}

	if err := ws.WriteResult(res); err != nil {
		return nil, model.NewError(model.StageScoring, model.CodeResultWriteFailed,
			err.Error()).WithDetail("path", ws.ResultPath())
	}
	return res, nil
}

// persistError mirrors the failed outcome into output/result.json so the
// workspace itself records what happened.
func (c *Controller) persistError(ws *workspace.Workspace, merr *model.Error) {
	res := &model.Result{
		Metrics: map[string]float64{},
		Versioning: model.Versioning{
			Scorer:   ws.Spec.Scorer,
			Version:  "unknown",
			ScoredAt: time.Now().UTC().Format(time.RFC3339),
		},
		Error: merr,
	}
	if err := ws.WriteResult(res); err != nil {
		logger.Log.Warn().Err(err).Str("workspace", ws.Root).Msg("unable to persist error result")
	}
}
