package scorer

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// regressionScorer compares numeric value columns and reports RMSE, MAE
// and R².
type regressionScorer struct {
	name    string
	version string
	opts    Options
}

func newRegressionScorer(def Definition) *regressionScorer {
	return &regressionScorer{name: def.Name, version: def.Version, opts: def.Options}
}

func (s *regressionScorer) Name() string    { return s.name }
func (s *regressionScorer) Version() string { return s.version }

func (s *regressionScorer) Score(ctx context.Context, ws *workspace.Workspace, params map[string]string) (*model.Result, *model.Error) {
	gt, merr := loadTable(ws.InputPath(), s.opts.GroundTruth, s.opts.IDColumn, s.opts.ValueColumn)
	if merr != nil {
		return nil, merr
	}
	pred, merr := loadTable(ws.OutputPath(), s.opts.Predictions, s.opts.IDColumn, s.opts.ValueColumn)
	if merr != nil {
		return nil, merr
	}
	if merr := matchIDs(gt, pred); merr != nil {
		return nil, merr
	}

	parse := func(t *table, id string) (float64, *model.Error) {
		v, err := strconv.ParseFloat(t.values[id], 64)
		if err != nil {
			return 0, model.NewError(model.StageScoring, model.CodeTypeError,
				fmt.Sprintf("value for id %q is not numeric: %q", id, t.values[id])).
				WithDetail("path", t.path).
				WithDetail("id", id)
		}
		return v, nil
	}

	var sqErrSum, absErrSum, wantSum float64
	wants := make([]float64, 0, len(gt.order))
	for _, id := range gt.order {
		want, merr := parse(gt, id)
		if merr != nil {
			return nil, merr
		}
		got, merr := parse(pred, id)
		if merr != nil {
			return nil, merr
		}
		diff := got - want
		sqErrSum += diff * diff
		absErrSum += math.Abs(diff)
		wantSum += want
		wants = append(wants, want)
	}

	n := float64(len(gt.order))
	mean := wantSum / n
	var totalVar float64
	for _, w := range wants {
		totalVar += (w - mean) * (w - mean)
	}

	res := model.NewResult(s.name, s.version)
	res.Metrics["rmse"] = math.Sqrt(sqErrSum / n)
	res.Metrics["mae"] = absErrSum / n
	if totalVar > 0 {
		res.Metrics["r2"] = 1 - sqErrSum/totalVar
	} else {
		res.Metrics["r2"] = 0
	}

	primary := s.opts.PrimaryMetric
	if primary == "" {
		primary = "rmse"
	}
	filterMetrics(res.Metrics, s.opts.Metrics, primary)
	res.Summary.Score = res.Metrics[primary]
	res.Summary.PrimaryMetric = primary
	res.Validation = &model.Validation{RowsCompared: len(gt.order)}
	return res, nil
}
