package scorer

import (
	"context"

	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// classificationScorer compares label columns and reports accuracy plus
// macro-averaged precision/recall/F1.
type classificationScorer struct {
	name    string
	version string
	opts    Options
}

func newClassificationScorer(def Definition) *classificationScorer {
	return &classificationScorer{name: def.Name, version: def.Version, opts: def.Options}
}

func (s *classificationScorer) Name() string    { return s.name }
func (s *classificationScorer) Version() string { return s.version }

func (s *classificationScorer) Score(ctx context.Context, ws *workspace.Workspace, params map[string]string) (*model.Result, *model.Error) {
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

	// Per-class tallies for the macro averages.
	type tally struct{ tp, fp, fn int }
	classes := map[string]*tally{}
	class := func(label string) *tally {
		t, ok := classes[label]
		if !ok {
			t = &tally{}
			classes[label] = t
		}
		return t
	}

	correct := 0
	for _, id := range gt.order {
		want, got := gt.values[id], pred.values[id]
		if want == got {
			correct++
			class(want).tp++
			continue
		}
		class(want).fn++
		class(got).fp++
	}

	var precisionSum, recallSum, f1Sum float64
	for _, t := range classes {
		var precision, recall float64
		if t.tp+t.fp > 0 {
			precision = float64(t.tp) / float64(t.tp+t.fp)
		}
		if t.tp+t.fn > 0 {
			recall = float64(t.tp) / float64(t.tp+t.fn)
		}
		precisionSum += precision
		recallSum += recall
		if precision+recall > 0 {
			f1Sum += 2 * precision * recall / (precision + recall)
		}
	}
	n := float64(len(classes))

	res := model.NewResult(s.name, s.version)
	res.Metrics["accuracy"] = float64(correct) / float64(len(gt.order))
	res.Metrics["macro_precision"] = precisionSum / n
	res.Metrics["macro_recall"] = recallSum / n
	res.Metrics["macro_f1"] = f1Sum / n

	primary := s.opts.PrimaryMetric
	if primary == "" {
		primary = "accuracy"
	}
	filterMetrics(res.Metrics, s.opts.Metrics, primary)
	res.Summary.Score = res.Metrics[primary]
	res.Summary.PrimaryMetric = primary
	res.Validation = &model.Validation{RowsCompared: len(gt.order)}
	return res, nil
}
