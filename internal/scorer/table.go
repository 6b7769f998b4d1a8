package scorer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rvikhe/crucible/model"
)

// table is one parsed CSV file keyed by the configured id column.
type table struct {
	path   string
	order  []string          // ids in file order
	values map[string]string // id -> value column
}

// loadTable reads and indexes one CSV data file. dir selects which side
// of the workspace the file lives on (input/ for ground truth, output/
// for predictions).
func loadTable(dir, file, idCol, valCol string) (*table, *model.Error) {
	path := filepath.Join(dir, file)

	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewError(model.StageScoring, model.CodeFileNotFound,
			fmt.Sprintf("data file %s is missing or unreadable", file)).
			WithDetail("path", path)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, model.NewError(model.StageScoring, model.CodeParseError,
			fmt.Sprintf("%s is not valid CSV: %v", file, err)).
			WithDetail("path", path)
	}
	if len(rows) < 2 {
		return nil, model.NewError(model.StageScoring, model.CodeDataValidationError,
			fmt.Sprintf("%s has no data rows", file)).
			WithDetail("path", path)
	}

	idIdx, valIdx := -1, -1
	for i, col := range rows[0] {
		switch col {
		case idCol:
			idIdx = i
		case valCol:
			valIdx = i
		}
	}
	if idIdx < 0 || valIdx < 0 {
		return nil, model.NewError(model.StageScoring, model.CodeDataValidationError,
			fmt.Sprintf("%s must contain columns %q and %q", file, idCol, valCol)).
			WithDetail("path", path).
			WithDetail("header", rows[0])
	}

	t := &table{path: path, values: make(map[string]string, len(rows)-1)}
	for n, row := range rows[1:] {
		if len(row) <= idIdx || len(row) <= valIdx {
			return nil, model.NewError(model.StageScoring, model.CodeParseError,
				fmt.Sprintf("%s row %d is short", file, n+2)).
				WithDetail("path", path)
		}
		id := row[idIdx]
		if _, dup := t.values[id]; dup {
			return nil, model.NewError(model.StageScoring, model.CodeDataValidationError,
				fmt.Sprintf("%s contains duplicate id %q", file, id)).
				WithDetail("path", path)
		}
		t.order = append(t.order, id)
		t.values[id] = row[valIdx]
	}
	return t, nil
}

// filterMetrics trims a metric map down to the configured selection.
// The primary metric is always kept.
func filterMetrics(metrics map[string]float64, keep []string, primary string) {
	if len(keep) == 0 {
		return
	}
	wanted := map[string]bool{primary: true}
	for _, k := range keep {
		wanted[k] = true
	}
	for k := range metrics {
		if !wanted[k] {
			delete(metrics, k)
		}
	}
}

// matchIDs verifies both tables cover exactly the same id set.
func matchIDs(gt, pred *table) *model.Error {
	if len(gt.values) != len(pred.values) {
		return model.NewError(model.StageScoring, model.CodeMismatch,
			fmt.Sprintf("ground truth has %d rows, predictions have %d", len(gt.values), len(pred.values)))
	}
	for id := range gt.values {
		if _, ok := pred.values[id]; !ok {
			return model.NewError(model.StageScoring, model.CodeMismatch,
				fmt.Sprintf("prediction for id %q is missing", id)).
				WithDetail("id", id)
		}
	}
	return nil
}
