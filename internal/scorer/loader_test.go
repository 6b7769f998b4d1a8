package scorer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefinitions(t *testing.T) {
	path := writeSource(t, `scorers:
  - name: accuracy
    kind: classification
    options:
      ground_truth: truth.csv
      metrics: [accuracy, macro_f1]
      primary_metric: accuracy
  - name: rmse
    version: 2.0.0
    kind: regression
`)

	defs, err := parseDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	require.Equal(t, "accuracy", defs[0].Name)
	require.Equal(t, "0.0.0", defs[0].Version)
	require.Equal(t, "truth.csv", defs[0].Options.GroundTruth)
	require.Equal(t, "pred.csv", defs[0].Options.Predictions)
	require.Equal(t, "id", defs[0].Options.IDColumn)
	require.Equal(t, "label", defs[0].Options.ValueColumn)

	require.Equal(t, "2.0.0", defs[1].Version)
}

func TestParseDefinitions_Failures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"no scorers", "scorers: []"},
		{"nameless scorer", "scorers:\n  - kind: regression\n"},
		{"duplicate names", "scorers:\n  - name: a\n    kind: regression\n  - name: a\n    kind: regression\n"},
		{"invalid yaml", "scorers: [:::"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeSource(t, tt.content)
			_, err := parseDefinitions(path)
			require.Error(t, err)
		})
	}
}

func TestBuildScorer_UnknownKind(t *testing.T) {
	_, err := buildScorer(Definition{Name: "x", Kind: "quantum"})
	require.Error(t, err)
}
