package scorer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is one scorer declaration inside a definition file. Kind
// binds the declaration to a built-in scoring algorithm; Options
// parameterize it.
type Definition struct {
	Name    string  `yaml:"name"`
	Version string  `yaml:"version"`
	Kind    string  `yaml:"kind"`
	Options Options `yaml:"options"`
}

// Options configure how a built-in scorer reads workspace data.
type Options struct {
	GroundTruth   string   `yaml:"ground_truth"`
	Predictions   string   `yaml:"predictions"`
	IDColumn      string   `yaml:"id_column"`
	ValueColumn   string   `yaml:"value_column"`
	Metrics       []string `yaml:"metrics"`
	PrimaryMetric string   `yaml:"primary_metric"`
}

type sourceFile struct {
	Scorers []Definition `yaml:"scorers"`
}

func parseDefinitions(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var src sourceFile
	if err := yaml.Unmarshal(raw, &src); err != nil {
		return nil, err
	}
	if len(src.Scorers) == 0 {
		return nil, fmt.Errorf("no scorers declared")
	}

	seen := map[string]bool{}
	for i := range src.Scorers {
		def := &src.Scorers[i]
		if def.Name == "" {
			return nil, fmt.Errorf("scorer #%d has no name", i)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("scorer %q declared twice", def.Name)
		}
		seen[def.Name] = true
		if def.Version == "" {
			def.Version = "0.0.0"
		}
		def.Options.fillDefaults()
	}
	return src.Scorers, nil
}

func (o *Options) fillDefaults() {
	if o.GroundTruth == "" {
		o.GroundTruth = "gt.csv"
	}
	if o.Predictions == "" {
		o.Predictions = "pred.csv"
	}
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.ValueColumn == "" {
		o.ValueColumn = "label"
	}
}

func buildScorer(def Definition) (Scorer, error) {
	switch def.Kind {
	case "classification":
		return newClassificationScorer(def), nil
	case "regression":
		return newRegressionScorer(def), nil
	default:
		return nil, fmt.Errorf("unknown scorer kind %q", def.Kind)
	}
}
