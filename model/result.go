package model

import (
	"fmt"
	"time"
)

// Summary carries the headline score of one scoring pass.
type Summary struct {
	Score         float64 `json:"score"`
	Rank          *int    `json:"rank,omitempty"`
	Pass          *bool   `json:"pass,omitempty"`
	PrimaryMetric string  `json:"primary_metric,omitempty"`
}

// Artifact describes one file the scorer (or executor) produced besides
// the result document itself.
type Artifact struct {
	Path        string            `json:"path"`
	Size        int64             `json:"size"`
	ContentHash string            `json:"content_hash,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Timing records wall-clock durations per stage, in seconds.
type Timing struct {
	RunSeconds   float64 `json:"run_seconds,omitempty"`
	ScoreSeconds float64 `json:"score_seconds,omitempty"`
	TotalSeconds float64 `json:"total_seconds,omitempty"`
}

// Resources records what the execution actually consumed.
type Resources struct {
	CPUSeconds  float64 `json:"cpu_seconds,omitempty"`
	MaxMemory   string  `json:"max_memory,omitempty"`
	GPUsGranted int     `json:"gpus_granted,omitempty"`
}

// Versioning identifies the scorer that produced a Result.
type Versioning struct {
	Scorer   string `json:"scorer"`
	Version  string `json:"version"`
	ScoredAt string `json:"scored_at"`
}

// Validation optionally records what the scorer checked before scoring.
type Validation struct {
	RowsCompared int      `json:"rows_compared,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Result is the canonical success payload. Error is non-nil iff the
// outcome is a failure; callers receive exactly one of a full Result
// or an Error.
type Result struct {
	Summary    Summary              `json:"summary"`
	Metrics    map[string]float64   `json:"metrics"`
	Artifacts  map[string]*Artifact `json:"artifacts,omitempty"`
	Timing     *Timing              `json:"timing,omitempty"`
	Resources  *Resources           `json:"resources,omitempty"`
	Versioning Versioning           `json:"versioning"`
	Validation *Validation          `json:"validation,omitempty"`
	Error      *Error               `json:"error"`
}

// NewResult builds a success Result stamped with scorer identity.
func NewResult(scorer, version string) *Result {
	return &Result{
		Metrics: map[string]float64{},
		Versioning: Versioning{
			Scorer:   scorer,
			Version:  version,
			ScoredAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// Verify checks the Result's internal invariants.
func (r *Result) Verify() error {
	if r.Error != nil {
		return fmt.Errorf("success result carries error %s", r.Error.Code)
	}
	if r.Versioning.Scorer == "" || r.Versioning.Version == "" || r.Versioning.ScoredAt == "" {
		return fmt.Errorf("versioning block is incomplete")
	}
	if pm := r.Summary.PrimaryMetric; pm != "" {
		if _, ok := r.Metrics[pm]; !ok {
			return fmt.Errorf("primary_metric %q missing from metrics", pm)
		}
	}
	return nil
}
