// Package scorer maps scorer names to executable scoring units and keeps
// that mapping safe to read while definitions are reloaded underneath it.
package scorer

import (
	"context"

	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

// Scorer is the plugin contract. Implementations perform their own data
// loading and validation and report failures as structured Errors, never
// as panics.
type Scorer interface {
	Name() string
	Version() string
	Score(ctx context.Context, ws *workspace.Workspace, params map[string]string) (*model.Result, *model.Error)
}

// Metadata describes a live registration for listing purposes.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source,omitempty"`
	Kind    string `json:"kind,omitempty"`
}
