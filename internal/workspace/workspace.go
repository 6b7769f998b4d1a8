// Package workspace validates and represents the standardized workspace
// directory contract: input/, output/, logs/ and meta.json under one root.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rvikhe/crucible/model"
)

const (
	MetaFile  = "meta.json"
	InputDir  = "input"
	OutputDir = "output"
	LogsDir   = "logs"

	ResultFile  = "result.json"
	RunInfoFile = "run_info.json"
	RunLogFile  = "container.log"

	maxSegmentLen = 255
	maxDepth      = 10
)

// Workspace is a validated handle to one workspace root. input/ and
// meta.json are never written through it.
type Workspace struct {
	Root string
	Spec *model.JobSpec
}

// Validate probes a workspace read-only and parses its meta.json. Checks
// short-circuit on the first failure; no directory is created here.
func Validate(path string) (*Workspace, *model.Error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, model.NewError(model.StageValidation, model.CodeWorkspaceNotFound,
			fmt.Sprintf("workspace directory %s does not exist or is not readable", path)).
			WithDetail("path", path)
	}

	metaPath := filepath.Join(path, MetaFile)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, model.NewError(model.StageValidation, model.CodeMissingFile,
			fmt.Sprintf("%s is missing or unreadable", MetaFile)).
			WithDetail("path", metaPath)
	}

	var spec model.JobSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, model.NewError(model.StageConfig, model.CodeConfigParseError,
			fmt.Sprintf("%s is not valid JSON: %v", MetaFile, err)).
			WithDetail("path", metaPath)
	}
	if err := spec.Normalize(); err != nil {
		return nil, model.NewError(model.StageConfig, model.CodeConfigValidationError, err.Error()).
			WithDetail("path", metaPath)
	}

	inputPath := filepath.Join(path, InputDir)
	if info, err := os.Stat(inputPath); err != nil || !info.IsDir() {
		return nil, model.NewError(model.StageValidation, model.CodeMissingFile,
			fmt.Sprintf("%s/ is missing or unreadable", InputDir)).
			WithDetail("path", inputPath)
	}

	if werr := checkPathLimits(path); werr != nil {
		return nil, werr
	}

	return &Workspace{Root: path, Spec: &spec}, nil
}

func checkPathLimits(path string) *model.Error {
	clean := filepath.Clean(path)
	segments := strings.Split(strings.Trim(clean, string(filepath.Separator)), string(filepath.Separator))
	if len(segments) > maxDepth {
		return model.NewError(model.StageValidation, model.CodePathTooDeep,
			fmt.Sprintf("workspace path has %d directory levels, max is %d", len(segments), maxDepth)).
			WithDetail("path", path)
	}
	for _, seg := range segments {
		if len(seg) > maxSegmentLen {
			return model.NewError(model.StageValidation, model.CodePathSegmentTooLong,
				fmt.Sprintf("path segment exceeds %d characters", maxSegmentLen)).
				WithDetail("segment", seg)
		}
	}
	return nil
}

func (w *Workspace) MetaPath() string   { return filepath.Join(w.Root, MetaFile) }
func (w *Workspace) InputPath() string  { return filepath.Join(w.Root, InputDir) }
func (w *Workspace) OutputPath() string { return filepath.Join(w.Root, OutputDir) }
func (w *Workspace) LogsPath() string   { return filepath.Join(w.Root, LogsDir) }

func (w *Workspace) ResultPath() string  { return filepath.Join(w.OutputPath(), ResultFile) }
func (w *Workspace) RunLogPath() string  { return filepath.Join(w.LogsPath(), RunLogFile) }
func (w *Workspace) RunInfoPath() string { return filepath.Join(w.LogsPath(), RunInfoFile) }

// EnsureRuntimeDirs creates output/ and logs/ if absent. Callers invoke
// this after validation, never during it.
func (w *Workspace) EnsureRuntimeDirs() error {
	for _, dir := range []string{w.OutputPath(), w.LogsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("unable to create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteResult persists the result document to output/result.json.
func (w *Workspace) WriteResult(res *model.Result) error {
	if err := w.EnsureRuntimeDirs(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal result: %w", err)
	}
	return os.WriteFile(w.ResultPath(), raw, 0o644)
}

// ReadResult loads output/result.json back into a Result.
func (w *Workspace) ReadResult() (*model.Result, error) {
	raw, err := os.ReadFile(w.ResultPath())
	if err != nil {
		return nil, err
	}
	var res model.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", ResultFile, err)
	}
	return &res, nil
}
