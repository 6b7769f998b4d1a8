package model

import "fmt"

// Stage identifies which layer of the system produced an Error.
type Stage string

const (
	StageValidation       Stage = "validation"
	StageExecution        Stage = "execution"
	StageScoring          Stage = "scoring"
	StageConfig           Stage = "config"
	StageScorerManagement Stage = "scorer_management"
	StagePipeline         Stage = "pipeline"
)

// Error codes. Each stage constructs its own code once, at the point of
// failure; no layer above rewrites it.
const (
	CodeWorkspaceNotFound     = "WORKSPACE_NOT_FOUND"
	CodeMissingFile           = "MISSING_FILE"
	CodeConfigParseError      = "CONFIG_PARSE_ERROR"
	CodeConfigValidationError = "CONFIG_VALIDATION_ERROR"
	CodePathTooDeep           = "PATH_TOO_DEEP"
	CodePathSegmentTooLong    = "PATH_SEGMENT_TOO_LONG"

	CodeImageNotPresent       = "IMAGE_NOT_PRESENT"
	CodeImagePullFailed       = "IMAGE_PULL_FAILED"
	CodeContainerCreateFailed = "CONTAINER_CREATE_FAILED"
	CodeContainerExitNonzero  = "CONTAINER_EXIT_NONZERO"
	CodeTimeoutError          = "TIMEOUT_ERROR"
	CodeExecutionError        = "EXECUTION_ERROR"

	CodeScorerNotFound      = "SCORER_NOT_FOUND"
	CodeLoadError           = "LOAD_ERROR"
	CodeFileNotFound        = "FILE_NOT_FOUND"
	CodeReloadError         = "RELOAD_ERROR"
	CodeDuplicateScorer     = "DUPLICATE_SCORER"
	CodeMismatch            = "MISMATCH"
	CodeTypeError           = "TYPE_ERROR"
	CodeParseError          = "PARSE_ERROR"
	CodeDataValidationError = "DATA_VALIDATION_ERROR"

	CodeInternalError     = "INTERNAL_ERROR"
	CodeCancelUnsupported = "CANCEL_UNSUPPORTED"
	CodeResultWriteFailed = "RESULT_WRITE_FAILED"
	CodeCallbackFailed    = "CALLBACK_DELIVERY_FAILED"
)

// Error is the canonical failure payload. It is constructed at the point
// of failure and carried upward unchanged.
type Error struct {
	Stage   Stage          `json:"stage"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Logs    []string       `json:"logs,omitempty"`
}

func NewError(stage Stage, code, message string) *Error {
	return &Error{Stage: stage, Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %s", e.Stage, e.Code, e.Message)
}

// WithDetail attaches one detail entry and returns the same Error for
// call chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithLogs(lines ...string) *Error {
	e.Logs = append(e.Logs, lines...)
	return e
}
