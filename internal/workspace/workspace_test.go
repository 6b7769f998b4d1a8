package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvikhe/crucible/model"
)

const validMeta = `{
	"job_id": "job-001",
	"task_type": "classification",
	"scorer": "accuracy",
	"time_limit": 300,
	"resources": {"cpu": 2.0, "memory": "4Gi", "gpu": 0},
	"container": {"image": "python:3.12", "command": ["python", "infer.py"]}
}`

func makeWorkspace(t *testing.T, meta string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, InputDir), 0o755))
	if meta != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, MetaFile), []byte(meta), 0o644))
	}
	return root
}

func TestValidate_Success(t *testing.T) {
	root := makeWorkspace(t, validMeta)

	ws, merr := Validate(root)
	require.Nil(t, merr)
	require.Equal(t, root, ws.Root)
	require.Equal(t, "job-001", ws.Spec.JobID)
	require.Equal(t, "accuracy", ws.Spec.Scorer)
	require.Equal(t, 300, ws.Spec.TimeLimit)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T) string
		wantStage model.Stage
		wantCode  string
	}{
		{
			"missing root",
			func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			model.StageValidation, model.CodeWorkspaceNotFound,
		},
		{
			"root is a file",
			func(t *testing.T) string {
				f := filepath.Join(t.TempDir(), "ws")
				require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
				return f
			},
			model.StageValidation, model.CodeWorkspaceNotFound,
		},
		{
			"missing meta.json",
			func(t *testing.T) string { return makeWorkspace(t, "") },
			model.StageValidation, model.CodeMissingFile,
		},
		{
			"malformed meta.json",
			func(t *testing.T) string { return makeWorkspace(t, "{not json") },
			model.StageConfig, model.CodeConfigParseError,
		},
		{
			"out-of-range time limit",
			func(t *testing.T) string {
				meta := `{
					"job_id": "job-001",
					"task_type": "classification",
					"scorer": "accuracy",
					"time_limit": 30,
					"resources": {"cpu": 2.0, "memory": "4Gi"},
					"container": {"image": "python:3.12"}
				}`
				return makeWorkspace(t, meta)
			},
			model.StageConfig, model.CodeConfigValidationError,
		},
		{
			"missing input dir",
			func(t *testing.T) string {
				root := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(root, MetaFile), []byte(validMeta), 0o644))
				return root
			},
			model.StageValidation, model.CodeMissingFile,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ws, merr := Validate(tt.setup(t))
			require.Nil(t, ws)
			require.NotNil(t, merr)
			require.Equal(t, tt.wantStage, merr.Stage)
			require.Equal(t, tt.wantCode, merr.Code)
		})
	}
}

func TestValidate_NoRuntimeDirsCreated(t *testing.T) {
	root := makeWorkspace(t, validMeta)

	_, merr := Validate(root)
	require.Nil(t, merr)

	// Validation must be read-only; output/ and logs/ appear later.
	_, err := os.Stat(filepath.Join(root, OutputDir))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, LogsDir))
	require.True(t, os.IsNotExist(err))
}

func TestWorkspace_WriteReadResult(t *testing.T) {
	root := makeWorkspace(t, validMeta)
	ws, merr := Validate(root)
	require.Nil(t, merr)

	res := model.NewResult("accuracy", "1.0.0")
	res.Metrics["accuracy"] = 0.8
	res.Summary = model.Summary{Score: 0.8, PrimaryMetric: "accuracy"}
	require.NoError(t, ws.WriteResult(res))

	back, err := ws.ReadResult()
	require.NoError(t, err)
	require.Nil(t, back.Error)
	require.Equal(t, 0.8, back.Metrics["accuracy"])
	require.Equal(t, "accuracy", back.Versioning.Scorer)
	require.NoError(t, back.Verify())
}

func TestCheckPathLimits(t *testing.T) {
	deep := "/" + filepath.Join(
		"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k",
	)
	merr := checkPathLimits(deep)
	require.NotNil(t, merr)
	require.Equal(t, model.CodePathTooDeep, merr.Code)

	merr = checkPathLimits("/data/" + string(bytesOf(256)))
	require.NotNil(t, merr)
	require.Equal(t, model.CodePathSegmentTooLong, merr.Code)

	require.Nil(t, checkPathLimits("/data/workspaces/job-001"))
}

func bytesOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return b
}
