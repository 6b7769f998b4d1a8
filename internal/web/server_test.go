package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rvikhe/crucible/internal/cache/freecache"
	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/executor"
	"github.com/rvikhe/crucible/internal/pipeline"
	"github.com/rvikhe/crucible/internal/queue/memory"
	"github.com/rvikhe/crucible/internal/scheduler"
	"github.com/rvikhe/crucible/internal/scorer"
	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

const scorersYAML = `scorers:
  - name: accuracy
    version: 1.0.0
    kind: classification
`

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	src := filepath.Join(t.TempDir(), "scorers.yaml")
	require.NoError(t, os.WriteFile(src, []byte(scorersYAML), 0o644))

	registry := scorer.NewRegistry()
	_, merr := registry.LoadFromSource(src, false, false)
	require.Nil(t, merr)

	ctrl := pipeline.NewController(executor.NewLocalExecutor(), registry)
	q := memory.NewMemoryQueue(16)
	c := freecache.NewFreeCache(1024*1024, 60)

	schedCfg := &config.SchedulerConfig{
		WORKER_COUNT:     2,
		CALLBACK_TIMEOUT: 2,
		CALLBACK_RETRIES: 1,
		RESULT_CACHE_TTL: 60,
	}
	sched := scheduler.NewScheduler(schedCfg, ctrl, q, c, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))

	srv := httptest.NewServer(NewServer(sched, registry, &config.RegistryConfig{WATCH_INTERVAL: 1}).Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		q.Shutdown()
	})
	return srv, src
}

func webWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, workspace.InputDir), 0o755))

	gt := "id,label\n1,cat\n2,dog\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, workspace.InputDir, "gt.csv"), []byte(gt), 0o644))

	meta := `{
		"job_id": "job-web",
		"task_type": "classification",
		"scorer": "accuracy",
		"resources": {"cpu": 1.0, "memory": "512Mi"},
		"container": {"image": "unused", "command": ["sh", "-c", "cp input/gt.csv output/pred.csv"]}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(root, workspace.MetaFile), []byte(meta), 0o644))
	return root
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return res
}

func TestServer_SubmitAndPoll(t *testing.T) {
	srv, _ := newTestServer(t)
	root := webWorkspace(t)

	res := postJSON(t, srv.URL+"/task", map[string]any{
		"workspace": root,
		"action":    "pipeline",
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	var submit model.SubmitResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&submit))
	require.True(t, submit.Submitted)
	require.NotEmpty(t, submit.TaskID)

	var task model.Task
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/task/" + submit.TaskID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			return false
		}
		return task.State == model.TaskSuccess
	}, 10*time.Second, 50*time.Millisecond)

	require.Nil(t, task.Error)
	require.NotNil(t, task.Result)
	require.InDelta(t, 1.0, task.Result.Metrics["accuracy"], 1e-9)
}

func TestServer_SubmitValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/task", map[string]any{"action": "pipeline"})
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = postJSON(t, srv.URL+"/task", map[string]any{"workspace": "/x", "action": "replay"})
	res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestServer_GetUnknownTask(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/task/does-not-exist")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServer_CancelDisabled(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/task/some-id", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotImplemented, res.StatusCode)
}

func TestServer_ScorerManagement(t *testing.T) {
	srv, src := newTestServer(t)

	// List shows what the registry booted with.
	res, err := http.Get(srv.URL + "/scorers")
	require.NoError(t, err)
	var listing struct {
		Scorers map[string]scorer.Metadata `json:"scorers"`
		Watched []string                   `json:"watched"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&listing))
	res.Body.Close()
	require.Contains(t, listing.Scorers, "accuracy")
	require.Empty(t, listing.Watched)

	// Load a second source.
	other := filepath.Join(t.TempDir(), "more.yaml")
	require.NoError(t, os.WriteFile(other, []byte(`scorers:
  - name: rmse
    kind: regression
`), 0o644))

	res = postJSON(t, srv.URL+"/scorers/load", map[string]any{"path": other})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	// Reload the first source after an edit.
	require.NoError(t, os.WriteFile(src, []byte(`scorers:
  - name: accuracy
    version: 2.0.0
    kind: classification
`), 0o644))
	res = postJSON(t, srv.URL+"/scorers/reload", map[string]any{"path": src, "force": true})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(srv.URL + "/scorers")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&listing))
	res.Body.Close()
	require.Equal(t, "2.0.0", listing.Scorers["accuracy"].Version)
	require.Contains(t, listing.Scorers, "rmse")

	// Watch, then unwatch.
	res = postJSON(t, srv.URL+"/scorers/watch", map[string]any{"path": src})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/scorers/watch", bytes.NewReader([]byte(`{"path":"`+src+`"}`)))
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServer_LoadBadSource(t *testing.T) {
	srv, _ := newTestServer(t)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scorers: [:::"), 0o644))

	res := postJSON(t, srv.URL+"/scorers/load", map[string]any{"path": bad})
	defer res.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	var body struct {
		Error *model.Error `json:"error"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, model.CodeLoadError, body.Error.Code)
}
