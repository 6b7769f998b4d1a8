package scorer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rvikhe/crucible/internal/workspace"
	"github.com/rvikhe/crucible/model"
)

type stubScorer struct {
	name    string
	version string
}

func (s *stubScorer) Name() string    { return s.name }
func (s *stubScorer) Version() string { return s.version }
func (s *stubScorer) Score(ctx context.Context, ws *workspace.Workspace, params map[string]string) (*model.Result, *model.Error) {
	res := model.NewResult(s.name, s.version)
	res.Metrics["score"] = 1
	return res, nil
}

const twoScorersYAML = `scorers:
  - name: accuracy
    version: 1.0.0
    kind: classification
  - name: rmse
    version: 2.1.0
    kind: regression
`

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scorers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	_, merr := r.Lookup("accuracy")
	require.NotNil(t, merr)
	require.Equal(t, model.CodeScorerNotFound, merr.Code)
	require.Equal(t, model.StageScorerManagement, merr.Stage)

	r.Register("accuracy", &stubScorer{name: "accuracy", version: "1.0.0"}, "1.0.0")

	impl, merr := r.Lookup("accuracy")
	require.Nil(t, merr)
	require.Equal(t, "accuracy", impl.Name())
}

func TestRegistry_LoadFromSource(t *testing.T) {
	r := NewRegistry()
	path := writeSource(t, twoScorersYAML)

	names, merr := r.LoadFromSource(path, false, false)
	require.Nil(t, merr)
	require.ElementsMatch(t, []string{"accuracy", "rmse"}, names)

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "1.0.0", list["accuracy"].Version)
	require.Equal(t, "classification", list["accuracy"].Kind)
	require.Equal(t, path, list["rmse"].Source)
}

func TestRegistry_LoadFromSource_MissingFile(t *testing.T) {
	r := NewRegistry()

	_, merr := r.LoadFromSource(filepath.Join(t.TempDir(), "nope.yaml"), false, false)
	require.NotNil(t, merr)
	require.Equal(t, model.CodeFileNotFound, merr.Code)
}

func TestRegistry_LoadFromSource_BadDefinition(t *testing.T) {
	r := NewRegistry()
	path := writeSource(t, `scorers:
  - name: broken
    kind: quantum
`)

	_, merr := r.LoadFromSource(path, false, false)
	require.NotNil(t, merr)
	require.Equal(t, model.CodeLoadError, merr.Code)
	require.Empty(t, r.List())
}

func TestRegistry_Reload_ReplacesBatch(t *testing.T) {
	r := NewRegistry()
	path := writeSource(t, twoScorersYAML)

	_, merr := r.LoadFromSource(path, false, false)
	require.Nil(t, merr)

	// Held references survive the swap.
	old, merr := r.Lookup("accuracy")
	require.Nil(t, merr)

	updated := `scorers:
  - name: accuracy
    version: 1.1.0
    kind: classification
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	names, merr := r.Reload(path, true)
	require.Nil(t, merr)
	require.Equal(t, []string{"accuracy"}, names)

	// rmse came from the same source and is gone after the reload.
	_, merr = r.Lookup("rmse")
	require.NotNil(t, merr)

	fresh, merr := r.Lookup("accuracy")
	require.Nil(t, merr)
	require.Equal(t, "1.1.0", fresh.Version())
	require.Equal(t, "1.0.0", old.Version())
}

func TestRegistry_Reload_FailureKeepsPrior(t *testing.T) {
	r := NewRegistry()
	path := writeSource(t, twoScorersYAML)

	_, merr := r.LoadFromSource(path, false, false)
	require.Nil(t, merr)

	require.NoError(t, os.WriteFile(path, []byte("scorers: [:::"), 0o644))

	_, merr = r.Reload(path, true)
	require.NotNil(t, merr)
	require.Equal(t, model.CodeReloadError, merr.Code)

	// Both scorers from the last good load still resolve.
	_, merr = r.Lookup("accuracy")
	require.Nil(t, merr)
	_, merr = r.Lookup("rmse")
	require.Nil(t, merr)
}

func TestRegistry_Reload_NeverLoaded(t *testing.T) {
	r := NewRegistry()

	_, merr := r.Reload("/tmp/never-loaded.yaml", false)
	require.NotNil(t, merr)
	require.Equal(t, model.CodeReloadError, merr.Code)
}

func TestRegistry_WatchPicksUpChange(t *testing.T) {
	r := NewRegistry()
	path := writeSource(t, twoScorersYAML)

	_, merr := r.LoadFromSource(path, false, false)
	require.Nil(t, merr)

	r.Watch(path, 20*time.Millisecond)
	defer r.Unwatch(path)
	require.Contains(t, r.Watched(), path)

	updated := `scorers:
  - name: accuracy
    version: 9.0.0
    kind: classification
`
	// Let mtime tick so the signature differs.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		impl, merr := r.Lookup("accuracy")
		return merr == nil && impl.Version() == "9.0.0"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRegistry_AutoWatchUsesConfiguredInterval(t *testing.T) {
	r := NewRegistry()
	r.SetWatchInterval(20 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, r.WatchInterval())

	path := writeSource(t, twoScorersYAML)
	_, merr := r.LoadFromSource(path, true, false)
	require.Nil(t, merr)
	defer r.Unwatch(path)
	require.Contains(t, r.Watched(), path)

	updated := `scorers:
  - name: accuracy
    version: 3.0.0
    kind: classification
`
	// Let mtime tick so the signature differs.
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	// With the default 5s interval this would not land within the window.
	require.Eventually(t, func() bool {
		impl, merr := r.Lookup("accuracy")
		return merr == nil && impl.Version() == "3.0.0"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistry_UnwatchIdempotent(t *testing.T) {
	r := NewRegistry()
	path := writeSource(t, twoScorersYAML)

	r.Watch(path, time.Hour)
	r.Unwatch(path)
	r.Unwatch(path)
	require.Empty(t, r.Watched())
}
