package scorer

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/model"
)

// registration binds one scorer to the source file it came from. Entries
// are immutable once published into a snapshot.
type registration struct {
	scorer  Scorer
	version string
	source  string
	kind    string
}

type snapshot map[string]*registration

// sourceState remembers what a definition file last produced, so reloads
// can replace exactly its registrations and watches can detect change.
type sourceState struct {
	names []string
	sig   fileSignature
}

type fileSignature struct {
	size    int64
	modTime time.Time
}

func signatureOf(path string) (fileSignature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileSignature{}, err
	}
	return fileSignature{size: info.Size(), modTime: info.ModTime()}, nil
}

// Registry is the process-scoped scorer index. Readers load one snapshot
// pointer and keep using it for the duration of their call; writers build
// a new snapshot and swap it in atomically, so no reader ever observes a
// half-updated entry.
type Registry struct {
	snap atomic.Pointer[snapshot]

	mu      sync.Mutex // serializes writers
	sources map[string]*sourceState

	wmu      sync.Mutex
	watchers map[string]*watcher
	interval time.Duration // used when a load auto-watches its source
}

func NewRegistry() *Registry {
	r := &Registry{
		sources:  map[string]*sourceState{},
		watchers: map[string]*watcher{},
		interval: defaultWatchInterval,
	}
	empty := snapshot{}
	r.snap.Store(&empty)
	return r
}

// Register inserts or overwrites one mapping. Safe to call while lookups
// are in flight.
func (r *Registry) Register(name string, impl Scorer, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish(func(next snapshot) {
		next[name] = &registration{scorer: impl, version: version}
	})
}

// publish copies the current snapshot, applies mutate, and swaps the
// result in. Callers must hold r.mu.
func (r *Registry) publish(mutate func(next snapshot)) {
	cur := *r.snap.Load()
	next := make(snapshot, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	mutate(next)
	r.snap.Store(&next)
}

// Lookup returns a fully-initialized scorer or a SCORER_NOT_FOUND error.
// The returned scorer stays valid for the caller even if a reload swaps
// the registry underneath it.
func (r *Registry) Lookup(name string) (Scorer, *model.Error) {
	cur := *r.snap.Load()
	reg, ok := cur[name]
	if !ok {
		return nil, model.NewError(model.StageScorerManagement, model.CodeScorerNotFound,
			fmt.Sprintf("scorer %q is not registered", name)).
			WithDetail("scorer", name)
	}
	return reg.scorer, nil
}

// List returns metadata for every live registration.
func (r *Registry) List() map[string]Metadata {
	cur := *r.snap.Load()
	out := make(map[string]Metadata, len(cur))
	for name, reg := range cur {
		out[name] = Metadata{
			Name:    name,
			Version: reg.version,
			Source:  reg.source,
			Kind:    reg.kind,
		}
	}
	return out
}

// LoadFromSource parses a scorer definition file and registers everything
// it declares as one atomic batch. A path that is already loaded is a
// no-op unless forceReload is set.
func (r *Registry) LoadFromSource(path string, autoWatch bool, forceReload bool) ([]string, *model.Error) {
	r.mu.Lock()

	if st, ok := r.sources[path]; ok && !forceReload {
		names := append([]string(nil), st.names...)
		r.mu.Unlock()
		return names, nil
	}

	names, merr := r.loadLocked(path, model.CodeLoadError)
	r.mu.Unlock()
	if merr != nil {
		return nil, merr
	}

	if autoWatch {
		r.Watch(path, r.WatchInterval())
	}
	return names, nil
}

// Reload re-parses a previously loaded source and atomically replaces the
// registrations that came from it. On failure the prior registrations
// stay intact.
func (r *Registry) Reload(path string, forceReload bool) ([]string, *model.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sources[path]
	if !ok {
		return nil, model.NewError(model.StageScorerManagement, model.CodeReloadError,
			fmt.Sprintf("source %s was never loaded", path)).
			WithDetail("path", path)
	}

	if !forceReload {
		if sig, err := signatureOf(path); err == nil && sig == st.sig {
			return append([]string(nil), st.names...), nil
		}
	}

	return r.loadLocked(path, model.CodeReloadError)
}

// loadLocked parses path and publishes its scorers, dropping any prior
// registrations from the same source. Callers must hold r.mu. failCode
// distinguishes first load (LOAD_ERROR) from reload (RELOAD_ERROR).
func (r *Registry) loadLocked(path string, failCode string) ([]string, *model.Error) {
	sig, err := signatureOf(path)
	if err != nil {
		return nil, model.NewError(model.StageScorerManagement, model.CodeFileNotFound,
			fmt.Sprintf("scorer source %s: %v", path, err)).
			WithDetail("path", path)
	}

	defs, err := parseDefinitions(path)
	if err != nil {
		return nil, model.NewError(model.StageScorerManagement, failCode,
			fmt.Sprintf("unable to parse scorer source %s: %v", path, err)).
			WithDetail("path", path)
	}

	built := make([]*registration, 0, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		impl, err := buildScorer(def)
		if err != nil {
			return nil, model.NewError(model.StageScorerManagement, failCode,
				fmt.Sprintf("invalid scorer definition %q in %s: %v", def.Name, path, err)).
				WithDetail("path", path).
				WithDetail("scorer", def.Name)
		}
		built = append(built, &registration{
			scorer:  impl,
			version: def.Version,
			source:  path,
			kind:    def.Kind,
		})
		names = append(names, def.Name)
	}

	prior := map[string]bool{}
	if st, ok := r.sources[path]; ok {
		for _, n := range st.names {
			prior[n] = true
		}
	}

	r.publish(func(next snapshot) {
		for name := range prior {
			if reg, ok := next[name]; ok && reg.source == path {
				delete(next, name)
			}
		}
		for i, reg := range built {
			next[names[i]] = reg
		}
	})
	r.sources[path] = &sourceState{names: names, sig: sig}

	logger.Log.Info().Str("path", path).Strs("scorers", names).Msg("scorer source loaded")
	return names, nil
}
