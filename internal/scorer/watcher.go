package scorer

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rvikhe/crucible/internal/service/logger"
)

const defaultWatchInterval = 5 * time.Second

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Watch starts a background loop that reloads path whenever its
// modification signature changes. A positive interval selects polling;
// interval <= 0 selects inotify events. Reload failures inside the loop
// are logged and swallowed so one bad write cannot kill the watch.
func (r *Registry) Watch(path string, interval time.Duration) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	if _, ok := r.watchers[path]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel, done: make(chan struct{})}
	r.watchers[path] = w

	if interval > 0 {
		go r.pollLoop(ctx, path, interval, w.done)
	} else {
		go r.notifyLoop(ctx, path, w.done)
	}
	logger.Log.Info().Str("path", path).Dur("interval", interval).Msg("watching scorer source")
}

// SetWatchInterval overrides the interval applied when a load
// auto-watches its source. Zero or negative selects inotify events.
func (r *Registry) SetWatchInterval(d time.Duration) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	r.interval = d
}

// WatchInterval reports the interval auto-watched sources use.
func (r *Registry) WatchInterval() time.Duration {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	return r.interval
}

// Unwatch stops the loop for path. Idempotent.
func (r *Registry) Unwatch(path string) {
	r.wmu.Lock()
	w, ok := r.watchers[path]
	if ok {
		delete(r.watchers, path)
	}
	r.wmu.Unlock()

	if ok {
		w.cancel()
		<-w.done
	}
}

// Watched returns the set of currently watched source paths.
func (r *Registry) Watched() []string {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	out := make([]string, 0, len(r.watchers))
	for p := range r.watchers {
		out = append(out, p)
	}
	return out
}

func (r *Registry) pollLoop(ctx context.Context, path string, interval time.Duration, done chan struct{}) {
	defer close(done)

	last, _ := signatureOf(path)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sig, err := signatureOf(path)
			if err != nil {
				logger.Log.Warn().Err(err).Str("path", path).Msg("watched scorer source unreadable")
				continue
			}
			if sig == last {
				continue
			}
			last = sig
			r.reloadWatched(path)
		}
	}
}

func (r *Registry) notifyLoop(ctx context.Context, path string, done chan struct{}) {
	defer close(done)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Log.Error().Err(err).Str("path", path).Msg("unable to start fsnotify watcher")
		return
	}
	defer fw.Close()

	if err := fw.Add(path); err != nil {
		logger.Log.Error().Err(err).Str("path", path).Msg("unable to watch scorer source")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.reloadWatched(path)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Log.Warn().Err(err).Str("path", path).Msg("fsnotify error on scorer source")
		}
	}
}

func (r *Registry) reloadWatched(path string) {
	names, merr := r.Reload(path, true)
	if merr != nil {
		logger.Log.Error().Str("path", path).Str("code", merr.Code).
			Msg("automatic scorer reload failed, keeping previous registrations")
		return
	}
	logger.Log.Info().Str("path", path).Strs("scorers", names).Msg("scorer source reloaded")
}
