package reconcile

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 500 * time.Millisecond

// Watcher re-runs reconciliation when the desired-state file or the
// agents directory changes. Events are debounced so an editor's
// write-then-rename burst triggers a single run.
type Watcher struct {
	rec       *Reconciler
	statePath string
	agentsDir string
	fsw       *fsnotify.Watcher
}

// NewWatcher sets up filesystem watches. agentsDir may be empty.
func NewWatcher(rec *Reconciler, statePath, agentsDir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the state file's directory, not the file itself; atomic
	// saves replace the inode and would silently drop a file watch.
	if err := fsw.Add(filepath.Dir(statePath)); err != nil {
		fsw.Close()
		return nil, err
	}
	if agentsDir != "" {
		if err := fsw.Add(agentsDir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return &Watcher{rec: rec, statePath: statePath, agentsDir: agentsDir, fsw: fsw}, nil
}

// Run blocks until ctx is cancelled, reconciling after each debounced
// burst of changes. Failures are logged and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(debounceWindow)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("reconcile.watch_error", "error", err)

		case <-fire:
			timer, fire = nil, nil
			if _, err := w.rec.Reconcile(ctx, w.statePath, w.agentsDir); err != nil {
				slog.Error("reconcile.watch_apply_failed", "error", err)
			}
		}
	}
}

// relevant filters out sibling files in the state directory and
// non-markdown noise in the agents directory.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	if ev.Name == w.statePath {
		return true
	}
	if w.agentsDir != "" && filepath.Dir(ev.Name) == w.agentsDir {
		return filepath.Ext(ev.Name) == ".md"
	}
	return false
}
