// Package watch triggers a pipeline run when source tables land in the
// source folder.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
)

// Trigger runs the pipeline. Errors are logged and watching continues.
type Trigger func(ctx context.Context) error

// ErrBusy is returned by a Trigger that could not start because another run
// holds the pipeline. The watcher tries again after the next debounce window.
var ErrBusy = eris.New("a pipeline run is already in progress")

// Watcher debounces file events in one folder into Trigger calls.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  Trigger
	tick     time.Duration
	ready    chan struct{}
}

// New creates a Watcher for dir. Events are coalesced until the folder has
// been quiet for debounce.
func New(dir string, debounce time.Duration, trigger Trigger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
		tick:     100 * time.Millisecond,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the folder is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. Tables already present when Run
// starts trigger one run once the debounce window has passed.
func (w *Watcher) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "watch"), zap.String("dir", w.dir))

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return eris.Wrapf(err, "watch: create %s", w.dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "watch: create watcher")
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.dir); err != nil {
		return eris.Wrapf(err, "watch: add %s", w.dir)
	}
	close(w.ready)
	log.Info("watch: watching for source tables")

	var pending time.Time
	existing, err := table.ListFiles(w.dir, false, table.SourceExts)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		pending = time.Now()
	}

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if relevant(ev) {
				log.Debug("watch: event", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
				pending = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch: watcher error", zap.Error(err))

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			log.Info("watch: source folder settled, starting run")
			err := w.trigger(ctx)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return nil
			case eris.Is(err, ErrBusy):
				log.Info("watch: pipeline busy, retrying after debounce")
				pending = time.Now()
			default:
				log.Error("watch: run failed", zap.Error(err))
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return slices.Contains(table.SourceExts, strings.ToLower(filepath.Ext(name)))
}
