package chains

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/regardsoss/dataprovider/internal/pkg/dbctx"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
)

const defaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads chain definitions whenever a YAML file of its directory changes.
// Removing a file never deletes the chain it defined.
type Watcher struct {
	dir      string
	svc      *Service
	log      *logger.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewWatcher(dir string, svc *Service, baseLog *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		svc:      svc,
		log:      baseLog.With("component", "ChainDefinitionWatcher", "dir", dir),
		debounce: defaultReloadDebounce,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start loads the directory once, then reloads on change until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.reload(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(filepath.Base(ev.Name)) {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	defs, err := LoadDefinitions(w.dir)
	if err != nil {
		w.log.Warn("some chain definitions could not be read", "error", err)
	}
	if len(defs) == 0 {
		return
	}
	report, err := w.svc.Sync(dbctx.Context{Ctx: ctx}, defs)
	if err != nil {
		w.log.Error("chain definitions sync failed", "error", err)
	}
	w.log.Info("chain definitions synced",
		"created", len(report.Created),
		"updated", len(report.Updated),
		"skipped", len(report.Skipped),
	)
}
