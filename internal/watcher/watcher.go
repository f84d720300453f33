// Package watcher turns filesystem change events into debounced build
// triggers, respecting the configured include and exclude patterns.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/necessary-nu/tracey/internal/config"
	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/walker"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one relevant filesystem change.
type Event struct {
	Type      EventType
	Path      string // canonical workspace-relative path
	Config    bool   // the config file itself changed
	Timestamp time.Time
}

// ChangeHandler receives one debounced batch per build trigger.
type ChangeHandler func(events []Event)

// Config contains watcher configuration.
type Config struct {
	DebounceMs int
	MaxDelayMs int
}

// DefaultConfig returns the default coalescing windows.
func DefaultConfig() Config {
	return Config{
		DebounceMs: 200,
		MaxDelayMs: 2000,
	}
}

// Watcher watches every directory implied by the configured patterns
// plus the config file itself.
type Watcher struct {
	root    string
	cfg     Config
	logger  *logging.Logger
	handler ChangeHandler

	walker    *walker.Walker
	debouncer *BatchDebouncer

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	patterns []patternSet
	done     chan struct{}
	wg       sync.WaitGroup
}

// patternSet is one (include, exclude) pair to match events against.
type patternSet struct {
	includes []string
	excludes []string
}

// New creates a watcher for a workspace root.
func New(root string, cfg Config, logger *logging.Logger, handler ChangeHandler) *Watcher {
	w := &Watcher{
		root:    root,
		cfg:     cfg,
		logger:  logger,
		handler: handler,
		walker:  walker.New(root),
	}
	w.debouncer = NewBatchDebouncer(
		time.Duration(cfg.DebounceMs)*time.Millisecond,
		time.Duration(cfg.MaxDelayMs)*time.Millisecond,
		w.emit,
	)
	return w
}

// Start begins watching the directories implied by the workspace
// configuration.
func (w *Watcher) Start(wsCfg *config.Config) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.fsw = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.Reconfigure(wsCfg)

	w.wg.Add(1)
	go w.loop(fsw)

	w.logger.Info("File watcher started", map[string]interface{}{
		"debounceMs": w.cfg.DebounceMs,
	})
	return nil
}

// Reconfigure re-derives watched directories and match patterns from a
// new workspace configuration.
func (w *Watcher) Reconfigure(wsCfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}

	for _, dir := range w.fsw.WatchList() {
		_ = w.fsw.Remove(dir)
	}

	w.patterns = nil
	var allPatterns []string
	if wsCfg != nil {
		for i := range wsCfg.Specs {
			sc := &wsCfg.Specs[i]
			w.patterns = append(w.patterns, patternSet{includes: sc.Include})
			allPatterns = append(allPatterns, sc.Include...)
			for j := range sc.Impls {
				ic := &sc.Impls[j]
				includes := append(append([]string{}, ic.EffectiveInclude()...), ic.TestInclude...)
				w.patterns = append(w.patterns, patternSet{includes: includes, excludes: ic.Exclude})
				allPatterns = append(allPatterns, includes...)
			}
		}
	}

	for _, dir := range walker.BaseDirs(allPatterns) {
		w.addRecursive(paths.Join(w.root, dir))
	}

	// The config file's directory is always watched, so creation of a
	// missing config is seen.
	cfgDir := filepath.Dir(paths.ConfigPath(w.root))
	if err := os.MkdirAll(cfgDir, 0o755); err == nil {
		_ = w.fsw.Add(cfgDir)
	}
}

// addRecursive watches dir and every subdirectory not pruned by
// repository-ignore rules.
func (w *Watcher) addRecursive(dir string) {
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel := paths.Canonicalize(path, w.root)
		if d.Name() == ".git" || d.Name() == paths.StateDirName {
			return filepath.SkipDir
		}
		if rel != "." && w.walker.IgnoredDir(rel) {
			return filepath.SkipDir
		}
		_ = w.fsw.Add(path)
		return nil
	})
}

// Stop stops watching and flushes nothing.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	close(done)
	err := fsw.Close()
	w.wg.Wait()
	w.debouncer.Cancel()
	w.logger.Info("File watcher stopped", nil)
	return err
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	rel := paths.Canonicalize(ev.Name, w.root)

	// New directories under a watched tree are added on the fly.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addRecursive(ev.Name)
			return
		}
	}

	isConfig := rel == paths.ConfigRelPath
	if !isConfig && !w.matchesAny(rel) {
		return
	}

	w.debouncer.Add(Event{
		Type:      eventType(ev.Op),
		Path:      rel,
		Config:    isConfig,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) matchesAny(rel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ps := range w.patterns {
		if w.walker.MatchesFile(rel, ps.includes, ps.excludes) {
			return true
		}
	}
	return false
}

func (w *Watcher) emit(events []Event) {
	w.logger.Debug("Change batch", map[string]interface{}{
		"eventCount": len(events),
	})
	if w.handler != nil {
		w.handler(events)
	}
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate
	case op.Has(fsnotify.Remove):
		return EventDelete
	case op.Has(fsnotify.Rename):
		return EventRename
	default:
		return EventModify
	}
}
