package workspace

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/phxlens/phxlens/pkg/parser"
	"github.com/phxlens/phxlens/pkg/util"
)

// DefaultDebounceMs groups editor save bursts into one reindex.
const DefaultDebounceMs = 500

// WatchOptions configures the file watcher.
type WatchOptions struct {
	// DebounceMs delays reindexing after a write; every further write
	// within the window reschedules it. 0 means DefaultDebounceMs.
	DebounceMs int

	// Ignore globs, matched against the root-relative path, on top of
	// the scanner's built-in directory skip list.
	Ignore []string
}

// Watcher feeds filesystem changes into the dispatcher. Writes and
// creates are debounced per file; removes and renames drop the file's
// facts immediately so queries never see a deleted file.
type Watcher struct {
	fsw        *fsnotify.Watcher
	dispatcher *Dispatcher
	options    WatchOptions
	logger     *slog.Logger

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	mu       sync.Mutex
	root     string
	stopChan chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
}

// NewWatcher creates a watcher that notifies dispatcher.
func NewWatcher(dispatcher *Dispatcher, options WatchOptions, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if options.DebounceMs <= 0 {
		options.DebounceMs = DefaultDebounceMs
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		fsw:            fsw,
		dispatcher:     dispatcher,
		options:        options,
		logger:         logger,
		debounceTimers: make(map[string]*time.Timer),
		stopChan:       make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Start watches root and every directory below it, then processes
// events in a background goroutine until Stop.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher already stopped")
	}
	w.root = root
	w.mu.Unlock()

	if err := w.addRecursive(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	w.logger.Info("file watcher started",
		"root", root, "debounce_ms", w.options.DebounceMs)

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.eventLoop()
	return nil
}

// addRecursive registers root and its subdirectories, skipping ignored
// ones. fsnotify watches are per-directory, so new subdirectories get
// added as their create events arrive.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if w.shouldIgnore(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Stop halts event processing and cancels pending debounce timers.
// Idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	close(w.stopChan)
	w.mu.Unlock()

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceTimers = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	w.logger.Info("file watcher stopped")
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if w.shouldIgnore(path, false) {
		return
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchNewDirectory(path)
			return
		}
	}

	if parser.DetectLanguage(path) == parser.LanguageUnknown {
		return
	}

	util.Debugf(util.DebugWatcher, "fs event", "op", event.Op.String(), "path", path)

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		w.debounce(path)

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.cancelPending(path)
		w.dispatcher.FileClosed(path)
	}
}

// watchNewDirectory attaches watches below dir and schedules the files
// already inside it. Files written between mkdir and the watch
// attaching produce no events, so the walk is the only way they get
// indexed.
func (w *Watcher) watchNewDirectory(dir string) {
	if w.shouldIgnore(dir, true) {
		return
	}
	if err := w.addRecursive(dir); err != nil {
		w.logger.Warn("failed to watch new directory", "path", dir, "error", err)
		return
	}

	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if w.shouldIgnore(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if parser.DetectLanguage(path) != parser.LanguageUnknown && !w.shouldIgnore(path, false) {
			w.debounce(path)
		}
		return nil
	})
}

// debounce schedules the reindex, replacing any timer already pending
// for the path so a burst of writes costs one parse.
func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(
		time.Duration(w.options.DebounceMs)*time.Millisecond,
		func() {
			w.debounceMu.Lock()
			delete(w.debounceTimers, path)
			w.debounceMu.Unlock()
			w.reindex(path)
		},
	)
}

func (w *Watcher) cancelPending(path string) {
	w.debounceMu.Lock()
	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()
}

func (w *Watcher) reindex(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		// Deleted between the event and the timer firing.
		w.logger.Warn("failed to read changed file", "path", path, "error", err)
		return
	}
	w.dispatcher.FileChanged(path, content)
}

// shouldIgnore applies the built-in directory skip list and the
// configured ignore globs.
func (w *Watcher) shouldIgnore(path string, isDir bool) bool {
	base := filepath.Base(path)
	if skipDirNames[base] && isDir {
		return true
	}

	w.mu.Lock()
	root := w.root
	w.mu.Unlock()
	rel := relPath(root, path)
	if rel == "priv/static" && isDir {
		return true
	}

	for _, pattern := range w.options.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// PendingReindexes reports how many files are waiting out a debounce
// window.
func (w *Watcher) PendingReindexes() int {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	return len(w.debounceTimers)
}
