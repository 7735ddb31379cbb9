package library

import (
	"io/fs"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 2 * time.Second

// Watcher rescans album directories when files under the library root
// change. Events are debounced per directory so a burst of writes
// (rips, copies) triggers one rescan.
type Watcher struct {
	scanner *Scanner
	root    string
	logger  *log.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]time.Time
}

func NewWatcher(scanner *Scanner, root string, logger *log.Logger) *Watcher {
	return &Watcher{
		scanner: scanner,
		root:    root,
		logger:  logger,
		stopCh:  make(chan struct{}),
		pending: make(map[string]time.Time),
	}
}

// Start begins watching the library tree.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addRecursive(w.root); err != nil {
		fsw.Close()
		return err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.flushLoop()
	return nil
}

// Stop halts the watcher and waits for its loops.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fsw != nil {
		w.fsw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(event.Name)
			if event.Op.Has(fsnotify.Create) {
				// New subdirectories need their own watch.
				if err := w.fsw.Add(event.Name); err == nil {
					dir = event.Name
				}
			}
			w.mu.Lock()
			w.pending[dir] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("LIBRARY: watch error: %v", err)
		}
	}
}

func (w *Watcher) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(watchDebounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.flushDue(time.Now())
		}
	}
}

func (w *Watcher) flushDue(now time.Time) {
	w.mu.Lock()
	var due []string
	for dir, last := range w.pending {
		if now.Sub(last) >= watchDebounce {
			due = append(due, dir)
			delete(w.pending, dir)
		}
	}
	w.mu.Unlock()

	for _, dir := range due {
		if _, err := w.scanner.ScanDir(dir); err != nil {
			w.logger.Printf("LIBRARY: rescan %s failed: %v", dir, err)
		}
	}
}
