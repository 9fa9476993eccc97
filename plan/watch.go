package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is how long the watcher collects changes before
	// validating them.
	DefaultDebounce = 500 * time.Millisecond

	reportChannelBuffer = 100
)

// WatchConfig configures a Watcher.
type WatchConfig struct {
	// Dir is watched recursively.
	Dir string

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Extensions lists plan file extensions. Defaults to .ttl.
	Extensions []string
}

// Watcher re-validates plan files under a directory when they change.
type Watcher struct {
	validator  *Validator
	dir        string
	debounce   time.Duration
	extensions map[string]bool
	watcher    *fsnotify.Watcher
	logger     *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}

	hashMu sync.Mutex
	hashes map[string]string

	reports chan FileReport
	dropped atomic.Int64
}

// NewWatcher creates a watcher. Call Start to begin watching.
func (v *Validator) NewWatcher(cfg WatchConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	exts := make(map[string]bool)
	if len(cfg.Extensions) == 0 {
		exts[".ttl"] = true
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[strings.ToLower(ext)] = true
	}
	return &Watcher{
		validator:  v,
		dir:        cfg.Dir,
		debounce:   cfg.Debounce,
		extensions: exts,
		watcher:    fsw,
		logger:     v.logger,
		pending:    make(map[string]struct{}),
		hashes:     make(map[string]string),
		reports:    make(chan FileReport, reportChannelBuffer),
	}, nil
}

// Reports returns the channel of validation results. It is closed when the
// watcher stops.
func (w *Watcher) Reports() <-chan FileReport {
	return w.reports
}

// Start adds watches below the directory and processes events until ctx is
// done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.dir); err != nil {
		return err
	}
	go w.processEvents(ctx)
	w.logger.Info("Plan watcher started", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Dropped returns the number of reports dropped because the channel was full.
func (w *Watcher) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if base := d.Name(); strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.reports)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Plan watcher error", "error", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if !w.extensions[strings.ToLower(filepath.Ext(path))] {
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				if err := w.addWatchesRecursive(path); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
				}
			}
		}
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.hashMu.Lock()
		delete(w.hashes, path)
		w.hashMu.Unlock()
		return
	}
	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
}

func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	paths := w.pending
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for path := range paths {
		if ctx.Err() != nil {
			return
		}
		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("Failed to read plan", "path", path, "error", err)
			}
			continue
		}
		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])

		w.hashMu.Lock()
		unchanged := w.hashes[path] == hash
		w.hashes[path] = hash
		w.hashMu.Unlock()
		if unchanged {
			continue
		}

		r, err := w.validator.ValidateFile(path)
		w.send(FileReport{Path: path, Report: r, Err: err})
	}
}

func (w *Watcher) send(r FileReport) {
	select {
	case w.reports <- r:
	default:
		dropped := w.dropped.Add(1)
		w.logger.Warn("Report channel full, dropping report", "path", r.Path, "total_dropped", dropped)
	}
}
