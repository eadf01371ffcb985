package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// FileActivity
// ///////////////////////////////////////////////

// FileActivity tracks recent writes to Claude Code session transcripts under
// a project directory tree (~/.claude/projects/<project>/<session>.jsonl).
// It uses fsnotify as the primary change detection mechanism and falls back
// to stat-based polling if fsnotify is unavailable.
//
// The tracked state is a map of recently-touched session files (path →
// modification time and size) plus the time of the most recent event, which
// the CLI source reads on every poll.
type FileActivity struct {
	// dir is the root of the watched project tree.
	dir string
	// ignore is a list of doublestar glob patterns; matching paths are
	// not recorded.
	ignore []string

	mu sync.Mutex
	// files maps session file path to its last observed stat.
	files map[string]fileStat
	// lastEvent is the time of the most recent recorded write.
	lastEvent time.Time
	// lastPath is the session file behind lastEvent.
	lastPath string

	// fsw is the underlying fsnotify watcher; nil when polling.
	fsw *fsnotify.Watcher
	// done is closed by [FileActivity.Close] to signal goroutines to exit.
	done chan struct{}
	// once ensures [FileActivity.Close] is idempotent.
	once sync.Once
	// polling is true when the watcher has fallen back to stat-based polling.
	polling atomic.Bool
	// pollInterval is the duration between directory scans in polling mode.
	pollInterval time.Duration
}

// fileStat is the recorded state of one session file.
type fileStat struct {
	modTime time.Time
	size    int64
}

// NewFileActivity starts watching dir for session transcript writes.
// Paths matching an ignore pattern are never recorded. If dir cannot be
// watched (missing, fsnotify unavailable) the tracker falls back to polling;
// construction only fails on a nil-equivalent misuse, not on environment.
func NewFileActivity(dir string, ignore []string) *FileActivity {
	fa := &FileActivity{
		dir:          dir,
		ignore:       ignore,
		files:        make(map[string]fileStat),
		done:         make(chan struct{}),
		pollInterval: 2 * time.Second,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to polling", "error", err)
		fa.startPolling()
		return fa
	}

	fa.fsw = fsw
	if err := fa.addWatches(); err != nil {
		slog.Info("cannot watch project tree, falling back to polling", "dir", dir, "error", err)
		fsw.Close()
		fa.fsw = nil
		fa.startPolling()
		return fa
	}

	go fa.watch()
	return fa
}

// addWatches registers the root directory and each existing project
// subdirectory. Session files live one level below the root; new project
// directories are added from create events as they appear.
func (fa *FileActivity) addWatches() error {
	if err := fa.fsw.Add(fa.dir); err != nil {
		return fmt.Errorf("watch %s: %w", fa.dir, err)
	}
	entries, err := os.ReadDir(fa.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", fa.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(fa.dir, e.Name())
		if err := fa.fsw.Add(sub); err != nil {
			slog.Debug("cannot watch project dir", "dir", sub, "error", err)
		}
	}
	return nil
}

// watch loops over fsnotify events, recording transcript writes and adding
// watches for newly created project directories. On a watcher error the
// native watcher is closed and the tracker falls back to polling.
func (fa *FileActivity) watch() {
	for {
		select {
		case <-fa.done:
			return
		case event, ok := <-fa.fsw.Events:
			if !ok {
				return
			}
			fa.handleEvent(event)
		case err, ok := <-fa.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			fa.fsw.Close()
			fa.fsw = nil
			fa.startPolling()
			return
		}
	}
}

// handleEvent processes one fsnotify event.
func (fa *FileActivity) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fa.fsw.Add(event.Name); err != nil {
				slog.Debug("cannot watch new project dir", "dir", event.Name, "error", err)
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if !isSessionFile(event.Name) {
		return
	}
	fa.record(event.Name, time.Now())
}

// isSessionFile reports whether name looks like a Claude Code session
// transcript.
func isSessionFile(name string) bool {
	return strings.HasSuffix(filepath.Base(name), ".jsonl")
}

// record updates the tracked state for one session file write.
func (fa *FileActivity) record(path string, at time.Time) {
	if fa.isIgnored(path) {
		return
	}

	st := fileStat{modTime: at}
	if info, err := os.Stat(path); err == nil {
		st.modTime = info.ModTime()
		st.size = info.Size()
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.files[path] = st
	if at.After(fa.lastEvent) {
		fa.lastEvent = at
		fa.lastPath = path
	}
}

// isIgnored reports whether path matches any configured ignore pattern.
func (fa *FileActivity) isIgnored(path string) bool {
	for _, pattern := range fa.ignore {
		matched, err := doublestar.Match(pattern, filepath.ToSlash(path))
		if err != nil {
			slog.Warn("invalid ignore pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// startPolling launches the stat-based fallback loop.
func (fa *FileActivity) startPolling() {
	fa.polling.Store(true)
	go fa.poll()
}

// poll periodically scans the project tree and records any session file whose
// modification time advanced since the last scan.
func (fa *FileActivity) poll() {
	fa.scan()

	ticker := time.NewTicker(fa.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fa.done:
			return
		case <-ticker.C:
			fa.scan()
		}
	}
}

// scan walks the two-level project tree and records files newer than their
// last observed stat.
func (fa *FileActivity) scan() {
	entries, err := os.ReadDir(fa.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(fa.dir, e.Name())
		files, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !isSessionFile(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(sub, f.Name())
			fa.mu.Lock()
			prev, seen := fa.files[path]
			fa.mu.Unlock()
			if !seen || info.ModTime().After(prev.modTime) {
				fa.record(path, info.ModTime())
			}
		}
	}
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

// LastEvent returns the time and file path of the most recent recorded write.
// The zero time means no write has been observed.
func (fa *FileActivity) LastEvent() (time.Time, string) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.lastEvent, fa.lastPath
}

// TrackedFiles returns the number of session files currently tracked.
func (fa *FileActivity) TrackedFiles() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.files)
}

// Polling reports whether the tracker is using polling instead of fsnotify.
func (fa *FileActivity) Polling() bool {
	return fa.polling.Load()
}

// Close stops the tracker and releases the fsnotify watch handles.
func (fa *FileActivity) Close() error {
	var err error
	fa.once.Do(func() {
		close(fa.done)
		if fa.fsw != nil {
			if closeErr := fa.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}
