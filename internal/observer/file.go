package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File observes an HTML snapshot on disk that something else keeps rewriting,
// such as a browser extension or a scraper.
type File struct {
	path    string
	pageURL string
	logger  *slog.Logger
}

var _ Source = (*File)(nil)

// NewFile watches path. pageURL is the address the snapshot was taken from.
func NewFile(path, pageURL string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, pageURL: pageURL, logger: logger}
}

func (f *File) Snapshot(_ context.Context) (Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Snapshot{URL: f.pageURL, HTML: string(raw), TakenAt: time.Now().UTC()}, nil
}

// Run watches the parent directory so editors that replace the file by
// rename are still seen.
func (f *File) Run(ctx context.Context, notify func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("snapshot watcher error", "path", f.path, "error", err)
		}
	}
}
