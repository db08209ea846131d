// Package backfill imports a directory of saved chat pages through the
// regular capture pipeline, resuming where a previous run stopped.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/capture"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
)

// Config holds the import command configuration.
type Config struct {
	Dir        string
	StatePath  string
	Since      time.Time // skip files modified before this; zero imports all
	Force      bool      // commit regardless of policy
	DryRun     bool      // decide only, write nothing
	BatchSize  int       // save state every BatchSize files
	SingleFile string    // process a single file only
}

// Capturer runs one page through the pipeline.
type Capturer interface {
	Capture(ctx context.Context, page processor.Page, opts processor.Options) (*processor.Result, error)
}

// Summary reports what a run did.
type Summary struct {
	Files              int
	Skipped            int
	PagesCaptured      int
	ConversationsSaved int
	MessagesSaved      int
	Held               int
	Errors             int
	StatePath          string
}

// Runner orchestrates the import.
type Runner struct {
	cfg      Config
	capturer Capturer
	logger   *slog.Logger
}

// NewRunner creates an import runner.
func NewRunner(cfg Config, c Capturer, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, capturer: c, logger: logger}
}

// Run imports every pending file. Interruption saves progress and returns
// ctx.Err().
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return Summary{}, fmt.Errorf("load state: %w", err)
	}
	sum := Summary{StatePath: state.Path()}

	files, err := r.discoverFiles()
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}

	var todo []string
	for _, path := range files {
		if state.IsProcessed(path) {
			sum.Skipped++
			continue
		}
		todo = append(todo, path)
	}
	state.FilesRemaining = len(todo)
	r.logger.Info("files to import", "total", len(files), "pending", len(todo), "dry_run", r.cfg.DryRun)

	inBatch := 0
	for _, path := range todo {
		select {
		case <-ctx.Done():
			r.logger.Info("import interrupted, saving state")
			r.save(state)
			return sum, ctx.Err()
		default:
		}

		sum.Files++
		res, err := r.importFile(ctx, path)
		state.FilesRemaining--
		if err != nil {
			if ctx.Err() != nil {
				r.save(state)
				return sum, ctx.Err()
			}
			r.logger.Warn("import failed", "path", path, "error", err)
			state.AddError(fmt.Sprintf("%s: %v", path, err))
			sum.Errors++
			continue
		}

		sum.PagesCaptured++
		state.PagesCaptured++
		if res.Saved {
			sum.ConversationsSaved++
			sum.MessagesSaved += res.NewMessages
			state.ConversationsSaved++
			state.MessagesSaved += res.NewMessages
		}
		if res.Decision != nil && res.Decision.Outcome == capture.Held {
			sum.Held++
			state.Held++
		}
		// dry runs leave the state untouched so a real run still imports them
		if !r.cfg.DryRun {
			state.MarkProcessed(path)
		}

		inBatch++
		if inBatch >= r.cfg.BatchSize {
			r.save(state)
			inBatch = 0
		}
	}

	r.save(state)
	r.logger.Info("import complete",
		"files", sum.Files,
		"skipped", sum.Skipped,
		"conversations_saved", sum.ConversationsSaved,
		"messages_saved", sum.MessagesSaved,
		"held", sum.Held,
		"errors", sum.Errors,
		"dry_run", r.cfg.DryRun,
	)
	return sum, nil
}

func (r *Runner) importFile(ctx context.Context, path string) (*processor.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	html := string(raw)
	pageURL, err := processor.SourceURLFromHTML(html)
	if err != nil {
		return nil, err
	}

	res, err := r.capturer.Capture(ctx, processor.Page{URL: pageURL, HTML: html},
		processor.Options{Force: r.cfg.Force, DryRun: r.cfg.DryRun})
	if err != nil {
		return nil, err
	}
	if res.Generating {
		return nil, errors.New("page was saved while a reply was still generating")
	}
	r.logger.Debug("page imported", "path", path, "url", pageURL, "saved", res.Saved)
	return res, nil
}

func (r *Runner) save(state *ImportState) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Error("save import state failed", "path", state.Path(), "error", err)
	}
}

// discoverFiles lists .html/.htm files under Dir in lexical order.
func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		return []string{r.cfg.SingleFile}, nil
	}
	if r.cfg.Dir == "" {
		return nil, errors.New("no import directory")
	}

	var files []string
	err := filepath.WalkDir(r.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".html" && ext != ".htm" {
			return nil
		}
		if !r.cfg.Since.IsZero() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.ModTime().Before(r.cfg.Since) {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
