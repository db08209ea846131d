// Package observer watches a chat page for mutations and turns each burst of
// them into one debounced capture.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/scheduler"
)

// Snapshot is the serialized page at one instant.
type Snapshot struct {
	URL     string
	Title   string
	HTML    string
	TakenAt time.Time
}

// Snapshotter serializes the current page.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Source is a page that reports its own mutations.
type Source interface {
	Snapshotter
	// Run calls notify on every observed mutation until ctx is done.
	Run(ctx context.Context, notify func()) error
}

// CaptureFunc receives the snapshot taken once the page has settled.
type CaptureFunc func(ctx context.Context, snap Snapshot)

// Observer debounces mutations from a source into captures.
type Observer struct {
	source  Snapshotter
	sched   scheduler.Scheduler
	delay   time.Duration
	capture CaptureFunc
	logger  *slog.Logger

	// held for the whole snapshot+capture; one capture per page at a time
	running sync.Mutex
}

func New(source Snapshotter, sched scheduler.Scheduler, delay time.Duration, capture CaptureFunc, logger *slog.Logger) *Observer {
	if delay <= 0 {
		delay = scheduler.DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{source: source, sched: sched, delay: delay, capture: capture, logger: logger}
}

// Notify records a mutation. Only the last one in a debounce window leads to
// a capture.
func (o *Observer) Notify(ctx context.Context) {
	o.sched.Schedule(o.delay, func() { o.fire(ctx) })
}

// Run observes src until ctx is done, then drops any pending capture.
func (o *Observer) Run(ctx context.Context, src Source) error {
	defer o.sched.Cancel()
	// the page as first seen is worth one capture
	o.Notify(ctx)
	return src.Run(ctx, func() { o.Notify(ctx) })
}

func (o *Observer) fire(ctx context.Context) {
	o.running.Lock()
	defer o.running.Unlock()
	if ctx.Err() != nil {
		return
	}
	snap, err := o.source.Snapshot(ctx)
	if err != nil {
		o.logger.Warn("snapshot failed", "error", err)
		return
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	o.logger.Debug("page settled", "url", snap.URL, "html_bytes", len(snap.HTML))
	o.capture(ctx, snap)
}
