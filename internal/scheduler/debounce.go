// Package scheduler coalesces bursts of page mutations into a single capture.
package scheduler

import (
	"sync"
	"time"
)

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = time.Second

// Scheduler runs at most one pending task.
type Scheduler interface {
	// Schedule replaces any pending task with task, to run after delay.
	Schedule(delay time.Duration, task func())
	// Cancel drops the pending task. A task already running is not interrupted.
	Cancel()
	Pending() bool
}

// Debouncer is a single-slot Scheduler on time.AfterFunc.
type Debouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
}

var _ Scheduler = (*Debouncer)(nil)

func NewDebouncer() *Debouncer {
	return &Debouncer{}
}

func (d *Debouncer) Schedule(delay time.Duration, task func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		// a timer that fired just as it was replaced must not run
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()

		task()
	})
}

func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
	d.pending = false
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
