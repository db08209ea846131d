package observer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/scheduler"
)

type fakeSource struct {
	mu    sync.Mutex
	html  string
	err   error
	calls atomic.Int32
	fire  chan struct{}
}

func (f *fakeSource) Snapshot(context.Context) (Snapshot, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Snapshot{}, f.err
	}
	return Snapshot{URL: "https://chatgpt.com/c/abc", HTML: f.html}, nil
}

func (f *fakeSource) set(html string) {
	f.mu.Lock()
	f.html = html
	f.mu.Unlock()
}

func (f *fakeSource) Run(ctx context.Context, notify func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.fire:
			notify()
		}
	}
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) capture(_ context.Context, s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func TestObserver_BurstCapturesOnceWithLatestPage(t *testing.T) {
	src := &fakeSource{}
	rec := &recorder{}
	o := New(src, scheduler.NewDebouncer(), 20*time.Millisecond, rec.capture, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		src.set("<p>partial</p>")
		o.Notify(ctx)
	}
	src.set("<p>final</p>")
	o.Notify(ctx)

	assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	snaps := rec.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, "<p>final</p>", snaps[0].HTML)
	assert.False(t, snaps[0].TakenAt.IsZero())
	assert.Equal(t, int32(1), src.calls.Load(), "page is serialized once per settled burst")
}

func TestObserver_SnapshotErrorSkipsCapture(t *testing.T) {
	src := &fakeSource{err: errors.New("tab closed")}
	rec := &recorder{}
	o := New(src, scheduler.NewDebouncer(), time.Millisecond, rec.capture, nil)

	o.Notify(context.Background())
	assert.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestObserver_RunCapturesInitialPageAndCancelsOnExit(t *testing.T) {
	src := &fakeSource{html: "<p>hi</p>", fire: make(chan struct{})}
	rec := &recorder{}
	sched := scheduler.NewDebouncer()
	o := New(src, sched, 10*time.Millisecond, rec.capture, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, src) }()

	assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)

	src.fire <- struct{}{}
	assert.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)

	src.fire <- struct{}{}
	cancel()
	require.NoError(t, <-done)
	assert.False(t, sched.Pending())
}

func TestFile_NotifiesOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>v1</p>"), 0o644))

	f := NewFile(path, "https://claude.ai/chat/0b1c2d3e-aaaa", nil)
	snap, err := f.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<p>v1</p>", snap.HTML)
	assert.Equal(t, "https://claude.ai/chat/0b1c2d3e-aaaa", snap.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var notified atomic.Int32
	go func() { _ = f.Run(ctx, func() { notified.Add(1) }) }()

	// give the watcher time to register before writing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.html"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("<p>v2</p>"), 0o644))

	assert.Eventually(t, func() bool { return notified.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestObserver_CapturesNeverOverlap(t *testing.T) {
	src := &fakeSource{}
	var active, maxActive, done atomic.Int32
	slow := func(context.Context, Snapshot) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
	}
	o := New(src, scheduler.NewDebouncer(), 10*time.Millisecond, slow, nil)
	ctx := context.Background()

	src.set("<p>first</p>")
	o.Notify(ctx)
	time.Sleep(30 * time.Millisecond)
	src.set("<p>second</p>")
	o.Notify(ctx)

	require.Eventually(t, func() bool { return done.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
}
