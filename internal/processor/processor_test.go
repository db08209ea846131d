package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/capture"
	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/dedup"
	"github.com/MikeSquared-Agency/scribe/internal/guard"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/metrics"
	"github.com/MikeSquared-Agency/scribe/internal/parser"
	"github.com/MikeSquared-Agency/scribe/internal/pending"
	"github.com/MikeSquared-Agency/scribe/internal/policy"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/store/sqlite"
)

const pageURL = "https://chatgpt.com/c/abc-123"

const chatPage = `<html><head><title>Go basics - ChatGPT</title></head><body><main>
<article data-testid="conversation-turn-1">
  <div data-message-author-role="user"><div class="whitespace-pre-wrap">What is Go? I want to learn.</div></div></article>
<article data-testid="conversation-turn-2">
  <div data-message-author-role="assistant"><div class="markdown"><p>Go is a language.</p></div></div></article>
<article data-testid="conversation-turn-3">
  <div data-message-author-role="user"><div class="whitespace-pre-wrap">Thanks</div></div></article>
<article data-testid="conversation-turn-4">
  <div data-message-author-role="assistant"><div class="markdown"><p>You're welcome.</p></div></div></article>
%s
</main></body></html>`

func page(extra string) Page {
	return Page{URL: pageURL, HTML: fmt.Sprintf(chatPage, extra)}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]any
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]any)
	}
	r.events[subject] = append(r.events[subject], data)
	return nil
}

func (r *recordingPublisher) count(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[subject])
}

type failingMerger struct{ err error }

func (f failingMerger) SaveOrMerge(context.Context, chat.Draft, []chat.Message) (dedup.Result, error) {
	return dedup.Result{}, f.err
}

type brokenSource struct{}

func (brokenSource) Policy(context.Context) (capture.Policy, error) {
	return capture.Policy{}, fmt.Errorf("%w: open policy.yaml: no such file", policy.ErrPolicyUnavailable)
}

type fixture struct {
	proc    *Processor
	db      *sqlite.Store
	pending *pending.Memory
	events  *recordingPublisher
}

func newFixture(t *testing.T, pol capture.Policy) *fixture {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pend := pending.NewMemory(0)
	g := guard.New(db, pend, nil)
	events := &recordingPublisher{}
	proc := New(parser.Default(nil), policy.Static(pol), dedup.New(db, g, nil), pend, nil,
		WithPublisher(events), WithMetrics(metrics.New()))
	return &fixture{proc: proc, db: db, pending: pend, events: events}
}

func smart(minTurns int, keywords ...string) capture.Policy {
	return capture.Policy{Mode: capture.ModeSmart, Smart: capture.Smart{MinTurns: minTurns, BlacklistKeywords: keywords}}
}

func TestCapture_SmartPassSavesConversation(t *testing.T) {
	f := newFixture(t, smart(1))
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, page(""), Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Decision)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, chat.PlatformChatGPT, res.Platform)
	assert.Equal(t, "abc-123", res.ExternalID)
	assert.Equal(t, capture.Committed, res.Decision.Outcome)
	assert.Equal(t, capture.ReasonSmartPass, res.Decision.Reason)
	assert.Equal(t, 4, res.Decision.MessageCount)
	assert.Equal(t, 2, res.Decision.TurnCount)
	assert.True(t, res.Saved)
	assert.Equal(t, 4, res.NewMessages)
	assert.Empty(t, res.PendingID)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, parser.StrategyAnchor, res.Extraction.Winner)

	c, err := f.db.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", c.Title)
	assert.Equal(t, 4, c.MessageCount)

	assert.Equal(t, 1, f.events.count(hermes.SubjectDecision))
	assert.Equal(t, 1, f.events.count(hermes.SubjectSaved))

	again, err := f.proc.Capture(ctx, page(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.Committed, again.Decision.Outcome)
	assert.False(t, again.Saved, "identical recapture is a no-op")
	assert.Equal(t, 0, again.NewMessages)
	assert.Equal(t, 2, f.events.count(hermes.SubjectDecision))
	assert.Equal(t, 1, f.events.count(hermes.SubjectSaved))
}

func TestCapture_HeldThenForceArchived(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeManual})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, page(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.Held, res.Decision.Outcome)
	assert.Equal(t, capture.ReasonModeManualHold, res.Decision.Reason)
	assert.True(t, res.Decision.Intercepted)
	assert.False(t, res.Saved)
	require.NotEmpty(t, res.PendingID)

	list, err := f.proc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "abc-123", list[0].Draft.ExternalID)

	convs, err := f.db.ListConversations(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, convs)

	forced, err := f.proc.ForceArchive(ctx, res.PendingID)
	require.NoError(t, err)
	assert.Equal(t, capture.Committed, forced.Decision.Outcome)
	assert.Equal(t, capture.ReasonForceArchive, forced.Decision.Reason)
	assert.True(t, forced.Decision.ForceFlag)
	assert.True(t, forced.Saved)
	assert.Equal(t, 4, forced.NewMessages)

	_, err = f.pending.Get(ctx, res.PendingID)
	assert.ErrorIs(t, err, pending.ErrNotFound)

	_, err = f.proc.ForceArchive(ctx, res.PendingID)
	assert.ErrorIs(t, err, pending.ErrNotFound)
}

func TestCapture_CommitDropsEarlierHold(t *testing.T) {
	f := newFixture(t, smart(3))
	ctx := context.Background()

	held, err := f.proc.Capture(ctx, page(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.ReasonSmartBelowMinTurns, held.Decision.Reason)
	require.NotEmpty(t, held.PendingID)

	grown, err := f.proc.Capture(ctx, page(`<article data-testid="conversation-turn-5">
  <div data-message-author-role="user"><div class="whitespace-pre-wrap">One more question about goroutines</div></div></article>
<article data-testid="conversation-turn-6">
  <div data-message-author-role="assistant"><div class="markdown"><p>Goroutines are cheap threads.</p></div></div></article>`), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.ReasonSmartPass, grown.Decision.Reason)
	require.True(t, grown.Saved)
	assert.Empty(t, grown.PendingID)

	list, err := f.proc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.proc.ForceArchive(ctx, held.PendingID)
	assert.ErrorIs(t, err, pending.ErrNotFound)

	msgs, err := f.db.ListMessages(ctx, grown.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 6)
}

func TestCapture_ForceOptionCommitsUnderManual(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeManual})

	res, err := f.proc.Capture(context.Background(), page(""), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, capture.ReasonForceArchive, res.Decision.Reason)
	assert.True(t, res.Saved)
}

func TestCapture_KeywordHold(t *testing.T) {
	f := newFixture(t, smart(1, "WELCOME"))

	res, err := f.proc.Capture(context.Background(), page(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.Held, res.Decision.Outcome)
	assert.Equal(t, capture.ReasonSmartKeywordBlocked, res.Decision.Reason)
	assert.True(t, res.Decision.BlacklistHit)
	assert.NotEmpty(t, res.PendingID)
}

func TestCapture_SkipsWhileGenerating(t *testing.T) {
	f := newFixture(t, smart(1))

	res, err := f.proc.Capture(context.Background(), page(`<button data-testid="stop-button">Stop</button>`), Options{})
	require.NoError(t, err)
	assert.True(t, res.Generating)
	assert.Nil(t, res.Decision)
	assert.Equal(t, 0, f.events.count(hermes.SubjectDecision))
}

func TestCapture_MissingConversationIDIsHeld(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeMirror})
	p := page("")
	p.URL = "https://chatgpt.com/"

	res, err := f.proc.Capture(context.Background(), p, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, capture.Held, res.Decision.Outcome)
	assert.Equal(t, capture.ReasonMissingConversationID, res.Decision.Reason)
	assert.NotEmpty(t, res.PendingID)
	assert.False(t, res.Saved)
}

func TestCapture_EmptyPageRejectedAndNotRetained(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeMirror})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, Page{URL: pageURL, HTML: `<html><body><main></main></body></html>`}, Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.Rejected, res.Decision.Outcome)
	assert.Equal(t, capture.ReasonEmptyPayload, res.Decision.Reason)
	assert.Empty(t, res.PendingID)

	list, err := f.proc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCapture_UnsupportedPlatform(t *testing.T) {
	f := newFixture(t, smart(1))

	_, err := f.proc.Capture(context.Background(), Page{URL: "https://example.com/c/1", HTML: "<p>hi</p>"}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestCapture_PolicyUnavailableSurfaces(t *testing.T) {
	f := newFixture(t, smart(1))
	f.proc.policy = brokenSource{}

	_, err := f.proc.Capture(context.Background(), page(""), Options{})
	assert.ErrorIs(t, err, policy.ErrPolicyUnavailable)
}

func TestCapture_DryRunPersistsNothing(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeManual})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, page(""), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, capture.Held, res.Decision.Outcome)
	assert.Empty(t, res.PendingID)

	list, err := f.proc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, f.events.count(hermes.SubjectDecision))
}

func TestCapture_StorageLimitBecomesHold(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeMirror})
	f.proc.merger = failingMerger{err: fmt.Errorf("enforce write guard: %w", guard.ErrStorageHardLimit)}
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, page(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.Held, res.Decision.Outcome)
	assert.Equal(t, capture.ReasonStorageLimitBlocked, res.Decision.Reason)
	assert.True(t, res.Decision.Intercepted)
	assert.False(t, res.Saved)
	assert.Contains(t, res.PersistError, "STORAGE_HARD_LIMIT_REACHED")
	require.NotEmpty(t, res.PendingID)

	_, err = f.proc.ForceArchive(ctx, res.PendingID)
	assert.ErrorIs(t, err, guard.ErrStorageHardLimit)

	_, err = f.pending.Get(ctx, res.PendingID)
	assert.NoError(t, err, "payload stays held after a failed force archive")
}

func TestCapture_PersistFailureBecomesHold(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeMirror})
	f.proc.merger = failingMerger{err: errors.New("database is locked")}

	res, err := f.proc.Capture(context.Background(), page(""), Options{})
	require.NoError(t, err)
	assert.Equal(t, capture.ReasonPersistFailed, res.Decision.Reason)
	assert.NotEmpty(t, res.PendingID)
}

func TestHandleForceRequest(t *testing.T) {
	f := newFixture(t, capture.Policy{Mode: capture.ModeManual})
	ctx := context.Background()

	res, err := f.proc.Capture(ctx, page(""), Options{})
	require.NoError(t, err)

	f.proc.HandleForceRequest(hermes.SubjectForce, []byte(`{"pending_id":"`+res.PendingID+`"}`))
	_, err = f.pending.Get(ctx, res.PendingID)
	assert.ErrorIs(t, err, pending.ErrNotFound)

	// malformed and empty requests are ignored
	f.proc.HandleForceRequest(hermes.SubjectForce, []byte(`not json`))
	f.proc.HandleForceRequest(hermes.SubjectForce, []byte(`{"pending_id":"  "}`))
	assert.Equal(t, 1, f.events.count(hermes.SubjectSaved))
}

func TestSourceURLFromHTML(t *testing.T) {
	u, err := SourceURLFromHTML(`<html><head><link rel="canonical" href=" https://claude.ai/chat/0b1c2d3e-aaaa "></head></html>`)
	require.NoError(t, err)
	assert.Equal(t, "https://claude.ai/chat/0b1c2d3e-aaaa", u)

	_, err = SourceURLFromHTML(`<html></html>`)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "canonical"))
}
