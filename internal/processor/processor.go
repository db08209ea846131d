package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/capture"
	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/dedup"
	"github.com/MikeSquared-Agency/scribe/internal/dom"
	"github.com/MikeSquared-Agency/scribe/internal/guard"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/metrics"
	"github.com/MikeSquared-Agency/scribe/internal/parser"
	"github.com/MikeSquared-Agency/scribe/internal/pending"
	"github.com/MikeSquared-Agency/scribe/internal/policy"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Page is one serialized snapshot of a chat tab.
type Page struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type Options struct {
	Force bool `json:"force"`
	// DryRun evaluates the decision without persisting or retaining anything.
	DryRun bool `json:"dryRun"`
}

// ExtractionStats summarizes the extraction pass for telemetry.
type ExtractionStats struct {
	Winner             string `json:"winner"`
	AnchorScore        int    `json:"anchorScore"`
	SelectorScore      int    `json:"selectorScore"`
	DroppedDuplicates  int    `json:"droppedDuplicates"`
	DroppedUnknownRole int    `json:"droppedUnknownRole"`
}

// Result of one capture attempt. Decision is nil when the page was skipped
// because the assistant was still generating.
type Result struct {
	AttemptID      string            `json:"attemptId"`
	Platform       chat.Platform     `json:"platform"`
	ExternalID     string            `json:"externalId"`
	Title          string            `json:"title"`
	Decision       *capture.Decision `json:"decision,omitempty"`
	Saved          bool              `json:"saved"`
	NewMessages    int               `json:"newMessages"`
	ConversationID int64             `json:"conversationId,omitempty"`
	PendingID      string            `json:"pendingId,omitempty"`
	Generating     bool              `json:"generating"`
	PersistError   string            `json:"persistError,omitempty"`
	Extraction     *ExtractionStats  `json:"extraction,omitempty"`
}

// Merger persists committed captures.
type Merger interface {
	SaveOrMerge(ctx context.Context, draft chat.Draft, msgs []chat.Message) (dedup.Result, error)
}

// Publisher emits pipeline events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor runs the capture pipeline: extract, decide, then persist or hold.
type Processor struct {
	registry *parser.Registry
	policy   policy.Source
	merger   Merger
	pending  pending.Store
	events   Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Processor)

func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.events = pub }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func New(reg *parser.Registry, src policy.Source, merger Merger, pend pending.Store, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		registry: reg,
		policy:   src,
		merger:   merger,
		pending:  pend,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capture extracts page, decides, and then persists or retains the payload.
// Persistence failures do not fail the capture: they turn the decision into a
// hold and the payload stays recoverable through ForceArchive.
func (p *Processor) Capture(ctx context.Context, page Page, opts Options) (*Result, error) {
	start := p.now()
	res := &Result{AttemptID: uuid.New().String()}

	doc, err := dom.ParseString(page.HTML, page.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	prs, ok := p.registry.ForURL(page.URL)
	if !ok {
		if prs, ok = p.registry.ForDocument(doc); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, page.URL)
		}
	}
	res.Platform = prs.Platform()

	if prs.IsGenerating(doc) {
		res.Generating = true
		p.logger.Debug("skipping capture while generating", "attempt_id", res.AttemptID, "platform", string(res.Platform))
		return res, nil
	}

	ext := prs.Extract(doc)
	draft := chat.NewDraft(res.Platform, prs.ExternalID(doc), ext.Title, page.URL, ext.Messages, start.UTC())
	res.ExternalID = draft.ExternalID
	res.Title = draft.Title
	res.Extraction = statsFor(ext)

	pol, err := p.policy.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load capture policy: %w", err)
	}

	d := capture.Decide(capture.Payload{Draft: draft, Messages: ext.Messages, Force: opts.Force}, pol)
	if opts.DryRun {
		res.Decision = &d
		return res, nil
	}

	switch d.Outcome {
	case capture.Committed:
		mr, err := p.merger.SaveOrMerge(ctx, draft, ext.Messages)
		if err != nil {
			d = capture.Override(d, persistReason(err))
			res.PersistError = err.Error()
			p.logger.Error("persist capture failed",
				"attempt_id", res.AttemptID,
				"external_id", draft.ExternalID,
				"reason", string(d.Reason),
				"error", err,
			)
			if res.PendingID, err = p.retain(ctx, draft, ext.Messages, d); err != nil {
				return nil, err
			}
			break
		}
		p.applyMerge(res, mr)
		p.dropHeld(ctx, draft)
	case capture.Held:
		if res.PendingID, err = p.retain(ctx, draft, ext.Messages, d); err != nil {
			return nil, err
		}
	}
	res.Decision = &d

	p.record(res, ext, p.now().Sub(start))
	p.logger.Info("capture decided",
		"attempt_id", res.AttemptID,
		"platform", string(res.Platform),
		"external_id", res.ExternalID,
		"decision", string(d.Outcome),
		"reason", string(d.Reason),
		"message_count", d.MessageCount,
		"saved", res.Saved,
		"new_messages", res.NewMessages,
	)
	return res, nil
}

// ForceArchive commits a held capture. Unlike Capture it returns persistence
// errors to the caller, and the capture stays held when they occur.
func (p *Processor) ForceArchive(ctx context.Context, pendingID string) (*Result, error) {
	start := p.now()
	held, err := p.pending.Get(ctx, pendingID)
	if err != nil {
		return nil, fmt.Errorf("get pending capture: %w", err)
	}
	pol, err := p.policy.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load capture policy: %w", err)
	}

	draft := held.Draft
	draft.CapturedAt = start.UTC()
	d := capture.Decide(capture.Payload{Draft: draft, Messages: held.Messages, Force: true}, pol)
	res := &Result{
		AttemptID:  uuid.New().String(),
		Platform:   draft.Platform,
		ExternalID: draft.ExternalID,
		Title:      draft.Title,
		Decision:   &d,
		PendingID:  held.ID,
	}
	if !d.Committed() {
		p.record(res, parser.Extraction{}, p.now().Sub(start))
		return res, nil
	}

	mr, err := p.merger.SaveOrMerge(ctx, draft, held.Messages)
	if err != nil {
		return nil, fmt.Errorf("force archive: %w", err)
	}
	p.applyMerge(res, mr)
	if err := p.pending.Delete(ctx, held.ID); err != nil && !errors.Is(err, pending.ErrNotFound) {
		p.logger.Warn("drop archived pending capture failed", "pending_id", held.ID, "error", err)
	}
	res.PendingID = ""

	p.record(res, parser.Extraction{}, p.now().Sub(start))
	p.logger.Info("held capture archived",
		"attempt_id", res.AttemptID,
		"pending_id", held.ID,
		"external_id", res.ExternalID,
		"saved", res.Saved,
		"new_messages", res.NewMessages,
	)
	return res, nil
}

// ListPending returns held captures, newest first.
func (p *Processor) ListPending(ctx context.Context) ([]pending.Capture, error) {
	list, err := p.pending.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending captures: %w", err)
	}
	if p.metrics != nil {
		p.metrics.SetPending(len(list))
	}
	return list, nil
}

func (p *Processor) retain(ctx context.Context, draft chat.Draft, msgs []chat.Message, d capture.Decision) (string, error) {
	// a rejected (empty) payload never reaches here
	id, err := p.pending.Put(ctx, pending.Capture{
		Draft:    draft,
		Messages: msgs,
		Decision: d,
		HeldAt:   p.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("retain held capture: %w", err)
	}
	return id, nil
}

// dropHeld discards the conversation's earlier hold once a commit supersedes
// it, so a later force archive cannot replace newer content.
func (p *Processor) dropHeld(ctx context.Context, draft chat.Draft) {
	if draft.ExternalID == "" {
		return
	}
	id := pending.IDFor(pending.Capture{Draft: draft})
	if err := p.pending.Delete(ctx, id); err != nil && !errors.Is(err, pending.ErrNotFound) {
		p.logger.Warn("drop superseded pending capture failed", "pending_id", id, "error", err)
	}
}

func (p *Processor) applyMerge(res *Result, mr dedup.Result) {
	res.Saved = mr.Saved
	res.NewMessages = mr.NewMessageCount
	res.ConversationID = mr.ConversationID
	if p.metrics != nil {
		p.metrics.ObserveMerge(string(mr.Outcome))
	}
	if mr.Saved {
		p.publish(hermes.SubjectSaved, hermes.SavedEvent{
			AttemptID:      res.AttemptID,
			ConversationID: mr.ConversationID,
			ExternalID:     res.ExternalID,
			Platform:       string(res.Platform),
			NewMessages:    mr.NewMessageCount,
			Outcome:        string(mr.Outcome),
		})
	}
}

func (p *Processor) record(res *Result, ext parser.Extraction, elapsed time.Duration) {
	d := res.Decision
	if p.metrics != nil {
		p.metrics.ObserveDecision(string(res.Platform), string(d.Outcome), string(d.Reason), elapsed.Seconds())
		if ext.Winner != "" {
			win := ext.Anchor
			if ext.Winner == parser.StrategySelector {
				win = ext.Selector
			}
			p.metrics.ObserveExtraction(string(res.Platform), ext.Winner, len(ext.Messages), ext.DroppedDuplicates, win.DroppedUnknownRole)
		}
	}
	p.publish(hermes.SubjectDecision, hermes.DecisionEvent{
		AttemptID:    res.AttemptID,
		Platform:     string(res.Platform),
		ExternalID:   res.ExternalID,
		Mode:         string(d.Mode),
		Decision:     string(d.Outcome),
		Reason:       string(d.Reason),
		MessageCount: d.MessageCount,
		TurnCount:    d.TurnCount,
		BlacklistHit: d.BlacklistHit,
		ForceFlag:    d.ForceFlag,
		Intercepted:  d.Intercepted,
		PendingID:    res.PendingID,
		OccurredAt:   d.OccurredAt,
	})
}

func (p *Processor) publish(subject string, evt any) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(subject, evt); err != nil {
		p.logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}

func persistReason(err error) capture.Reason {
	if errors.Is(err, guard.ErrStorageHardLimit) {
		return capture.ReasonStorageLimitBlocked
	}
	return capture.ReasonPersistFailed
}

func statsFor(ext parser.Extraction) *ExtractionStats {
	win := ext.Anchor
	if ext.Winner == parser.StrategySelector {
		win = ext.Selector
	}
	return &ExtractionStats{
		Winner:             ext.Winner,
		AnchorScore:        ext.Anchor.Score,
		SelectorScore:      ext.Selector.Score,
		DroppedDuplicates:  ext.DroppedDuplicates,
		DroppedUnknownRole: win.DroppedUnknownRole,
	}
}

// SourceURLFromHTML finds the page address recorded inside a saved page, for
// snapshots stored without their URL.
func SourceURLFromHTML(html string) (string, error) {
	doc, err := dom.ParseString(html, "")
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	u := strings.TrimSpace(doc.CanonicalURL())
	if u == "" {
		return "", errors.New("page has no canonical url")
	}
	return u, nil
}
