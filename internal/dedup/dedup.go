// Package dedup reconciles a freshly captured conversation against the stored
// one: identical signature sequences are a no-op, anything else is a full
// replace of the message set.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/guard"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Outcome describes what SaveOrMerge did.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeEmpty     Outcome = "empty"
)

// Result of one SaveOrMerge call. NewMessageCount on a replace is the growth
// in length, not an exact diff.
type Result struct {
	Saved           bool    `json:"saved"`
	NewMessageCount int     `json:"newMessageCount"`
	ConversationID  int64   `json:"conversationId,omitempty"`
	Outcome         Outcome `json:"outcome"`
}

// WriteGuard is consulted before any store access.
type WriteGuard interface {
	EnforceWriteGuard(ctx context.Context) (guard.Status, error)
}

// Merger writes captures into a store.DB.
type Merger struct {
	db     store.DB
	guard  WriteGuard
	logger *slog.Logger
	now    func() time.Time
}

// New creates a merger. g may be nil to disable quota checks.
func New(db store.DB, g WriteGuard, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{db: db, guard: g, logger: logger, now: time.Now}
}

// SaveOrMerge persists msgs under draft.ExternalID. It fails with an error
// wrapping guard.ErrStorageHardLimit when storage is full; in that case the
// store is not touched.
func (m *Merger) SaveOrMerge(ctx context.Context, draft chat.Draft, msgs []chat.Message) (Result, error) {
	clean := Sanitize(msgs)
	if len(clean) == 0 {
		return Result{Outcome: OutcomeEmpty}, nil
	}
	externalID := strings.TrimSpace(draft.ExternalID)
	if externalID == "" {
		return Result{}, errors.New("save conversation: empty external id")
	}

	if m.guard != nil {
		if _, err := m.guard.EnforceWriteGuard(ctx); err != nil {
			return Result{}, fmt.Errorf("enforce write guard: %w", err)
		}
	}

	now := m.now().UTC()
	var res Result
	err := m.db.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.FindConversationByExternalID(ctx, externalID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res, err = m.insert(ctx, tx, draft, externalID, clean, now)
			return err
		case err != nil:
			return fmt.Errorf("find conversation: %w", err)
		}
		res, err = m.merge(ctx, tx, existing, clean, now)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	attrs := []any{
		"external_id", externalID,
		"conversation_id", res.ConversationID,
		"outcome", string(res.Outcome),
		"message_count", len(clean),
		"new_messages", res.NewMessageCount,
	}
	if res.Saved {
		m.logger.Info("conversation saved", attrs...)
	} else {
		m.logger.Debug("conversation unchanged", attrs...)
	}
	return res, nil
}

func (m *Merger) insert(ctx context.Context, tx store.Tx, draft chat.Draft, externalID string, msgs []chat.Message, now time.Time) (Result, error) {
	c := store.FromDraft(draft)
	c.ExternalID = externalID
	c.MessageCount = len(msgs)
	c.TurnCount = chat.TurnCount(len(msgs))
	c.Snippet = chat.Snippet(msgs)
	if c.CapturedAt.IsZero() {
		c.CapturedAt = now
	}
	c.UpdatedAt = now

	id, err := tx.InsertConversation(ctx, &c)
	if err != nil {
		return Result{}, err
	}
	if err := tx.InsertMessages(ctx, id, toRows(id, msgs, now, false)); err != nil {
		return Result{}, err
	}
	return Result{Saved: true, NewMessageCount: len(msgs), ConversationID: id, Outcome: OutcomeInserted}, nil
}

func (m *Merger) merge(ctx context.Context, tx store.Tx, existing *store.Conversation, msgs []chat.Message, now time.Time) (Result, error) {
	stored, err := tx.ListMessages(ctx, existing.ID)
	if err != nil {
		return Result{}, err
	}

	if sameSignatures(chat.Signatures(msgs), storedSignatures(stored)) {
		return Result{ConversationID: existing.ID, Outcome: OutcomeUnchanged}, nil
	}

	if _, err := tx.DeleteMessages(ctx, existing.ID); err != nil {
		return Result{}, err
	}
	if err := tx.InsertMessages(ctx, existing.ID, toRows(existing.ID, msgs, now, true)); err != nil {
		return Result{}, err
	}
	err = tx.UpdateConversationContent(ctx, existing.ID, store.ContentUpdate{
		UpdatedAt:    now,
		MessageCount: len(msgs),
		TurnCount:    chat.TurnCount(len(msgs)),
		Snippet:      chat.Snippet(msgs),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Saved:           true,
		NewMessageCount: max(0, len(msgs)-len(stored)),
		ConversationID:  existing.ID,
		Outcome:         OutcomeReplaced,
	}, nil
}

// Sanitize drops messages whose normalized text is empty.
func Sanitize(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if chat.NormalizeWhitespace(m.Text) != "" {
			out = append(out, m)
		}
	}
	return out
}

func storedSignatures(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = chat.Signature(m.Role, m.Text)
	}
	return out
}

func sameSignatures(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Timestamps assigns each message its source timestamp, or now plus its
// index when it has none, then forces the sequence strictly increasing at
// millisecond resolution.
func Timestamps(msgs []chat.Message, now time.Time) []time.Time {
	out := make([]time.Time, len(msgs))
	var prev time.Time
	for i, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = now.Add(time.Duration(i) * time.Millisecond)
		}
		ts = ts.UTC().Truncate(time.Millisecond)
		if i > 0 && !ts.After(prev) {
			ts = prev.Add(time.Millisecond)
		}
		out[i] = ts
		prev = ts
	}
	return out
}

// toRows builds message rows. A full replace passes fresh, which ignores
// source timestamps and restamps the whole set from now.
func toRows(conversationID int64, msgs []chat.Message, now time.Time, fresh bool) []store.Message {
	stampSrc := msgs
	if fresh {
		stampSrc = make([]chat.Message, len(msgs))
	}
	stamps := Timestamps(stampSrc, now)
	rows := make([]store.Message, len(msgs))
	for i, m := range msgs {
		rows[i] = store.Message{
			ConversationID: conversationID,
			Role:           m.Role,
			Text:           m.Text,
			CreatedAt:      stamps[i],
		}
	}
	return rows
}
