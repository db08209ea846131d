package dedup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/guard"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/store/sqlite"
)

var now = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func newMerger(t *testing.T, g WriteGuard) (*Merger, *sqlite.Store) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := New(db, g, nil)
	m.now = func() time.Time { return now }
	return m, db
}

func conversation(texts ...string) []chat.Message {
	msgs := make([]chat.Message, 0, len(texts))
	for i, text := range texts {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAI
		}
		msgs = append(msgs, chat.Message{Role: role, Text: text})
	}
	return msgs
}

func draft(externalID, title string, msgs []chat.Message) chat.Draft {
	return chat.NewDraft(chat.PlatformChatGPT, externalID, title, "https://chatgpt.com/c/"+externalID, msgs, now)
}

func storedTexts(t *testing.T, db *sqlite.Store, id int64) []string {
	t.Helper()
	rows, err := db.ListMessages(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Text)
	}
	return out
}

func TestSaveOrMerge_FirstCaptureInserts(t *testing.T) {
	m, db := newMerger(t, nil)
	ctx := context.Background()
	msgs := conversation("What is Go?", "A language.")

	res, err := m.SaveOrMerge(ctx, draft("c1", "Go", msgs), msgs)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, 2, res.NewMessageCount)
	assert.Equal(t, OutcomeInserted, res.Outcome)

	c, err := db.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ExternalID)
	assert.Equal(t, 2, c.MessageCount)
	assert.Equal(t, 1, c.TurnCount)
	assert.Equal(t, "What is Go?", c.Snippet)
	assert.Equal(t, []string{"What is Go?", "A language."}, storedTexts(t, db, c.ID))
}

func TestSaveOrMerge_IdempotentRecapture(t *testing.T) {
	m, db := newMerger(t, nil)
	ctx := context.Background()
	msgs := conversation("hi", "hello", "how are you", "fine")

	first, err := m.SaveOrMerge(ctx, draft("c2", "T", msgs), msgs)
	require.NoError(t, err)
	require.True(t, first.Saved)

	// whitespace-only differences are the same signature
	again := conversation("hi ", "hello", "how  are\nyou", "fine")
	second, err := m.SaveOrMerge(ctx, draft("c2", "T", again), again)
	require.NoError(t, err)
	assert.False(t, second.Saved)
	assert.Equal(t, 0, second.NewMessageCount)
	assert.Equal(t, OutcomeUnchanged, second.Outcome)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	list, err := db.ListConversations(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveOrMerge_GrowByOneReplacesAndKeepsTitle(t *testing.T) {
	m, db := newMerger(t, nil)
	ctx := context.Background()

	two := conversation("q1", "a1")
	first, err := m.SaveOrMerge(ctx, draft("c3", "Original title", two), two)
	require.NoError(t, err)
	require.NoError(t, db.RenameConversation(ctx, first.ConversationID, "User title"))

	three := conversation("q1", "a1", "q2")
	m.now = func() time.Time { return now.Add(time.Minute) }
	res, err := m.SaveOrMerge(ctx, draft("c3", "Recaptured title", three), three)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, OutcomeReplaced, res.Outcome)
	assert.Equal(t, 1, res.NewMessageCount)
	assert.Equal(t, first.ConversationID, res.ConversationID)

	c, err := db.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "User title", c.Title)
	assert.Equal(t, 3, c.MessageCount)
	assert.Equal(t, now.Add(time.Minute), c.UpdatedAt)
	assert.Equal(t, []string{"q1", "a1", "q2"}, storedTexts(t, db, c.ID))
}

func TestSaveOrMerge_ReplaceRestampsMessages(t *testing.T) {
	m, db := newMerger(t, nil)
	ctx := context.Background()

	src := now.Add(-time.Hour)
	two := conversation("q1", "a1")
	two[0].Timestamp = src
	first, err := m.SaveOrMerge(ctx, draft("c7", "T", two), two)
	require.NoError(t, err)

	rows, err := db.ListMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].CreatedAt.Equal(src), "insert keeps the source time")

	three := conversation("q1", "a1", "q2")
	three[0].Timestamp = src
	later := now.Add(time.Minute)
	m.now = func() time.Time { return later }
	_, err = m.SaveOrMerge(ctx, draft("c7", "T", three), three)
	require.NoError(t, err)

	rows, err = db.ListMessages(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.True(t, r.CreatedAt.Equal(later.Add(time.Duration(i)*time.Millisecond)), "row %d: %v", i, r.CreatedAt)
	}
}

func TestSaveOrMerge_ShrinkOrEditReportsZeroGrowth(t *testing.T) {
	m, db := newMerger(t, nil)
	ctx := context.Background()

	three := conversation("q1", "a1", "q2")
	_, err := m.SaveOrMerge(ctx, draft("c4", "T", three), three)
	require.NoError(t, err)

	edited := conversation("q1 edited", "a1")
	res, err := m.SaveOrMerge(ctx, draft("c4", "T", edited), edited)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, 0, res.NewMessageCount)

	c, err := db.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.MessageCount)
	assert.Equal(t, "q1 edited", c.Snippet)
	assert.Len(t, storedTexts(t, db, c.ID), c.MessageCount)
}

func TestSaveOrMerge_EmptyAfterSanitizeIsNoop(t *testing.T) {
	m, db := newMerger(t, nil)
	msgs := conversation("  ", "\n\t")

	res, err := m.SaveOrMerge(context.Background(), draft("c5", "T", msgs), msgs)
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Equal(t, OutcomeEmpty, res.Outcome)

	list, err := db.ListConversations(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSaveOrMerge_GuardBlocksBeforeWriting(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// any real database is larger than two bytes
	g := guard.New(db, nil, nil, guard.WithLimits(1, 2))
	m := New(db, g, nil)

	msgs := conversation("hi", "hello")
	res, err := m.SaveOrMerge(ctx, draft("c6", "T", msgs), msgs)
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrStorageHardLimit)
	assert.False(t, res.Saved)

	list, err := db.ListConversations(ctx, store.ListOptions{IncludeTrashed: true})
	require.NoError(t, err)
	assert.Empty(t, list)
}

type failingGuard struct{ err error }

func (f failingGuard) EnforceWriteGuard(context.Context) (guard.Status, error) { return "", f.err }

func TestSaveOrMerge_GuardErrorPropagates(t *testing.T) {
	boom := errors.New("estimate failed")
	m, _ := newMerger(t, failingGuard{err: boom})
	msgs := conversation("hi")
	_, err := m.SaveOrMerge(context.Background(), draft("c7", "T", msgs), msgs)
	assert.ErrorIs(t, err, boom)
}

func TestSaveOrMerge_RejectsBlankExternalID(t *testing.T) {
	m, _ := newMerger(t, nil)
	msgs := conversation("hi")
	_, err := m.SaveOrMerge(context.Background(), draft(" ", "T", msgs), msgs)
	assert.Error(t, err)
}

func TestTimestamps(t *testing.T) {
	src := now.Add(-time.Hour)
	msgs := []chat.Message{
		{Text: "a"},
		{Text: "b", Timestamp: src},
		{Text: "c", Timestamp: src},
		{Text: "d"},
	}
	got := Timestamps(msgs, now)
	require.Len(t, got, 4)
	assert.Equal(t, now, got[0])
	assert.Equal(t, now.Add(time.Millisecond), got[1], "source time earlier than previous is pushed forward")
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].After(got[i-1]), "index %d", i)
	}

	plain := Timestamps([]chat.Message{{Text: "x", Timestamp: src}, {Text: "y"}}, now)
	assert.Equal(t, src, plain[0])
	assert.Equal(t, now.Add(time.Millisecond), plain[1])
}
