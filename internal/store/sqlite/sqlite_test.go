package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, externalID string, texts ...string) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := s.InTx(ctx, func(tx store.Tx) error {
		c := store.Conversation{
			ExternalID:   externalID,
			Platform:     chat.PlatformClaude,
			Title:        "Seeded " + externalID,
			CapturedAt:   t0,
			UpdatedAt:    t0,
			MessageCount: len(texts),
			TurnCount:    chat.TurnCount(len(texts)),
			Tags:         []string{"seed"},
		}
		var err error
		if id, err = tx.InsertConversation(ctx, &c); err != nil {
			return err
		}
		msgs := make([]store.Message, 0, len(texts))
		for i, text := range texts {
			msgs = append(msgs, store.Message{Role: chat.RoleUser, Text: text, CreatedAt: t0.Add(time.Duration(i) * time.Millisecond)})
		}
		return tx.InsertMessages(ctx, id, msgs)
	})
	require.NoError(t, err)
	return id
}

func TestStore_InsertAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := t0.Add(-time.Hour)

	var id int64
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.FindConversationByExternalID(ctx, "conv-1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		topic := int64(7)
		c := store.Conversation{
			ExternalID:      "conv-1",
			Platform:        chat.PlatformChatGPT,
			Title:           "Hello",
			Snippet:         "hi",
			SourceURL:       "https://chatgpt.com/c/conv-1",
			SourceCreatedAt: &src,
			CapturedAt:      t0,
			UpdatedAt:       t0,
			MessageCount:    2,
			TurnCount:       1,
			TopicID:         &topic,
			Starred:         true,
		}
		id, err = tx.InsertConversation(ctx, &c)
		require.NoError(t, err)
		assert.Equal(t, id, c.ID)
		return tx.InsertMessages(ctx, id, []store.Message{
			{Role: chat.RoleUser, Text: "hi", CreatedAt: t0},
			{Role: chat.RoleAI, Text: "hello", CreatedAt: t0.Add(time.Millisecond)},
		})
	}))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.FindConversationByExternalID(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, id, c.ID)
		assert.Equal(t, "Hello", c.Title)
		assert.Equal(t, chat.PlatformChatGPT, c.Platform)
		assert.Equal(t, t0, c.CapturedAt)
		require.NotNil(t, c.SourceCreatedAt)
		assert.Equal(t, src, *c.SourceCreatedAt)
		require.NotNil(t, c.TopicID)
		assert.Equal(t, int64(7), *c.TopicID)
		assert.True(t, c.Starred)
		assert.Equal(t, []string{}, c.Tags)
		return nil
	}))

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Equal(t, id, msgs[1].ConversationID)
}

func TestStore_MessagesOrderedByCreatedAtThenID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := seed(t, s, "conv-order")

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertMessages(ctx, id, []store.Message{
			{Role: chat.RoleUser, Text: "late", CreatedAt: t0.Add(time.Second)},
			{Role: chat.RoleUser, Text: "early-a", CreatedAt: t0},
			{Role: chat.RoleUser, Text: "early-b", CreatedAt: t0},
		})
	}))

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"early-a", "early-b", "late"}, texts)
}

func TestStore_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx store.Tx) error {
		c := store.Conversation{ExternalID: "rolled-back", Platform: chat.PlatformKimi, CapturedAt: t0, UpdatedAt: t0}
		if _, err := tx.InsertConversation(ctx, &c); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := s.ListConversations(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_UniqueExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seed(t, s, "dup")

	err := s.InTx(ctx, func(tx store.Tx) error {
		c := store.Conversation{ExternalID: "dup", Platform: chat.PlatformClaude, CapturedAt: t0, UpdatedAt: t0}
		_, err := tx.InsertConversation(ctx, &c)
		return err
	})
	assert.Error(t, err)
}

func TestStore_UpdateAndReplaceMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := seed(t, s, "conv-2", "a", "b")

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		n, err := tx.DeleteMessages(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		if err := tx.InsertMessages(ctx, id, []store.Message{{Role: chat.RoleAI, Text: "c", CreatedAt: t0}}); err != nil {
			return err
		}
		return tx.UpdateConversationContent(ctx, id, store.ContentUpdate{
			UpdatedAt:    t0.Add(time.Hour),
			MessageCount: 1,
			TurnCount:    0,
			Snippet:      "c",
		})
	}))

	c, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, c.MessageCount)
	assert.Equal(t, "c", c.Snippet)
	assert.Equal(t, "Seeded conv-2", c.Title)
	assert.Equal(t, []string{"seed"}, c.Tags)
	assert.Equal(t, t0.Add(time.Hour), c.UpdatedAt)

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateConversationContent(ctx, 9999, store.ContentUpdate{UpdatedAt: t0})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ListRenameDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := seed(t, s, "first", "x")
	second := seed(t, s, "second", "y", "z")

	list, err := s.ListConversations(ctx, store.ListOptions{Platform: chat.PlatformClaude, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID, "ties on updated_at break by newest id")

	list, err = s.ListConversations(ctx, store.ListOptions{Platform: chat.PlatformGemini})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.RenameConversation(ctx, first, "Renamed"))
	c, err := s.GetConversation(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", c.Title)
	assert.ErrorIs(t, s.RenameConversation(ctx, 9999, "x"), store.ErrNotFound)

	require.NoError(t, s.DeleteConversation(ctx, second))
	_, err = s.GetConversation(ctx, second)
	assert.ErrorIs(t, err, store.ErrNotFound)
	msgs, err := s.ListMessages(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, s.DeleteConversation(ctx, second), store.ErrNotFound)
}

func TestStore_ClearAllAndUsage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := seed(t, s, "conv-3", "one", "two")

	used, quota, err := s.UsageEstimate(ctx)
	require.NoError(t, err)
	assert.Positive(t, used)
	assert.Zero(t, quota)

	require.NoError(t, s.ClearAll(ctx))
	list, err := s.ListConversations(ctx, store.ListOptions{IncludeTrashed: true})
	require.NoError(t, err)
	assert.Empty(t, list)
	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
