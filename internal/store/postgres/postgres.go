// Package postgres is the server-side conversation store, used when a
// DATABASE_URL is configured.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.DB = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS scribe_conversations (
			id                BIGSERIAL PRIMARY KEY,
			external_id       TEXT        NOT NULL UNIQUE,
			platform          TEXT        NOT NULL,
			title             TEXT        NOT NULL DEFAULT '',
			snippet           TEXT        NOT NULL DEFAULT '',
			source_url        TEXT        NOT NULL DEFAULT '',
			source_created_at TIMESTAMPTZ,
			captured_at       TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			message_count     INTEGER     NOT NULL DEFAULT 0,
			turn_count        INTEGER     NOT NULL DEFAULT 0,
			tags              TEXT[]      NOT NULL DEFAULT '{}',
			topic_id          BIGINT,
			archived          BOOLEAN     NOT NULL DEFAULT false,
			trashed           BOOLEAN     NOT NULL DEFAULT false,
			starred           BOOLEAN     NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS idx_scribe_conversations_updated ON scribe_conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS scribe_messages (
			id              BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT      NOT NULL REFERENCES scribe_conversations(id) ON DELETE CASCADE,
			role            TEXT        NOT NULL,
			text            TEXT        NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scribe_messages_conversation_created
			ON scribe_messages(conversation_id, created_at, id);
	`)
	return err
}

// InTx runs fn in a serializable transaction.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UsageEstimate reports the size of the scribe tables. Postgres has no quota.
func (s *Store) UsageEstimate(ctx context.Context) (int64, int64, error) {
	var used int64
	err := s.pool.QueryRow(ctx, `
		SELECT pg_total_relation_size('scribe_conversations') + pg_total_relation_size('scribe_messages')`,
	).Scan(&used)
	if err != nil {
		return 0, 0, fmt.Errorf("relation size: %w", err)
	}
	return used, 0, nil
}

func (s *Store) GetConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	return getConversation(ctx, s.pool, `WHERE id = $1`, id)
}

func (s *Store) ListConversations(ctx context.Context, opts store.ListOptions) ([]store.Conversation, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM scribe_conversations
		WHERE ($1 = '' OR platform = $1) AND ($2 OR NOT trashed)
		ORDER BY updated_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		string(opts.Platform), opts.IncludeTrashed, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error) {
	return listMessages(ctx, s.pool, conversationID)
}

func (s *Store) RenameConversation(ctx context.Context, id int64, title string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scribe_conversations SET title = $1 WHERE id = $2`, title, id)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return expectRow(tag)
}

func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scribe_conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return expectRow(tag)
}

func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE scribe_messages, scribe_conversations`); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txn struct {
	tx pgx.Tx
}

// FindConversationByExternalID locks the row for the rest of the transaction.
func (t *txn) FindConversationByExternalID(ctx context.Context, externalID string) (*store.Conversation, error) {
	return getConversation(ctx, t.tx, `WHERE external_id = $1 FOR UPDATE`, externalID)
}

func (t *txn) InsertConversation(ctx context.Context, c *store.Conversation) (int64, error) {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO scribe_conversations (external_id, platform, title, snippet, source_url, source_created_at,
			captured_at, updated_at, message_count, turn_count, tags, topic_id, archived, trashed, starred)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		c.ExternalID, string(c.Platform), c.Title, c.Snippet, c.SourceURL, c.SourceCreatedAt,
		c.CapturedAt, c.UpdatedAt, c.MessageCount, c.TurnCount, tags, c.TopicID,
		c.Archived, c.Trashed, c.Starred,
	).Scan(&c.ID)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	return c.ID, nil
}

func (t *txn) UpdateConversationContent(ctx context.Context, id int64, u store.ContentUpdate) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE scribe_conversations SET updated_at = $1, message_count = $2, turn_count = $3, snippet = $4
		WHERE id = $5`,
		u.UpdatedAt, u.MessageCount, u.TurnCount, u.Snippet, id,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return expectRow(tag)
}

func (t *txn) ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error) {
	return listMessages(ctx, t.tx, conversationID)
}

func (t *txn) DeleteMessages(ctx context.Context, conversationID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM scribe_messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txn) InsertMessages(ctx context.Context, conversationID int64, msgs []store.Message) error {
	rows := make([][]any, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []any{conversationID, string(m.Role), m.Text, m.CreatedAt})
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"scribe_messages"},
		[]string{"conversation_id", "role", "text", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return nil
}

const conversationColumns = `id, external_id, platform, title, snippet, source_url, source_created_at,
	captured_at, updated_at, message_count, turn_count, tags, topic_id, archived, trashed, starred`

func getConversation(ctx context.Context, q querier, where string, arg any) (*store.Conversation, error) {
	row := q.QueryRow(ctx, `SELECT `+conversationColumns+` FROM scribe_conversations `+where, arg)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func scanConversation(row pgx.Row) (*store.Conversation, error) {
	var (
		c        store.Conversation
		platform string
	)
	err := row.Scan(&c.ID, &c.ExternalID, &platform, &c.Title, &c.Snippet, &c.SourceURL, &c.SourceCreatedAt,
		&c.CapturedAt, &c.UpdatedAt, &c.MessageCount, &c.TurnCount, &c.Tags, &c.TopicID,
		&c.Archived, &c.Trashed, &c.Starred)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Platform = chat.Platform(platform)
	c.CapturedAt = c.CapturedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.SourceCreatedAt != nil {
		ts := c.SourceCreatedAt.UTC()
		c.SourceCreatedAt = &ts
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c, nil
}

func listMessages(ctx context.Context, q querier, conversationID int64) ([]store.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT id, conversation_id, role, text, created_at FROM scribe_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var (
			m       store.Message
			role    string
			created time.Time
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.CreatedAt = created.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func expectRow(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
