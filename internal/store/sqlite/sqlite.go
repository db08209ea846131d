// Package sqlite is the default local conversation store, built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Store is a store.DB on a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

var _ store.DB = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
// Transactions take the write lock at BEGIN, and the pool is a single
// connection, so one writer at a time is enforced by the engine.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id       TEXT    NOT NULL,
			platform          TEXT    NOT NULL,
			title             TEXT    NOT NULL DEFAULT '',
			snippet           TEXT    NOT NULL DEFAULT '',
			source_url        TEXT    NOT NULL DEFAULT '',
			source_created_at INTEGER,
			captured_at       INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			message_count     INTEGER NOT NULL DEFAULT 0,
			turn_count        INTEGER NOT NULL DEFAULT 0,
			tags              TEXT    NOT NULL DEFAULT '[]',
			topic_id          INTEGER,
			archived          INTEGER NOT NULL DEFAULT 0,
			trashed           INTEGER NOT NULL DEFAULT 0,
			starred           INTEGER NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_external_id ON conversations(external_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT    NOT NULL,
			text            TEXT    NOT NULL,
			created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InTx runs fn inside one transaction. SQLite transactions are serializable.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.withTx(ctx, func(t *txn) error { return fn(t) })
}

func (s *Store) withTx(ctx context.Context, fn func(*txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txn{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UsageEstimate reports the database size. SQLite has no quota.
func (s *Store) UsageEstimate(ctx context.Context) (int64, int64, error) {
	var pages, size int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, 0, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&size); err != nil {
		return 0, 0, fmt.Errorf("page size: %w", err)
	}
	used := pages * size
	if info, err := os.Stat(s.path + "-wal"); err == nil {
		used += info.Size()
	}
	return used, 0, nil
}

func (s *Store) GetConversation(ctx context.Context, id int64) (*store.Conversation, error) {
	return getConversation(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) ListConversations(ctx context.Context, opts store.ListOptions) ([]store.Conversation, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE (? = '' OR platform = ?) AND (? OR trashed = 0)
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		string(opts.Platform), string(opts.Platform), opts.IncludeTrashed, limit, opts.Offset,
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
	return listMessages(ctx, s.db, conversationID)
}

func (s *Store) RenameConversation(ctx context.Context, id int64, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return expectRow(res)
}

func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(t *txn) error {
		if _, err := t.DeleteMessages(ctx, id); err != nil {
			return err
		}
		res, err := t.q.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return expectRow(res)
	})
}

func (s *Store) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, func(t *txn) error {
		q := t.q
		if _, err := q.ExecContext(ctx, `DELETE FROM messages`); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
			return fmt.Errorf("clear conversations: %w", err)
		}
		return nil
	})
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txn struct {
	q querier
}

func (t *txn) FindConversationByExternalID(ctx context.Context, externalID string) (*store.Conversation, error) {
	return getConversation(ctx, t.q, `WHERE external_id = ?`, externalID)
}

func (t *txn) InsertConversation(ctx context.Context, c *store.Conversation) (int64, error) {
	tags, err := json.Marshal(nonNil(c.Tags))
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO conversations (external_id, platform, title, snippet, source_url, source_created_at,
			captured_at, updated_at, message_count, turn_count, tags, topic_id, archived, trashed, starred)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ExternalID, string(c.Platform), c.Title, c.Snippet, c.SourceURL, nullMillis(c.SourceCreatedAt),
		c.CapturedAt.UnixMilli(), c.UpdatedAt.UnixMilli(), c.MessageCount, c.TurnCount, string(tags),
		c.TopicID, c.Archived, c.Trashed, c.Starred,
	)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conversation id: %w", err)
	}
	c.ID = id
	return id, nil
}

func (t *txn) UpdateConversationContent(ctx context.Context, id int64, u store.ContentUpdate) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ?, message_count = ?, turn_count = ?, snippet = ?
		WHERE id = ?`,
		u.UpdatedAt.UnixMilli(), u.MessageCount, u.TurnCount, u.Snippet, id,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return expectRow(res)
}

func (t *txn) ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error) {
	return listMessages(ctx, t.q, conversationID)
}

func (t *txn) DeleteMessages(ctx context.Context, conversationID int64) (int64, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return res.RowsAffected()
}

func (t *txn) InsertMessages(ctx context.Context, conversationID int64, msgs []store.Message) error {
	for _, m := range msgs {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, string(m.Role), m.Text, m.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

const conversationColumns = `id, external_id, platform, title, snippet, source_url, source_created_at,
	captured_at, updated_at, message_count, turn_count, tags, topic_id, archived, trashed, starred`

type scanner interface {
	Scan(dest ...any) error
}

func getConversation(ctx context.Context, q querier, where string, arg any) (*store.Conversation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations `+where, arg)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

func scanConversation(row scanner) (*store.Conversation, error) {
	var (
		c                 store.Conversation
		platform, tags    string
		sourceCreated     sql.NullInt64
		captured, updated int64
		topic             sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.ExternalID, &platform, &c.Title, &c.Snippet, &c.SourceURL, &sourceCreated,
		&captured, &updated, &c.MessageCount, &c.TurnCount, &tags, &topic, &c.Archived, &c.Trashed, &c.Starred)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Platform = chat.Platform(platform)
	c.CapturedAt = fromMillis(captured)
	c.UpdatedAt = fromMillis(updated)
	if sourceCreated.Valid {
		ts := fromMillis(sourceCreated.Int64)
		c.SourceCreatedAt = &ts
	}
	if topic.Valid {
		id := topic.Int64
		c.TopicID = &id
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	c.Tags = nonNil(c.Tags)
	return &c, nil
}

func listMessages(ctx context.Context, q querier, conversationID int64) ([]store.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, conversation_id, role, text, created_at FROM messages
		WHERE conversation_id = ?
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
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
