// Package store defines the persistence contracts shared by the SQLite and
// Postgres backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is the persisted form of a chat.Draft.
type Conversation struct {
	ID              int64         `json:"id"`
	ExternalID      string        `json:"externalId"`
	Platform        chat.Platform `json:"platform"`
	Title           string        `json:"title"`
	Snippet         string        `json:"snippet"`
	SourceURL       string        `json:"sourceUrl"`
	SourceCreatedAt *time.Time    `json:"sourceCreatedAt,omitempty"`
	CapturedAt      time.Time     `json:"capturedAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	MessageCount    int           `json:"messageCount"`
	TurnCount       int           `json:"turnCount"`
	Tags            []string      `json:"tags"`
	TopicID         *int64        `json:"topicId"`
	Archived        bool          `json:"archived"`
	Trashed         bool          `json:"trashed"`
	Starred         bool          `json:"starred"`
}

// FromDraft maps a draft to a new, unsaved conversation row.
func FromDraft(d chat.Draft) Conversation {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return Conversation{
		ExternalID:      d.ExternalID,
		Platform:        d.Platform,
		Title:           d.Title,
		Snippet:         d.Snippet,
		SourceURL:       d.SourceURL,
		SourceCreatedAt: d.SourceCreatedAt,
		CapturedAt:      d.CapturedAt,
		UpdatedAt:       d.UpdatedAt,
		MessageCount:    d.MessageCount,
		TurnCount:       d.TurnCount,
		Tags:            tags,
		TopicID:         d.TopicID,
		Archived:        d.Archived,
		Trashed:         d.Trashed,
		Starred:         d.Starred,
	}
}

// Message is one stored message, owned by its conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Role           chat.Role `json:"role"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ContentUpdate is what a full replace refreshes on the conversation row.
// Title, tags and flags are never part of it.
type ContentUpdate struct {
	UpdatedAt    time.Time
	MessageCount int
	TurnCount    int
	Snippet      string
}

// ListOptions filters ListConversations. Zero Limit means no limit.
type ListOptions struct {
	Platform       chat.Platform
	IncludeTrashed bool
	Limit          int
	Offset         int
}

// Tx is the operation set available inside one serializable transaction.
type Tx interface {
	// FindConversationByExternalID returns ErrNotFound when no row matches.
	FindConversationByExternalID(ctx context.Context, externalID string) (*Conversation, error)
	InsertConversation(ctx context.Context, c *Conversation) (int64, error)
	UpdateConversationContent(ctx context.Context, id int64, u ContentUpdate) error
	// ListMessages orders by (created_at, id) ascending.
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)
	DeleteMessages(ctx context.Context, conversationID int64) (int64, error)
	InsertMessages(ctx context.Context, conversationID int64, msgs []Message) error
}

// DB is a conversation store with exactly one writer.
type DB interface {
	// InTx runs fn in a serializable transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
	// UsageEstimate reports bytes used and the known quota (0 = unknown).
	UsageEstimate(ctx context.Context) (used, quota int64, err error)

	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, opts ListOptions) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)
	RenameConversation(ctx context.Context, id int64, title string) error
	// DeleteConversation removes the conversation and all its messages.
	DeleteConversation(ctx context.Context, id int64) error
	ClearAll(ctx context.Context) error
	Close() error
}
