package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAI
}

// Platform identifies the chat product a page belongs to.
type Platform string

const (
	PlatformChatGPT  Platform = "chatgpt"
	PlatformClaude   Platform = "claude"
	PlatformGemini   Platform = "gemini"
	PlatformDeepSeek Platform = "deepseek"
	PlatformQwen     Platform = "qwen"
	PlatformDoubao   Platform = "doubao"
	PlatformKimi     Platform = "kimi"
)

// SnippetMaxRunes caps Draft.Snippet.
const SnippetMaxRunes = 100

// Message is a single role-tagged message produced by one extraction pass.
// It is never mutated after creation.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	HTML      string    `json:"html,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"` // zero when the page carries none
}

// Draft is the disposable conversation record built for one extraction pass.
// An empty ExternalID is valid but means no stable identity is available yet.
type Draft struct {
	ExternalID      string     `json:"externalId"`
	Platform        Platform   `json:"platform"`
	Title           string     `json:"title"`
	Snippet         string     `json:"snippet"`
	SourceURL       string     `json:"sourceUrl"`
	SourceCreatedAt *time.Time `json:"sourceCreatedAt,omitempty"`
	CapturedAt      time.Time  `json:"capturedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	MessageCount    int        `json:"messageCount"`
	TurnCount       int        `json:"turnCount"`
	Tags            []string   `json:"tags"`
	TopicID         *int64     `json:"topicId"`
	Archived        bool       `json:"archived"`
	Trashed         bool       `json:"trashed"`
	Starred         bool       `json:"starred"`
}

// NewDraft builds a draft whose counts and snippet are derived from msgs.
func NewDraft(platform Platform, externalID, title, sourceURL string, msgs []Message, now time.Time) Draft {
	d := Draft{
		ExternalID:   strings.TrimSpace(externalID),
		Platform:     platform,
		Title:        title,
		Snippet:      Snippet(msgs),
		SourceURL:    sourceURL,
		CapturedAt:   now,
		UpdatedAt:    now,
		MessageCount: len(msgs),
		TurnCount:    TurnCount(len(msgs)),
		Tags:         []string{},
	}
	for _, m := range msgs {
		if !m.Timestamp.IsZero() {
			ts := m.Timestamp
			d.SourceCreatedAt = &ts
			break
		}
	}
	return d
}

// TurnCount approximates user+assistant exchanges: floor(messageCount / 2).
func TurnCount(messageCount int) int {
	if messageCount <= 0 {
		return 0
	}
	return messageCount / 2
}

// Snippet returns the first non-empty message text, whitespace-normalized and
// cut to SnippetMaxRunes.
func Snippet(msgs []Message) string {
	for _, m := range msgs {
		text := NormalizeWhitespace(m.Text)
		if text == "" {
			continue
		}
		return TruncateRunes(text, SnippetMaxRunes)
	}
	return ""
}

// NormalizeWhitespace collapses every whitespace run to a single space and trims.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Signature is the cheap equality key for a message: role + "|" + normalized text.
func Signature(role Role, text string) string {
	return string(role) + "|" + NormalizeWhitespace(text)
}

// Signatures maps msgs to their signatures, preserving order.
func Signatures(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = Signature(m.Role, m.Text)
	}
	return out
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
