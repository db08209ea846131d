package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTurnCount(t *testing.T) {
	for n := -3; n <= 41; n++ {
		got := TurnCount(n)
		if n < 0 {
			assert.Equal(t, 0, got)
			continue
		}
		assert.Equal(t, n/2, got, "messageCount=%d", n)
		assert.LessOrEqual(t, got, n)
	}
}

func TestSignature_NormalizesWhitespace(t *testing.T) {
	a := Signature(RoleUser, "  hello \n\t world ")
	b := Signature(RoleUser, "hello world")
	assert.Equal(t, "user|hello world", a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Signature(RoleAI, "hello world"))
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("ab ", 80)
	tests := []struct {
		name string
		msgs []Message
		want string
	}{
		{"empty", nil, ""},
		{"skips blank", []Message{{Role: RoleUser, Text: "  \n"}, {Role: RoleAI, Text: "hi\nthere"}}, "hi there"},
		{"truncates", []Message{{Role: RoleUser, Text: long}}, TruncateRunes(NormalizeWhitespace(long), SnippetMaxRunes)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snippet(tt.msgs)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), SnippetMaxRunes)
		})
	}
}

func TestTruncateRunes_MultiByte(t *testing.T) {
	assert.Equal(t, "你好", TruncateRunes("你好世界", 2))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestNewDraft(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := now.Add(-time.Hour)
	msgs := []Message{
		{Role: RoleUser, Text: "What is Go?"},
		{Role: RoleAI, Text: "A language.", Timestamp: ts},
		{Role: RoleUser, Text: "Thanks"},
	}

	d := NewDraft(PlatformChatGPT, "  abc-123 ", "Go", "https://chatgpt.com/c/abc-123", msgs, now)

	assert.Equal(t, "abc-123", d.ExternalID)
	assert.Equal(t, 3, d.MessageCount)
	assert.Equal(t, 1, d.TurnCount)
	assert.Equal(t, "What is Go?", d.Snippet)
	assert.Equal(t, now, d.CapturedAt)
	if assert.NotNil(t, d.SourceCreatedAt) {
		assert.Equal(t, ts, *d.SourceCreatedAt)
	}
	assert.NotNil(t, d.Tags)
	assert.Nil(t, d.TopicID)
}
