package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
)

func TestRegistry_ForURL(t *testing.T) {
	r := Default(nil)
	tests := []struct {
		url  string
		want chat.Platform
		ok   bool
	}{
		{"https://chatgpt.com/c/1", chat.PlatformChatGPT, true},
		{"https://chat.openai.com/c/1", chat.PlatformChatGPT, true},
		{"https://claude.ai/chat/1", chat.PlatformClaude, true},
		{"https://gemini.google.com/app/1", chat.PlatformGemini, true},
		{"https://chat.deepseek.com/a/chat/s/1", chat.PlatformDeepSeek, true},
		{"https://chat.qwen.ai/c/1", chat.PlatformQwen, true},
		{"https://www.doubao.com/chat/1", chat.PlatformDoubao, true},
		{"https://kimi.moonshot.cn/chat/1", chat.PlatformKimi, true},
		{"https://WWW.KIMI.COM/chat/1", chat.PlatformKimi, true},
		{"https://notchatgpt.com/c/1", "", false},
		{"https://example.com/", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			p, ok := r.ForURL(tt.url)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, p.Platform())
			}
		})
	}
}

func TestRegistry_ForDocument(t *testing.T) {
	r := Default(nil)
	doc := mustParse(t, "<html></html>", "https://claude.ai/chat/abc")
	p, ok := r.ForDocument(doc)
	require.True(t, ok)
	assert.Equal(t, chat.PlatformClaude, p.Platform())
	assert.Len(t, r.Platforms(), 7)
}
