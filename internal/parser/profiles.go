package parser

import (
	"regexp"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/dom"
)

var copyButtons = []string{
	`button[aria-label="Copy"]`,
	`button[aria-label="复制"]`,
	`[data-testid*="copy"]`,
}

func noise(extra ...string) []string {
	return append(append([]string{}, dom.DefaultNoiseContainers...), extra...)
}

func phrases(extra ...string) []string {
	return append(append([]string{}, dom.DefaultNoisePhrases...), extra...)
}

// ChatGPT covers chatgpt.com and the legacy chat.openai.com host.
var ChatGPT = Profile{
	Platform:         chat.PlatformChatGPT,
	Hosts:            []string{"chatgpt.com", "chat.openai.com"},
	UserAnchors:      []string{`[data-message-author-role="user"]`},
	AssistantAnchors: []string{`[data-message-author-role="assistant"]`},
	TurnContainers: []string{
		`article[data-testid^="conversation-turn"]`,
		`[data-testid^="conversation-turn"]`,
	},
	MessageSelectors: []string{
		`[data-message-author-role]`,
		`article[data-testid^="conversation-turn"]`,
		`.text-message`,
	},
	ContentSelectors: []string{`.markdown`, `.whitespace-pre-wrap`},
	NoiseContainers:  noise(`#thread-bottom-container`, `[data-testid="composer"]`),
	NoisePhrases:     phrases("chatgpt said:", "you said:"),
	UserHints:        []string{"user", "user-message"},
	AssistantHints:   []string{"assistant", "agent-turn"},
	CopyActions:      append([]string{`button[data-testid="copy-turn-action-button"]`}, copyButtons...),
	TitleSelectors:   []string{`nav a[aria-current="page"]`, `[data-testid="conversation-title"]`},
	GenericTitles:    []string{"ChatGPT", "New chat"},
	GeneratingMarkers: []string{
		`button[data-testid="stop-button"]`,
		`.result-streaming`,
	},
	ExternalID: regexp.MustCompile(`^/(?:g/[^/]+/)?c/([0-9A-Za-z-]+)`),
}

// Claude covers claude.ai.
var Claude = Profile{
	Platform:         chat.PlatformClaude,
	Hosts:            []string{"claude.ai"},
	UserAnchors:      []string{`[data-testid="user-message"]`},
	AssistantAnchors: []string{`.font-claude-message`, `.font-claude-response`},
	TurnContainers:   []string{`[data-test-render-count]`},
	MessageSelectors: []string{
		`[data-testid="user-message"]`,
		`.font-user-message`,
		`.font-claude-message`,
		`.font-claude-response`,
	},
	NoiseContainers: noise(`[data-testid="chat-input"]`, `fieldset`),
	NoisePhrases:    phrases(),
	UserHints:       []string{"user-message"},
	AssistantHints:  []string{"claude-message", "claude-response"},
	CopyActions:     append([]string{`button[data-testid="action-bar-copy"]`}, copyButtons...),
	TitleSelectors: []string{
		`[data-testid="chat-title-button"]`,
		`button[data-testid="chat-menu-trigger"]`,
	},
	GenericTitles: []string{"Claude", "New chat"},
	GeneratingMarkers: []string{
		`[data-is-streaming="true"]`,
		`button[aria-label="Stop response"]`,
	},
	ExternalID: regexp.MustCompile(`^/chat/([0-9A-Fa-f-]{8,})`),
}

// Gemini covers gemini.google.com. Its turn container holds both the query
// and the response, so anchors fall back to the anchor element itself.
var Gemini = Profile{
	Platform:         chat.PlatformGemini,
	Hosts:            []string{"gemini.google.com"},
	UserAnchors:      []string{`user-query`, `.user-query-container`},
	AssistantAnchors: []string{`model-response`, `.model-response-container`},
	TurnContainers:   []string{`.conversation-container`},
	MessageSelectors: []string{
		`user-query .query-text`,
		`model-response message-content`,
		`.query-text`,
		`.model-response-text`,
	},
	ContentSelectors: []string{`.query-text`, `message-content`, `.markdown`},
	NoiseContainers:  noise(`input-area-v2`, `.input-area-container`, `side-navigation-v2`),
	NoisePhrases:     phrases("show drafts", "gemini said", "you said"),
	UserHints:        []string{"user-query", "query-text"},
	AssistantHints:   []string{"model-response", "response-container", "model-response-text"},
	CopyActions: append([]string{
		`copy-button`,
		`button[mattooltip="Copy response"]`,
	}, copyButtons...),
	TitleSelectors: []string{`.conversation-title`, `[data-test-id="conversation-title"]`},
	GenericTitles:  []string{"Gemini", "Google Gemini"},
	GeneratingMarkers: []string{
		`.stop-icon`,
		`button[aria-label="Stop response"]`,
	},
	ExternalID: regexp.MustCompile(`^/(?:u/\d+/)?app/([0-9A-Za-z]+)`),
}

// DeepSeek covers chat.deepseek.com.
var DeepSeek = Profile{
	Platform:         chat.PlatformDeepSeek,
	Hosts:            []string{"chat.deepseek.com"},
	UserAnchors:      []string{`div.fbb737a4`, `[data-role="user"]`},
	AssistantAnchors: []string{`.ds-markdown`, `[data-role="assistant"]`},
	TurnContainers:   []string{`.ds-message`, `div._9663006`, `div._4f9bf79`},
	MessageSelectors: []string{
		`.ds-message`,
		`.ds-markdown`,
		`div.fbb737a4`,
	},
	ContentSelectors: []string{`.ds-markdown`, `div.fbb737a4`},
	NoiseContainers:  noise(`.ds-sidebar`, `#chat-input`),
	NoisePhrases:     phrases("已深度思考", "深度思考"),
	UserHints:        []string{"user"},
	AssistantHints:   []string{"ds-markdown", "assistant"},
	CopyActions: append([]string{
		`.ds-icon-button`,
		`div[role="button"][aria-label="Copy"]`,
	}, copyButtons...),
	GenericTitles:     []string{"DeepSeek", "DeepSeek - Into the Unknown", "DeepSeek - 探索未至之境"},
	GeneratingMarkers: []string{`div[role="button"][aria-label="Stop"]`, `.ds-loading`},
	ExternalID:        regexp.MustCompile(`^/(?:a/)?chat/s/([0-9A-Za-z-]+)`),
	TitleTerminators:  "。？！.?!\n",
	MinTextLength:     1,
}

// Qwen covers chat.qwen.ai.
var Qwen = Profile{
	Platform:         chat.PlatformQwen,
	Hosts:            []string{"chat.qwen.ai"},
	UserAnchors:      []string{`.chat-user-message`, `.user-message`},
	AssistantAnchors: []string{`.chat-response-message`, `.response-message-content`},
	TurnContainers:   []string{`.chat-item`, `[id^="chat-message-"]`},
	MessageSelectors: []string{
		`.chat-user-message`,
		`.user-message`,
		`.chat-response-message`,
		`.response-message-content`,
	},
	ContentSelectors:  []string{`.markdown-content-container`, `.markdown-prose`},
	NoiseContainers:   noise(`#chat-input`, `.sidebar`),
	NoisePhrases:      phrases(),
	UserHints:         []string{"user-message", "chat-user"},
	AssistantHints:    []string{"response-message", "chat-response", "assistant"},
	CopyActions:       append([]string{`.copy-response-button`}, copyButtons...),
	TitleSelectors:    []string{`.chat-title`},
	GenericTitles:     []string{"Qwen", "Qwen Chat", "通义千问"},
	GeneratingMarkers: []string{`.stop-button`, `button[aria-label="Stop"]`},
	ExternalID:        regexp.MustCompile(`^/c/([0-9A-Za-z-]+)`),
	TitleTerminators:  "。？！.?!\n",
	MinTextLength:     1,
}

// Doubao covers www.doubao.com. Its markup is keyed on data-testid.
var Doubao = Profile{
	Platform:         chat.PlatformDoubao,
	Hosts:            []string{"doubao.com"},
	UserAnchors:      []string{`[data-testid="send_message"]`},
	AssistantAnchors: []string{`[data-testid="receive_message"]`},
	TurnContainers:   []string{`[data-testid="union_message"]`},
	MessageSelectors: []string{
		`[data-testid="send_message"]`,
		`[data-testid="receive_message"]`,
		`[data-testid="message_text_content"]`,
	},
	ContentSelectors: []string{`[data-testid="message_text_content"]`},
	NoiseContainers:  noise(`[data-testid="chat_input"]`, `[data-testid="flow_chat_sidebar"]`),
	NoisePhrases:     phrases("编辑分享"),
	UserHints:        []string{"send_message"},
	AssistantHints:   []string{"receive_message"},
	CopyActions:      append([]string{`[data-testid="message_action_copy"]`}, copyButtons...),
	TitleSelectors:   []string{`[data-testid="chat_header_title"]`},
	GenericTitles:    []string{"豆包", "Doubao", "新对话"},
	GeneratingMarkers: []string{
		`[data-testid="chat_input_local_break_button"]`,
	},
	ExternalID:       regexp.MustCompile(`^/chat/(\d+)`),
	TitleTerminators: "。？！.?!\n",
	MinTextLength:    1,
}

// Kimi covers kimi.com and the older kimi.moonshot.cn host.
var Kimi = Profile{
	Platform:         chat.PlatformKimi,
	Hosts:            []string{"kimi.com", "kimi.moonshot.cn"},
	UserAnchors:      []string{`.chat-content-item-user`, `.segment-user`},
	AssistantAnchors: []string{`.chat-content-item-assistant`, `.segment-assistant`},
	TurnContainers:   []string{`.chat-content-item`},
	MessageSelectors: []string{
		`.segment-user`,
		`.segment-assistant`,
		`.chat-content-item`,
	},
	ContentSelectors: []string{`.segment-content-box`, `.markdown`, `.user-content`},
	NoiseContainers:  noise(`.chat-input`, `.sidebar`),
	NoisePhrases:     phrases(),
	UserHints:        []string{"user", "segment-user"},
	AssistantHints:   []string{"assistant", "segment-assistant"},
	CopyActions: append([]string{
		`.segment-assistant-actions-content`,
	}, copyButtons...),
	TitleSelectors:    []string{`.chat-header-content h2`, `.chat-name`},
	GenericTitles:     []string{"Kimi", "Kimi.ai", "Kimi 智能助手"},
	GeneratingMarkers: []string{`.stop-message-btn`, `[class*="stop-message"]`},
	ExternalID:        regexp.MustCompile(`^/chat/([0-9A-Za-z-]+)`),
	TitleTerminators:  "。？！.?!\n",
	MinTextLength:     1,
}

// Profiles lists every supported platform.
func Profiles() []Profile {
	return []Profile{ChatGPT, Claude, Gemini, DeepSeek, Qwen, Doubao, Kimi}
}
