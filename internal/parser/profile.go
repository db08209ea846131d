// Package parser turns a chat page snapshot into an ordered list of role-tagged
// messages. One Engine implements the extraction algorithm; each platform only
// contributes a selector table (Profile).
package parser

import (
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
)

// Profile is the platform-specific selector table the engine is parameterized by.
type Profile struct {
	Platform chat.Platform

	// Hosts are matched exactly or as a parent domain of the page host.
	Hosts []string

	// Anchor strategy: strong role markers, expanded to the smallest enclosing
	// turn container.
	UserAnchors      []string
	AssistantAnchors []string
	TurnContainers   []string

	// Selector strategy: broad candidate selectors.
	MessageSelectors []string

	// ContentSelectors pick the message body inside a turn. Empty means the
	// whole turn.
	ContentSelectors []string

	NoiseContainers []string
	NoisePhrases    []string

	// Role hints are matched against class names and data-testid values.
	UserHints      []string
	AssistantHints []string

	// CopyActions mark assistant turns structurally.
	CopyActions []string

	TitleSelectors    []string
	GenericTitles     []string
	GeneratingMarkers []string

	// ExternalID is matched against the URL path; group 1 is the id.
	ExternalID *regexp.Regexp

	// TitleTerminators end the first sentence of a title derived from the
	// first user message.
	TitleTerminators string

	MinTextLength int
}

const (
	// DedupWindow is how many preceding kept messages the near-duplicate
	// reducer compares against.
	DedupWindow = 2

	// TitleMaxRunes caps a title derived from message text.
	TitleMaxRunes = 60

	// FallbackTitle is used when nothing better is available.
	FallbackTitle = "Untitled conversation"

	defaultMinTextLength = 2
	defaultTerminators   = ".?!。？！\n"
)

// roleAttrs are explicit author attributes, checked in order.
var roleAttrs = []string{
	"data-message-author-role",
	"data-author-role",
	"data-role",
	"data-author",
}

func (p Profile) minTextLength() int {
	if p.MinTextLength > 0 {
		return p.MinTextLength
	}
	return defaultMinTextLength
}

func (p Profile) terminators() string {
	if p.TitleTerminators != "" {
		return p.TitleTerminators
	}
	return defaultTerminators
}

// MatchesHost reports whether host belongs to one of the profile's domains.
func (p Profile) MatchesHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// parseRole maps the author vocabulary used across platforms to a Role.
func parseRole(v string) (chat.Role, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "user", "human", "me", "self", "send":
		return chat.RoleUser, true
	case "assistant", "ai", "bot", "model", "system-assistant", "receive":
		return chat.RoleAI, true
	}
	return "", false
}

// hintRole classifies a class list or test id by the profile's hints. A value
// carrying both user and assistant hints is ambiguous and resolves nothing.
func (p Profile) hintRole(value string) (chat.Role, bool) {
	value = strings.ToLower(value)
	if value == "" {
		return "", false
	}
	user := hasHint(value, p.UserHints)
	ai := hasHint(value, p.AssistantHints)
	switch {
	case user && !ai:
		return chat.RoleUser, true
	case ai && !user:
		return chat.RoleAI, true
	}
	return "", false
}

// hasHint reports whether any whitespace-separated token of value contains a
// hint bounded by the token edges or a separator, so "user" matches
// "font-user-message" but not "superuser".
func hasHint(value string, hints []string) bool {
	for _, tok := range strings.Fields(value) {
		for _, h := range hints {
			if h != "" && boundedContains(tok, strings.ToLower(h)) {
				return true
			}
		}
	}
	return false
}

func boundedContains(tok, hint string) bool {
	for from := 0; from <= len(tok)-len(hint); {
		i := strings.Index(tok[from:], hint)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(hint)
		if (i == 0 || isSep(tok[i-1])) && (end == len(tok) || isSep(tok[end])) {
			return true
		}
		from = i + 1
	}
	return false
}

func isSep(c byte) bool {
	return c == '-' || c == '_' || c == ':' || c == '.'
}
