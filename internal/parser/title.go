package parser

import (
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/dom"
)

// resolveTitle prefers a page heading, then the first user message, then a
// non-generic document title, then FallbackTitle.
func (e *Engine) resolveTitle(doc *dom.Document, msgs []chat.Message) string {
	for _, n := range doc.Find(e.profile.TitleSelectors) {
		if t := chat.NormalizeWhitespace(dom.Text(n)); t != "" && !e.generic(t) {
			return chat.TruncateRunes(t, TitleMaxRunes)
		}
	}
	for _, m := range msgs {
		if m.Role != chat.RoleUser {
			continue
		}
		if t := Concise(m.Text, e.profile.terminators(), TitleMaxRunes); t != "" {
			return t
		}
		break
	}
	if t := e.stripSuffix(doc.Title()); t != "" && !e.generic(t) {
		return chat.TruncateRunes(t, TitleMaxRunes)
	}
	return FallbackTitle
}

func (e *Engine) generic(title string) bool {
	for _, g := range e.profile.GenericTitles {
		if strings.EqualFold(strings.TrimSpace(title), g) {
			return true
		}
	}
	return false
}

// stripSuffix removes a trailing " - <platform>" or " | <platform>" brand.
func (e *Engine) stripSuffix(title string) string {
	for _, g := range e.profile.GenericTitles {
		for _, sep := range []string{" - ", " | ", " – "} {
			suffix := sep + g
			if len(title) > len(suffix) && strings.EqualFold(title[len(title)-len(suffix):], suffix) {
				return strings.TrimSpace(title[:len(title)-len(suffix)])
			}
		}
	}
	return title
}

// Concise cuts text at its first sentence terminator (kept, unless it is a
// newline) and caps the result at maxRunes, marking truncation with "…".
func Concise(text, terminators string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, terminators); i > 0 {
		r := []rune(text[i:])[0]
		end := i
		if r != '\n' {
			end += len(string(r))
		}
		text = text[:end]
	}
	text = chat.NormalizeWhitespace(text)
	if len([]rune(text)) <= maxRunes {
		return text
	}
	return strings.TrimSpace(chat.TruncateRunes(text, maxRunes-1)) + "…"
}
