package parser

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/dom"
)

// Parser is the capability set every platform exposes.
type Parser interface {
	Platform() chat.Platform
	Detect(doc *dom.Document) bool
	DetectHost(host string) bool
	Messages(doc *dom.Document) []chat.Message
	Title(doc *dom.Document) string
	ExternalID(doc *dom.Document) string
	IsGenerating(doc *dom.Document) bool
	Extract(doc *dom.Document) Extraction
}

// Strategy names.
const (
	StrategyAnchor   = "anchor"
	StrategySelector = "selector"
)

// StrategyResult is one strategy's filtered, role-resolved output.
type StrategyResult struct {
	Name               string         `json:"name"`
	Messages           []chat.Message `json:"-"`
	Users              int            `json:"users"`
	Assistants         int            `json:"assistants"`
	DroppedUnknownRole int            `json:"droppedUnknownRole"`
	Score              int            `json:"score"`
}

// Extraction is the full outcome of one extraction pass.
type Extraction struct {
	Anchor            StrategyResult `json:"anchor"`
	Selector          StrategyResult `json:"selector"`
	Winner            string         `json:"winner"`
	DroppedDuplicates int            `json:"droppedDuplicates"`
	Messages          []chat.Message `json:"-"`
	Title             string         `json:"title"`
}

// Engine runs the shared extraction algorithm over one platform profile.
type Engine struct {
	profile Profile
	logger  *slog.Logger

	// last extraction, keyed by document; documents are never mutated after parse
	mu      sync.Mutex
	lastDoc *dom.Document
	last    Extraction
	runs    int
}

// NewEngine creates an engine for profile.
func NewEngine(profile Profile, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{profile: profile, logger: logger.With("platform", string(profile.Platform))}
}

func (e *Engine) Platform() chat.Platform { return e.profile.Platform }

// Detect reports whether the document was taken from one of the platform's hosts.
func (e *Engine) Detect(doc *dom.Document) bool {
	return doc != nil && e.profile.MatchesHost(doc.Host())
}

func (e *Engine) DetectHost(host string) bool { return e.profile.MatchesHost(host) }

// Messages returns the winning, reduced message list. It is empty, never an
// error, when nothing is found. Messages and Title share one Extract pass per
// document.
func (e *Engine) Messages(doc *dom.Document) []chat.Message {
	return e.Extract(doc).Messages
}

// Title resolves the conversation title.
func (e *Engine) Title(doc *dom.Document) string {
	return e.Extract(doc).Title
}

// ExternalID returns the platform session id from the page URL, falling back
// to the canonical link. "" means no stable id is available.
func (e *Engine) ExternalID(doc *dom.Document) string {
	if doc == nil || e.profile.ExternalID == nil {
		return ""
	}
	if u := doc.URL(); u != nil {
		if m := e.profile.ExternalID.FindStringSubmatch(u.Path); len(m) > 1 {
			return m[1]
		}
	}
	if canonical := doc.CanonicalURL(); canonical != "" {
		if i := strings.Index(canonical, "://"); i >= 0 {
			canonical = canonical[i+3:]
			if j := strings.IndexByte(canonical, '/'); j >= 0 {
				canonical = canonical[j:]
			}
		}
		if m := e.profile.ExternalID.FindStringSubmatch(canonical); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// IsGenerating reports whether the assistant is still streaming a reply.
func (e *Engine) IsGenerating(doc *dom.Document) bool {
	if doc == nil {
		return false
	}
	return dom.Safe(e.logger, "is_generating", false, func() bool {
		return len(doc.Find(e.profile.GeneratingMarkers)) > 0
	})
}

// Extract runs both strategies, picks the winner and reduces near-duplicates.
// The result for the most recent document is reused, so the returned slices
// must be treated as read-only.
func (e *Engine) Extract(doc *dom.Document) Extraction {
	if doc == nil {
		return e.extract(nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastDoc != doc {
		e.last = e.extract(doc)
		e.lastDoc = doc
		e.runs++
	}
	return e.last
}

func (e *Engine) extract(doc *dom.Document) Extraction {
	empty := Extraction{
		Anchor:   StrategyResult{Name: StrategyAnchor},
		Selector: StrategyResult{Name: StrategySelector},
		Winner:   StrategyAnchor,
		Messages: []chat.Message{},
		Title:    FallbackTitle,
	}
	if doc == nil {
		return empty
	}
	return dom.Safe(e.logger, "extract", empty, func() Extraction {
		anchor := e.anchorStrategy(doc)
		selector := e.selectorStrategy(doc)
		win := pickWinner(anchor, selector)

		msgs, dropped := Reduce(win.Messages, DedupWindow)
		ex := Extraction{
			Anchor:            anchor,
			Selector:          selector,
			Winner:            win.Name,
			DroppedDuplicates: dropped,
			Messages:          msgs,
		}
		ex.Title = e.resolveTitle(doc, msgs)

		e.logger.Debug("extraction complete",
			"winner", ex.Winner,
			"anchor_score", anchor.Score,
			"selector_score", selector.Score,
			"message_count", len(msgs),
			"dropped_unknown_role", win.DroppedUnknownRole,
			"dropped_duplicates", dropped,
		)
		return ex
	})
}

type candidate struct {
	turn *html.Node
	role chat.Role
}

// anchorStrategy locates role-specific anchors and widens each to its
// smallest enclosing turn container.
func (e *Engine) anchorStrategy(doc *dom.Document) StrategyResult {
	p := e.profile
	byNode := make(map[*html.Node]chat.Role)
	var nodes []*html.Node
	add := func(anchors, other []string, role chat.Role) {
		for _, a := range doc.Find(anchors) {
			turn := doc.Closest(a, p.TurnContainers)
			// a container holding both roles is not a single turn
			if turn == nil || doc.Contains(turn, other) {
				turn = a
			}
			if _, ok := byNode[turn]; ok {
				continue
			}
			byNode[turn] = role
			nodes = append(nodes, turn)
		}
	}
	add(p.UserAnchors, p.AssistantAnchors, chat.RoleUser)
	add(p.AssistantAnchors, p.UserAnchors, chat.RoleAI)
	doc.SortByPosition(nodes)

	res := StrategyResult{Name: StrategyAnchor}
	for _, n := range nodes {
		if !e.keep(doc, n) {
			continue
		}
		e.appendMessage(doc, &res, candidate{turn: n, role: byNode[n]})
	}
	return res
}

// selectorStrategy collects broad candidates, keeps the innermost ones and
// infers roles through the fallback chain.
func (e *Engine) selectorStrategy(doc *dom.Document) StrategyResult {
	nodes := dom.Innermost(doc.Find(e.profile.MessageSelectors))
	res := StrategyResult{Name: StrategySelector}
	for _, n := range nodes {
		if !e.keep(doc, n) {
			continue
		}
		role, ok := e.inferRole(doc, n)
		if !ok {
			res.DroppedUnknownRole++
			continue
		}
		e.appendMessage(doc, &res, candidate{turn: n, role: role})
	}
	return res
}

// keep applies the noise-container, minimum-length and noise-phrase filters.
func (e *Engine) keep(doc *dom.Document, n *html.Node) bool {
	if doc.InNoiseContainer(n, e.profile.NoiseContainers) {
		return false
	}
	text := chat.NormalizeWhitespace(dom.Text(e.content(doc, n)))
	if utf8.RuneCountInString(text) < e.profile.minTextLength() {
		return false
	}
	return !dom.IsNoisePhrase(text, e.profile.NoisePhrases)
}

func (e *Engine) content(doc *dom.Document, turn *html.Node) *html.Node {
	if len(e.profile.ContentSelectors) == 0 {
		return turn
	}
	if doc.Matches(turn, e.profile.ContentSelectors) {
		return turn
	}
	if found := doc.Collect(doc.Wrap(turn), e.profile.ContentSelectors); len(found) > 0 {
		return found[0]
	}
	return turn
}

func (e *Engine) appendMessage(doc *dom.Document, res *StrategyResult, c candidate) {
	body := e.content(doc, c.turn)
	msg := chat.Message{
		Role:      c.role,
		Text:      dom.Text(body),
		HTML:      doc.OuterHTML(body),
		Timestamp: timestamp(doc, c.turn),
	}
	res.Messages = append(res.Messages, msg)
	if c.role == chat.RoleUser {
		res.Users++
	} else {
		res.Assistants++
	}
	res.Score = Score(res.Users, res.Assistants)
}

// inferRole resolves a candidate's role: explicit attribute, class hint,
// test-id hint, nearest resolvable ancestor, contained anchor, then the
// presence of a copy action.
func (e *Engine) inferRole(doc *dom.Document, n *html.Node) (chat.Role, bool) {
	if role, ok := e.ownRole(n); ok {
		return role, true
	}
	for a := n.Parent; a != nil && a.Type == html.ElementNode; a = a.Parent {
		if role, ok := e.ownRole(a); ok {
			return role, true
		}
	}
	user := doc.Contains(n, e.profile.UserAnchors)
	ai := doc.Contains(n, e.profile.AssistantAnchors)
	if user != ai {
		if user {
			return chat.RoleUser, true
		}
		return chat.RoleAI, true
	}
	scope := n
	if turn := doc.Closest(n, e.profile.TurnContainers); turn != nil {
		scope = turn
	}
	if doc.Contains(scope, e.profile.CopyActions) {
		return chat.RoleAI, true
	}
	return "", false
}

// ownRole checks the node's own attributes only.
func (e *Engine) ownRole(n *html.Node) (chat.Role, bool) {
	for _, attr := range roleAttrs {
		if role, ok := parseRole(dom.Attr(n, attr)); ok {
			return role, true
		}
	}
	if role, ok := e.profile.hintRole(dom.Attr(n, "class")); ok {
		return role, true
	}
	return e.profile.hintRole(dom.Attr(n, "data-testid"))
}

func timestamp(doc *dom.Document, turn *html.Node) time.Time {
	for _, t := range doc.Collect(doc.Wrap(turn), []string{"time[datetime]"}) {
		v := dom.Attr(t, "datetime")
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
