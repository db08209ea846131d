package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultNoiseContainers match page chrome that never holds conversation turns.
var DefaultNoiseContainers = []string{
	"nav",
	"footer",
	"form",
	"textarea",
	`[role="navigation"]`,
	`[contenteditable="true"]`,
}

// DefaultNoisePhrases are control labels that leak into candidate text.
var DefaultNoisePhrases = []string{
	"retry", "copy", "copied", "copy code", "edit", "regenerate", "share",
	"like", "dislike", "read aloud", "good response", "bad response",
	"重试", "复制", "已复制", "编辑", "重新生成", "分享", "点赞", "点踩",
}

var skipText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Button:   true,
	atom.Template: true,
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Pre: true, atom.Br: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Blockquote: true, atom.Section: true, atom.Article: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Hr: true,
}

// Attr returns the value of key on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// InNoiseContainer reports whether n or any ancestor matches a noise selector.
func (d *Document) InNoiseContainer(n *html.Node, selectors []string) bool {
	return d.Closest(n, selectors) != nil
}

// Innermost drops every node that is an ancestor of another node in the set,
// keeping the most specific candidates. Order is preserved.
func Innermost(nodes []*html.Node) []*html.Node {
	set := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}
	containers := make(map[*html.Node]bool)
	for _, n := range nodes {
		for p := n.Parent; p != nil; p = p.Parent {
			if set[p] {
				containers[p] = true
			}
		}
	}
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if !containers[n] {
			out = append(out, n)
		}
	}
	return out
}

// IsNoisePhrase reports whether text, normalized and lowercased, equals one of
// phrases.
func IsNoisePhrase(text string, phrases []string) bool {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if norm == "" {
		return false
	}
	for _, p := range phrases {
		if norm == strings.ToLower(strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}

// Text extracts the visible text of n. Script, style, svg and button content
// and screen-reader-only labels are skipped, block elements break lines. When
// nothing visible remains it falls back to aria-label, then title.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
			return
		case html.ElementNode:
			if skipText[c.DataAtom] || hidden(c) {
				return
			}
		}
		block := c.Type == html.ElementNode && blockTags[c.DataAtom]
		if block {
			breakLine(&sb)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
		if block {
			breakLine(&sb)
		}
	}
	walk(n)

	if text := CleanText(sb.String()); text != "" {
		return text
	}
	if label := strings.TrimSpace(Attr(n, "aria-label")); label != "" {
		return label
	}
	return strings.TrimSpace(Attr(n, "title"))
}

func breakLine(sb *strings.Builder) {
	if s := sb.String(); s != "" && s[len(s)-1] != '\n' {
		sb.WriteByte('\n')
	}
}

func hidden(n *html.Node) bool {
	if Attr(n, "aria-hidden") == "true" {
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "hidden" {
			return true
		}
	}
	for _, cls := range strings.Fields(Attr(n, "class")) {
		if cls == "sr-only" || cls == "visually-hidden" {
			return true
		}
	}
	return false
}

// CleanText trims trailing space on every line, drops blank lines at the
// edges and collapses runs of blank lines into one.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
