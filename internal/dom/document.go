// Package dom holds the primitive DOM helpers the extraction engine is built on:
// ordered unique node collection, noise filtering and text extraction.
package dom

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed, read-only page snapshot plus the document-order index
// of every node in it.
type Document struct {
	doc   *goquery.Document
	url   *url.URL
	order map[*html.Node]int
}

// Parse reads an HTML snapshot. pageURL is the address the snapshot was taken
// from; it drives platform detection and conversation identity.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	d := &Document{doc: doc, url: u, order: make(map[*html.Node]int)}
	d.index()
	return d, nil
}

// ParseString is Parse over an in-memory string.
func ParseString(src, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(src), pageURL)
}

func (d *Document) index() {
	pos := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		d.order[n] = pos
		pos++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range d.doc.Nodes {
		walk(n)
	}
}

// URL returns the page address the snapshot belongs to.
func (d *Document) URL() *url.URL { return d.url }

// Host returns the lowercased page host without port.
func (d *Document) Host() string {
	if d.url == nil {
		return ""
	}
	return strings.ToLower(d.url.Hostname())
}

// Root returns the whole document as a selection.
func (d *Document) Root() *goquery.Selection { return d.doc.Selection }

// Wrap returns a selection holding exactly n.
func (d *Document) Wrap(n *html.Node) *goquery.Selection {
	return d.doc.FindNodes(n)
}

// Position returns n's document-order index, or -1 for foreign nodes.
func (d *Document) Position(n *html.Node) int {
	if p, ok := d.order[n]; ok {
		return p
	}
	return -1
}

// SortByPosition orders nodes by document position in place.
func (d *Document) SortByPosition(nodes []*html.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return d.Position(nodes[i]) < d.Position(nodes[j])
	})
}

// Find collects every element matching any selector in the whole document.
func (d *Document) Find(selectors []string) []*html.Node {
	return d.Collect(d.doc.Selection, selectors)
}

// Collect runs each selector under scope and returns the union of matches,
// unique by node identity and ordered by document position. Selectors are
// evaluated one at a time so a single unparseable entry only loses its own
// matches.
func (d *Document) Collect(scope *goquery.Selection, selectors []string) []*html.Node {
	seen := make(map[*html.Node]bool)
	var out []*html.Node
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		for _, n := range find(scope, sel) {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	d.SortByPosition(out)
	return out
}

func find(scope *goquery.Selection, sel string) (nodes []*html.Node) {
	defer func() {
		if recover() != nil {
			nodes = nil
		}
	}()
	return scope.Find(sel).Nodes
}

// Matches reports whether n matches any selector.
func (d *Document) Matches(n *html.Node, selectors []string) bool {
	s := d.Wrap(n)
	for _, sel := range selectors {
		if strings.TrimSpace(sel) != "" && s.Is(sel) {
			return true
		}
	}
	return false
}

// Closest returns the nearest element, n included, that matches any selector.
// Among several matching ancestors the deepest wins.
func (d *Document) Closest(n *html.Node, selectors []string) *html.Node {
	var best *html.Node
	s := d.Wrap(n)
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		c := s.Closest(sel)
		if c.Length() == 0 {
			continue
		}
		if best == nil || d.Position(c.Nodes[0]) > d.Position(best) {
			best = c.Nodes[0]
		}
	}
	return best
}

// Contains reports whether any descendant of n matches one of selectors.
func (d *Document) Contains(n *html.Node, selectors []string) bool {
	s := d.Wrap(n)
	for _, sel := range selectors {
		if strings.TrimSpace(sel) != "" && s.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// Title returns the normalized <title> text.
func (d *Document) Title() string {
	return strings.Join(strings.Fields(d.doc.Find("title").First().Text()), " ")
}

// CanonicalURL returns the page's self-declared address, if any.
func (d *Document) CanonicalURL() string {
	if href, ok := d.doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	if content, ok := d.doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

// OuterHTML renders n, or "" on failure.
func (d *Document) OuterHTML(n *html.Node) string {
	out, err := goquery.OuterHtml(d.Wrap(n))
	if err != nil {
		return ""
	}
	return out
}

// Safe runs fn and converts a panic raised while walking the tree into
// fallback. The panic is logged.
func Safe[T any](logger *slog.Logger, op string, fallback T, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("dom access failed", "op", op, "panic", r)
			out = fallback
		}
	}()
	return fn()
}
