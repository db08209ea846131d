package parser

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/dom"
)

// Registry dispatches a page to the parser for its platform.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds a registry with one engine per profile.
func NewRegistry(logger *slog.Logger, profiles ...Profile) *Registry {
	r := &Registry{}
	for _, p := range profiles {
		r.parsers = append(r.parsers, NewEngine(p, logger))
	}
	return r
}

// Default returns a registry for every supported platform.
func Default(logger *slog.Logger) *Registry {
	return NewRegistry(logger, Profiles()...)
}

// ForURL returns the parser whose hosts cover rawURL.
func (r *Registry) ForURL(rawURL string) (Parser, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, false
	}
	for _, p := range r.parsers {
		if p.DetectHost(u.Hostname()) {
			return p, true
		}
	}
	return nil, false
}

// ForDocument returns the first parser that detects doc.
func (r *Registry) ForDocument(doc *dom.Document) (Parser, bool) {
	for _, p := range r.parsers {
		if p.Detect(doc) {
			return p, true
		}
	}
	return nil, false
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []chat.Platform {
	out := make([]chat.Platform, 0, len(r.parsers))
	for _, p := range r.parsers {
		out = append(out, p.Platform())
	}
	return out
}
