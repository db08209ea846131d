// Package capture classifies each extraction attempt as committed, held or
// rejected according to the user's capture policy.
package capture

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/chat"
)

// Mode selects how aggressively captures are persisted.
type Mode string

const (
	ModeMirror Mode = "mirror"
	ModeSmart  Mode = "smart"
	ModeManual Mode = "manual"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeMirror || m == ModeSmart || m == ModeManual
}

// Outcome is the terminal state of a capture attempt.
type Outcome string

const (
	Committed Outcome = "committed"
	Held      Outcome = "held"
	Rejected  Outcome = "rejected"
)

// Reason explains an outcome.
type Reason string

const (
	ReasonEmptyPayload          Reason = "empty_payload"
	ReasonMissingConversationID Reason = "missing_conversation_id"
	ReasonForceArchive          Reason = "force_archive"
	ReasonModeMirror            Reason = "mode_mirror"
	ReasonModeManualHold        Reason = "mode_manual_hold"
	ReasonSmartKeywordBlocked   Reason = "smart_keyword_blocked"
	ReasonSmartBelowMinTurns    Reason = "smart_below_min_turns"
	ReasonSmartPass             Reason = "smart_pass"

	// Set after the gate, when persisting a committed capture fails.
	ReasonStorageLimitBlocked Reason = "storage_limit_blocked"
	ReasonPersistFailed       Reason = "persist_failed"
)

// Smart holds the filters applied in smart mode.
type Smart struct {
	MinTurns          int      `koanf:"min_turns" json:"minTurns" yaml:"min_turns"`
	BlacklistKeywords []string `koanf:"blacklist_keywords" json:"blacklistKeywords" yaml:"blacklist_keywords"`
}

// Policy is the user-configured capture policy.
type Policy struct {
	Mode  Mode  `koanf:"mode" json:"mode" yaml:"mode"`
	Smart Smart `koanf:"smart" json:"smart" yaml:"smart"`
}

// DefaultPolicy is what a freshly seeded policy file contains.
func DefaultPolicy() Policy {
	return Policy{
		Mode:  ModeSmart,
		Smart: Smart{MinTurns: 1, BlacklistKeywords: []string{}},
	}
}

// Payload is one extraction attempt presented to the gate.
type Payload struct {
	Draft    chat.Draft
	Messages []chat.Message
	Force    bool
}

// Decision is the immutable record of one capture attempt.
type Decision struct {
	Mode         Mode      `json:"mode"`
	Outcome      Outcome   `json:"decision"`
	Reason       Reason    `json:"reason"`
	MessageCount int       `json:"messageCount"`
	TurnCount    int       `json:"turnCount"`
	BlacklistHit bool      `json:"blacklistHit"`
	ForceFlag    bool      `json:"forceFlag"`
	Intercepted  bool      `json:"intercepted"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Committed reports whether the payload should be persisted now.
func (d Decision) Committed() bool { return d.Outcome == Committed }

// Decide classifies p under pol. It is pure and always returns a decision.
// Rules are evaluated in order and the first match wins.
func Decide(p Payload, pol Policy) Decision {
	mode := pol.Mode
	if !mode.Valid() {
		mode = ModeSmart
	}
	n := len(p.Messages)
	d := Decision{
		Mode:         mode,
		MessageCount: n,
		TurnCount:    chat.TurnCount(n),
		ForceFlag:    p.Force,
		OccurredAt:   p.Draft.CapturedAt,
	}

	switch {
	case n == 0:
		return d.with(Rejected, ReasonEmptyPayload)
	case strings.TrimSpace(p.Draft.ExternalID) == "":
		return d.with(Held, ReasonMissingConversationID)
	case p.Force:
		return d.with(Committed, ReasonForceArchive)
	case mode == ModeMirror:
		return d.with(Committed, ReasonModeMirror)
	case mode == ModeManual:
		return d.with(Held, ReasonModeManualHold)
	}

	if keywordHit(p, pol.Smart.BlacklistKeywords) {
		d.BlacklistHit = true
		return d.with(Held, ReasonSmartKeywordBlocked)
	}
	if d.TurnCount < pol.Smart.MinTurns {
		return d.with(Held, ReasonSmartBelowMinTurns)
	}
	return d.with(Committed, ReasonSmartPass)
}

// Override turns a committed decision into a held one after persisting
// failed, so the payload stays recoverable through a forced archive.
func Override(d Decision, reason Reason) Decision {
	return d.with(Held, reason)
}

func (d Decision) with(o Outcome, r Reason) Decision {
	d.Outcome = o
	d.Reason = r
	d.Intercepted = o == Held
	return d
}

// keywordHit reports whether any normalized keyword is a substring of the
// lowercased title, snippet and message text.
func keywordHit(p Payload, keywords []string) bool {
	var norm []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			norm = append(norm, k)
		}
	}
	if len(norm) == 0 {
		return false
	}

	var sb strings.Builder
	sb.WriteString(p.Draft.Title)
	sb.WriteByte('\n')
	sb.WriteString(p.Draft.Snippet)
	for _, m := range p.Messages {
		sb.WriteByte('\n')
		sb.WriteString(m.Text)
	}
	text := strings.ToLower(sb.String())

	for _, k := range norm {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
