package parser

import "github.com/MikeSquared-Agency/scribe/internal/chat"

// Score rates a strategy result. Balanced user/assistant output outranks many
// same-role nodes, which is what an over-matching sidebar selector produces.
// An empty result scores 0.
func Score(users, assistants int) int {
	return min(users, assistants)*8 + assistants*4 + users*2 + users + assistants
}

// pickWinner prefers the higher score, then more messages, then the anchor
// strategy.
func pickWinner(anchor, selector StrategyResult) StrategyResult {
	switch {
	case selector.Score > anchor.Score:
		return selector
	case anchor.Score > selector.Score:
		return anchor
	case len(selector.Messages) > len(anchor.Messages):
		return selector
	}
	return anchor
}

// Reduce drops a message whose signature equals one of the previous window
// kept messages. Repeats further apart survive. It returns the kept messages
// and the number dropped.
func Reduce(msgs []chat.Message, window int) ([]chat.Message, int) {
	kept := make([]chat.Message, 0, len(msgs))
	sigs := make([]string, 0, len(msgs))
	dropped := 0
	for _, m := range msgs {
		sig := chat.Signature(m.Role, m.Text)
		dup := false
		for i := len(sigs) - 1; i >= 0 && i >= len(sigs)-window; i-- {
			if sigs[i] == sig {
				dup = true
				break
			}
		}
		if dup {
			dropped++
			continue
		}
		kept = append(kept, m)
		sigs = append(sigs, sig)
	}
	return kept, dropped
}
