// Package classify provides intent classifier implementations behind the
// opaque prediction contract: a deterministic keyword baseline and an
// optional Gemini-backed classifier. The dialogue core treats either as a
// black box and guards itself against their noise.
package classify

import (
	"context"
	"strings"
)

// intentKeywords scores an intent by weighted keyword hits. The keyword
// classifier is intentionally simple: its value is determinism in tests and
// environments without an API key.
var intentKeywords = map[string][]weightedKeyword{
	"transfer": {
		{"transfer", 0.6}, {"send", 0.5}, {"move", 0.4}, {"wire", 0.5},
	},
	"bill_payment": {
		{"bill", 0.5}, {"pay", 0.4}, {"payment", 0.4},
		{"electricity", 0.3}, {"gas", 0.2}, {"water", 0.2},
		{"internet", 0.3}, {"rent", 0.3},
	},
	"balance_inquiry": {
		{"balance", 0.6}, {"how much", 0.5}, {"available", 0.3},
		{"statement", 0.3},
	},
}

type weightedKeyword struct {
	word   string
	weight float64
}

// Keyword is the deterministic fallback classifier.
type Keyword struct{}

// NewKeyword returns the keyword classifier.
func NewKeyword() *Keyword { return &Keyword{} }

// Predict scores the text against each intent's keywords and returns the
// best one. Scores cap at 0.95 to leave room for genuinely ambiguous input
// staying under any sane confidence threshold.
func (k *Keyword) Predict(_ context.Context, text string) (string, float64, error) {
	lower := strings.ToLower(text)

	bestIntent := ""
	bestScore := 0.0
	for intent, keywords := range intentKeywords {
		score := 0.0
		for _, kw := range keywords {
			if strings.Contains(lower, kw.word) {
				score += kw.weight
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && intent < bestIntent) {
			bestIntent = intent
			bestScore = score
		}
	}

	if bestScore > 0.95 {
		bestScore = 0.95
	}
	return bestIntent, bestScore, nil
}
