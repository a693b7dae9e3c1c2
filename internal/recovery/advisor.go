// Package recovery maps internal error kinds to user-facing recovery
// suggestions. The advisor never fails and never exposes internal error
// text; raw errors stay in the logs.
package recovery

import (
	"fmt"
	"time"

	"teller/internal/types"
)

// Advice is the structured, user-presentable shape of a failure.
type Advice struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	// Retryable hints the client that resending the same request is safe.
	Retryable bool `json:"retryable"`
}

// Context carries the situational details some advice templates use.
type Context struct {
	RetryAfter time.Duration
	Slot       string
	Intent     string
}

// Advise converts an error kind into presentable advice. Unknown kinds get
// the system-error treatment so nothing unstructured reaches the user.
func Advise(kind types.ErrorKind, ctx Context) Advice {
	switch kind {
	case types.KindValidation:
		return Advice{
			Message: "I couldn't read that message.",
			Suggestions: []string{
				"Keep messages under 1000 characters",
				"Try rephrasing in plain language",
			},
		}

	case types.KindRateLimit:
		msg := "You're sending requests a little too quickly."
		if ctx.RetryAfter > 0 {
			msg = fmt.Sprintf("You're sending requests a little too quickly. Please try again in %s.",
				ctx.RetryAfter.Round(time.Second))
		}
		return Advice{
			Message:     msg,
			Suggestions: []string{"Wait a moment before retrying"},
			Retryable:   true,
		}

	case types.KindNegationConflict:
		suggestions := []string{"Pick a different account", "Say 'cancel' to start over"}
		if ctx.Slot != "" {
			suggestions = append([]string{fmt.Sprintf("Choose another value for %s", ctx.Slot)}, suggestions...)
		}
		return Advice{
			Message:     "That choice conflicts with something you asked me to avoid.",
			Suggestions: suggestions,
		}

	case types.KindDuplicateRequest:
		return Advice{
			Message: "I've already handled this exact request; here is the original result.",
			Suggestions: []string{
				"No action was performed twice",
			},
		}

	case types.KindBusinessRule:
		return Advice{
			Message: "I can't complete that as requested.",
			Suggestions: []string{
				"Reduce the amount",
				"Choose another account",
				"Check your balance first",
			},
		}

	case types.KindSystem:
		return Advice{
			Message: "Something went wrong on our side. No funds were moved.",
			Suggestions: []string{
				"Try again in a few moments",
			},
			Retryable: true,
		}

	default: // KindTerminal and anything unclassified
		return Advice{
			Message: "I ran into a problem I can't recover from. No funds were moved.",
			Suggestions: []string{
				"Contact support and mention the time this happened",
			},
		}
	}
}

// AdviseError is a convenience for advising directly from an error chain.
func AdviseError(err error) Advice {
	te := types.AsError(err)
	return Advise(te.Kind, Context{RetryAfter: te.RetryAfter, Slot: te.Slot})
}
