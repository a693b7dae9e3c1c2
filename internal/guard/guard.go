// Package guard validates raw user input and enforces per-user rate limits
// before anything touches dialogue state.
package guard

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"teller/internal/config"
	"teller/internal/logging"
	"teller/internal/types"
)

// Injection payload patterns. Matches are sanitized rather than rejected so
// a legitimate banking phrase that happens to contain a quote still goes
// through; only the recognizable payload is stripped.
var (
	scriptTagRe = regexp.MustCompile(`(?is)<\s*/?\s*script[^>]*>`)
	sqlMetaRe   = regexp.MustCompile(`(?i)(--|;--|;\s*drop\s+table|;\s*delete\s+from|'\s*or\s+'1'\s*=\s*'1|union\s+select)`)
	controlRe   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
)

// Guard validates messages and tracks request rates.
type Guard struct {
	cfg     config.GuardConfig
	limiter *rateLimiter
	log     *zap.Logger
}

// New creates a guard from configuration.
func New(cfg config.GuardConfig) *Guard {
	return &Guard{
		cfg:     cfg,
		limiter: newRateLimiter(cfg),
		log:     logging.Get(logging.CategoryGuard),
	}
}

// Validate checks a raw message against length and encoding bounds. It
// returns a validation error for input that cannot be salvaged; injection
// payloads are handled by Sanitize, not here.
func (g *Guard) Validate(raw string) error {
	if !utf8.ValidString(raw) {
		return types.NewError(types.KindValidation, "message is not valid UTF-8")
	}

	n := utf8.RuneCountInString(strings.TrimSpace(raw))
	if n < g.cfg.MinMessageLen {
		return types.NewError(types.KindValidation, "message is empty")
	}
	if n > g.cfg.MaxMessageLen {
		g.log.Warn("oversized message rejected", zap.Int("runes", n), zap.Int("max", g.cfg.MaxMessageLen))
		return types.NewError(types.KindValidation, "message exceeds %d characters", g.cfg.MaxMessageLen)
	}
	return nil
}

// Sanitize deterministically strips recognizable injection payloads and
// control characters. Sanitization never alters the semantic content of
// legitimate banking phrases: removed sequences are ones no such phrase
// contains.
func (g *Guard) Sanitize(raw string) string {
	out := controlRe.ReplaceAllString(raw, "")
	out = scriptTagRe.ReplaceAllString(out, "")
	out = sqlMetaRe.ReplaceAllString(out, " ")
	out = strings.Join(strings.Fields(out), " ")
	if out != strings.Join(strings.Fields(raw), " ") {
		g.log.Info("message sanitized", zap.Int("before_len", len(raw)), zap.Int("after_len", len(out)))
	}
	return out
}

// CheckRate reports whether the user has request budget left. It does not
// consume budget; call TrackRequest after the request is accepted.
func (g *Guard) CheckRate(userID string) error {
	return g.limiter.check(userID)
}

// TrackRequest consumes one unit of the user's budget. Must be called only
// after CheckRate allowed the request.
func (g *Guard) TrackRequest(userID string) {
	g.limiter.track(userID)
}
