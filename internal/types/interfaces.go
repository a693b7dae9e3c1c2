package types

import (
	"context"
	"time"
)

// Collaborator contracts the core consumes. Implementations live outside the
// core (or in internal/store for the persistence-backed ones); the core
// depends only on these interfaces.

// IntentClassifier is the opaque statistical classifier. It may return
// low-confidence noise; the state machine is robust to that by ignoring
// predictions while an intent is locked.
type IntentClassifier interface {
	Predict(ctx context.Context, text string) (intent string, confidence float64, err error)
}

// EntityExtractor is the low-level pattern matcher returning raw string
// spans with no domain semantics.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) (map[string]string, error)
}

// BalanceLookup supplies the available balance, in minor units, used only by
// implicit-amount resolution.
type BalanceLookup interface {
	Get(ctx context.Context, userID, accountRef string) (int64, error)
}

// ActionExecutor performs the actual banking side effect. Opaque to the
// core; the result is an opaque JSON receipt.
type ActionExecutor interface {
	Execute(ctx context.Context, intent string, slots map[string]string) (result string, err error)
}

// SessionStore persists dialogue state with last-write-wins semantics per
// session. Correctness relies on the processor serializing turns per session
// id, not on the store.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*DialogueState, error)
	Save(ctx context.Context, state *DialogueState) error
	// PruneIdle resets sessions whose last activity is older than the TTL.
	PruneIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// AuditSink is the append/update contract for the audit trail. No deletion.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
	Update(ctx context.Context, id string, status AuditStatus, outputSnapshot, errorMessage string) error
	Get(ctx context.Context, id string) (*AuditRecord, error)
}

// ClaimOutcome is the result of an atomic idempotency claim attempt.
type ClaimOutcome int

const (
	// ClaimAcquired: this caller owns the key and must execute the action.
	ClaimAcquired ClaimOutcome = iota
	// ClaimDuplicateDone: a prior execution completed; cached result returned.
	ClaimDuplicateDone
	// ClaimDuplicateInFlight: another execution holds the claim right now.
	ClaimDuplicateInFlight
)

// IdempotencyCache is the write-once keyed result cache that enforces
// at-most-once execution. Claim is an atomic compare-and-insert: of any
// number of concurrent callers with the same key, exactly one acquires it.
type IdempotencyCache interface {
	Claim(ctx context.Context, key string, now time.Time) (ClaimOutcome, *CachedResult, error)
	// Complete writes the successful result and its expiry. Write-once: a
	// completed key is never overwritten.
	Complete(ctx context.Context, key, result string, expiresAt time.Time) error
	// Release abandons a claim after a failed execution so a retry may
	// execute again.
	Release(ctx context.Context, key string) error
	// PruneExpired removes entries past their expiry.
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}
