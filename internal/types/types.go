// Package types provides shared type definitions used across teller packages.
// This package exists to break import cycles between dialogue, txn, and
// processor. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// DIALOGUE STATE
// =============================================================================

// FSMState identifies the dialogue state machine position for a session.
type FSMState string

const (
	StateIdle                FSMState = "IDLE"
	StateIntentLocked        FSMState = "INTENT_LOCKED"
	StateSlotFilling         FSMState = "SLOT_FILLING"
	StateConfirmationPending FSMState = "CONFIRMATION_PENDING"
	StateExecuting           FSMState = "EXECUTING"
	StateCompleted           FSMState = "COMPLETED"
	StateError               FSMState = "ERROR"
)

// Terminal reports whether the state ends the current dialogue episode.
func (s FSMState) Terminal() bool {
	return s == StateCompleted || s == StateIdle
}

// NegationScope categorizes what a detected negation phrase excludes.
type NegationScope string

const (
	ScopeAccountType NegationScope = "account_type"
	ScopeAmount      NegationScope = "amount"
	ScopeAction      NegationScope = "action"
	ScopeBroad       NegationScope = "broad"
)

// NegationConstraint records an exclusion derived from a single user
// utterance ("don't use my savings"). Constraints accumulate on the
// DialogueState and are consulted whenever a slot value is accepted or
// auto-selected.
type NegationConstraint struct {
	Scope          NegationScope `json:"scope"`
	ExcludedEntity string        `json:"excluded_entity"`
}

// ImplicitToken is a relative quantity ("all", "half") detected in an
// utterance before a concrete amount exists. Tokens resolve lazily against a
// live balance at confirmation time, not at detection time.
type ImplicitToken string

const (
	TokenAll       ImplicitToken = "all"
	TokenHalf      ImplicitToken = "half"
	TokenMax       ImplicitToken = "max"
	TokenRemaining ImplicitToken = "remaining"
)

// DialogueState is the per-session conversation state. One exists per active
// session; it is mutated turn-by-turn under the session's lock and persisted
// through SessionStore after every turn.
//
// Invariants:
//   - LockedIntent is set exactly once per dialogue episode and is never
//     overwritten except by a reset transition back to StateIdle.
//   - MissingSlots ordering is a pure function of LockedIntent (static
//     per-intent schema order), never insertion order.
type DialogueState struct {
	SessionID       string               `json:"session_id"`
	UserID          string               `json:"user_id"`
	FSMState        FSMState             `json:"fsm_state"`
	LockedIntent    string               `json:"locked_intent,omitempty"`
	FilledSlots     map[string]string    `json:"filled_slots"`
	MissingSlots    []string             `json:"missing_slots"`
	TurnCount       int                  `json:"turn_count"`
	LastActivityAt  time.Time            `json:"last_activity_at"`
	PendingNegations []NegationConstraint `json:"pending_negations,omitempty"`

	// PendingImplicit holds a detected implicit amount token that has not
	// been resolved to a concrete value yet. Resolution is deferred until
	// the amount is needed for confirmation, since the source account may
	// not be known at detection time.
	PendingImplicit ImplicitToken `json:"pending_implicit,omitempty"`
}

// NewDialogueState returns a fresh idle state for a session.
func NewDialogueState(sessionID, userID string) *DialogueState {
	return &DialogueState{
		SessionID:   sessionID,
		UserID:      userID,
		FSMState:    StateIdle,
		FilledSlots: make(map[string]string),
	}
}

// Reset clears the episode back to idle. This is the only path that clears
// LockedIntent.
func (s *DialogueState) Reset() {
	s.FSMState = StateIdle
	s.LockedIntent = ""
	s.FilledSlots = make(map[string]string)
	s.MissingSlots = nil
	s.PendingNegations = nil
	s.PendingImplicit = ""
}

// Excluded reports whether a candidate entity is ruled out by an active
// negation constraint of the given scope. Broad-scope constraints match any
// scope.
func (s *DialogueState) Excluded(scope NegationScope, candidate string) bool {
	for _, n := range s.PendingNegations {
		if n.ExcludedEntity != candidate {
			continue
		}
		if n.Scope == scope || n.Scope == ScopeBroad {
			return true
		}
	}
	return false
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AuditStatus is the lifecycle status of an action execution attempt.
type AuditStatus string

const (
	AuditPending    AuditStatus = "pending"
	AuditSuccess    AuditStatus = "success"
	AuditFailure    AuditStatus = "failure"
	AuditRolledBack AuditStatus = "rolled_back"
)

// AuditRecord captures one attempted action execution. Records are written
// with status pending immediately before the ActionExecutor is invoked,
// updated on completion, and never deleted.
type AuditRecord struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	SessionID      string      `json:"session_id"`
	Intent         string      `json:"intent"`
	Action         string      `json:"action"`
	InputSnapshot  string      `json:"input_snapshot"`
	OutputSnapshot string      `json:"output_snapshot,omitempty"`
	Status         AuditStatus `json:"status"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CachedResult is an idempotency cache entry: the stored outcome of the
// single successful execution for a key. Entries are write-once and expire
// after a configured TTL.
type CachedResult struct {
	Key       string    `json:"key"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (c *CachedResult) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// =============================================================================
// TURN PROCESSING
// =============================================================================

// Entities is the resolver output for one utterance: raw extracted spans
// merged with resolver-derived signals.
type Entities struct {
	Slots         map[string]string
	Implicit      ImplicitToken
	HasImplicit   bool
	Negation      *NegationConstraint
	Confirmation  ConfirmationSignal
	CancelRequest bool
}

// ConfirmationSignal classifies a user's response to a confirmation prompt.
type ConfirmationSignal int

const (
	ConfirmNone ConfirmationSignal = iota
	ConfirmYes
	ConfirmNo
)

// TurnReply is the structured result of processing one turn, handed upward
// to the transport/UI layer.
type TurnReply struct {
	ReplyText            string         `json:"reply_text"`
	Suggestions          []string       `json:"suggestions,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Terminal             bool           `json:"terminal"`
	DebugState           *DialogueState `json:"debug_state,omitempty"`
}
