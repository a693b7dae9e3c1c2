package dialogue

import (
	"time"

	"go.uber.org/zap"

	"teller/internal/logging"
	"teller/internal/types"
)

// validTransitions is the exhaustive transition table. Anything not listed
// here is rejected and reported, never silently ignored.
var validTransitions = map[types.FSMState][]types.FSMState{
	types.StateIdle:                {types.StateIntentLocked},
	types.StateIntentLocked:        {types.StateSlotFilling, types.StateConfirmationPending, types.StateExecuting, types.StateError, types.StateIdle},
	types.StateSlotFilling:         {types.StateSlotFilling, types.StateConfirmationPending, types.StateExecuting, types.StateError, types.StateIdle},
	types.StateConfirmationPending: {types.StateExecuting, types.StateSlotFilling, types.StateError, types.StateIdle},
	types.StateExecuting:           {types.StateCompleted, types.StateError},
	types.StateCompleted:           {types.StateIdle},
	types.StateError:               {types.StateIdle, types.StateSlotFilling},
}

// Machine drives dialogue state transitions. It holds no per-session state
// itself; all session data lives on the DialogueState passed in, which the
// caller mutates under the session's lock.
type Machine struct {
	registry  *Registry
	threshold float64
	log       *zap.Logger

	now func() time.Time
}

// NewMachine creates a state machine over the given schema registry.
// Classifier output below the confidence threshold never locks an intent.
func NewMachine(registry *Registry, confidenceThreshold float64) *Machine {
	return &Machine{
		registry:  registry,
		threshold: confidenceThreshold,
		log:       logging.Get(logging.CategoryDialogue),
		now:       time.Now,
	}
}

// TurnInput is one turn's worth of upstream signals: the (possibly noisy)
// classifier prediction and the resolver's entities.
type TurnInput struct {
	Intent     string
	Confidence float64
	Entities   *types.Entities
}

// Outcome tells the orchestrator what to do after a transition.
type Outcome struct {
	Prompt PromptSpec
	// ReadyToExecute: the machine reached EXECUTING; the caller must run
	// the action through the transaction coordinator.
	ReadyToExecute bool
	// AwaitingResolution: every concrete slot is known but a pending
	// implicit amount token still needs resolving against a live balance.
	// The caller resolves it and then calls FinalizeSlots.
	AwaitingResolution bool
	Cancelled          bool
}

// transition moves the state or reports an invalid transition.
func (m *Machine) transition(state *types.DialogueState, to types.FSMState) error {
	for _, allowed := range validTransitions[state.FSMState] {
		if allowed == to {
			m.log.Debug("transition",
				zap.String("session", state.SessionID),
				zap.String("from", string(state.FSMState)),
				zap.String("to", string(to)))
			state.FSMState = to
			return nil
		}
	}
	return types.NewError(types.KindSystem, "invalid transition %s -> %s", state.FSMState, to)
}

// Advance processes one turn against the current state.
func (m *Machine) Advance(state *types.DialogueState, in TurnInput) (*Outcome, error) {
	if in.Entities == nil {
		in.Entities = &types.Entities{Slots: make(map[string]string)}
	}
	state.TurnCount++
	state.LastActivityAt = m.now()

	if in.Entities.CancelRequest {
		return m.cancel(state)
	}

	switch state.FSMState {
	case types.StateIdle:
		return m.advanceIdle(state, in)
	case types.StateIntentLocked, types.StateSlotFilling:
		return m.advanceSlotFilling(state, in)
	case types.StateConfirmationPending:
		return m.advanceConfirmation(state, in)
	default:
		return nil, types.NewError(types.KindSystem, "turn received in unexpected state %s", state.FSMState)
	}
}

// cancel honors an explicit cancel only from states with no committed side
// effects.
func (m *Machine) cancel(state *types.DialogueState) (*Outcome, error) {
	switch state.FSMState {
	case types.StateIntentLocked, types.StateSlotFilling, types.StateConfirmationPending:
		if err := m.transition(state, types.StateIdle); err != nil {
			return nil, err
		}
		m.log.Info("dialogue cancelled", zap.String("session", state.SessionID),
			zap.String("intent", state.LockedIntent))
		state.Reset()
		return &Outcome{Cancelled: true, Prompt: cancelledPrompt()}, nil
	default:
		return &Outcome{Prompt: idlePrompt(m.registry)}, nil
	}
}

func (m *Machine) advanceIdle(state *types.DialogueState, in TurnInput) (*Outcome, error) {
	if in.Intent == "" || in.Confidence < m.threshold {
		m.log.Debug("no confident intent, staying idle",
			zap.String("session", state.SessionID),
			zap.String("intent", in.Intent),
			zap.Float64("confidence", in.Confidence))
		return &Outcome{Prompt: idlePrompt(m.registry)}, nil
	}
	if _, ok := m.registry.Get(in.Intent); !ok {
		m.log.Warn("classifier returned unknown intent",
			zap.String("session", state.SessionID), zap.String("intent", in.Intent))
		return &Outcome{Prompt: idlePrompt(m.registry)}, nil
	}

	if err := m.transition(state, types.StateIntentLocked); err != nil {
		return nil, err
	}
	state.LockedIntent = in.Intent
	m.log.Info("intent locked",
		zap.String("session", state.SessionID),
		zap.String("intent", in.Intent),
		zap.Float64("confidence", in.Confidence))

	return m.advanceSlotFilling(state, in)
}

func (m *Machine) advanceSlotFilling(state *types.DialogueState, in TurnInput) (*Outcome, error) {
	// Central correctness property: while an intent is locked, newly
	// classified intents are ignored and only slot extraction runs. An
	// innocuous slot value misclassified as a new intent must not hijack
	// the flow.
	if in.Intent != "" && in.Intent != state.LockedIntent {
		m.log.Debug("ignoring classified intent while locked",
			zap.String("session", state.SessionID),
			zap.String("locked", state.LockedIntent),
			zap.String("ignored", in.Intent),
			zap.Float64("confidence", in.Confidence))
	}

	if err := m.acceptNegation(state, in.Entities); err != nil {
		return nil, m.toSalvageableError(state, err)
	}
	if err := m.mergeSlots(state, in.Entities, false); err != nil {
		return nil, m.toSalvageableError(state, err)
	}

	return m.afterMerge(state)
}

// acceptNegation validates a detected negation against the locked intent
// BEFORE any slot value from the same utterance is accepted, then attaches
// it to the state.
func (m *Machine) acceptNegation(state *types.DialogueState, ents *types.Entities) error {
	if ents.Negation == nil {
		return nil
	}
	neg := *ents.Negation
	if err := validateNegation(state.LockedIntent, neg); err != nil {
		return err
	}
	for _, existing := range state.PendingNegations {
		if existing == neg {
			return nil
		}
	}
	state.PendingNegations = append(state.PendingNegations, neg)
	m.log.Info("negation constraint attached",
		zap.String("session", state.SessionID),
		zap.String("scope", string(neg.Scope)),
		zap.String("excluded", neg.ExcludedEntity))
	return nil
}

// mergeSlots merges extracted entities into the filled set. Slot values that
// violate an active negation constraint are rejected with a re-prompt, never
// silently substituted. When correcting (after a negative confirmation) the
// extracted values overwrite prior ones.
func (m *Machine) mergeSlots(state *types.DialogueState, ents *types.Entities, correcting bool) error {
	schema, ok := m.registry.Get(state.LockedIntent)
	if !ok {
		return types.NewError(types.KindSystem, "no schema for locked intent %q", state.LockedIntent)
	}

	if ents.HasImplicit {
		// An implicit quantity only means something for intents that take an
		// amount; "show me all my balances" carries no amount to resolve.
		if hasAmountSlot(schema) {
			state.PendingImplicit = ents.Implicit
			if correcting {
				for _, slot := range schema.Slots {
					if slot.Kind == SlotAmount {
						delete(state.FilledSlots, slot.Name)
					}
				}
			}
		}
	}

	for _, slot := range schema.Slots {
		value, present := ents.Slots[slot.Name]
		if !present || value == "" {
			continue
		}
		if slot.Kind == SlotAccount && state.Excluded(types.ScopeAccountType, value) {
			return &types.Error{
				Kind:    types.KindNegationConflict,
				Message: "you asked me not to use your " + value + " account",
				Slot:    slot.Name,
			}
		}
		if _, filled := state.FilledSlots[slot.Name]; filled && !correcting {
			// A re-stated value for an already-filled slot re-affirms it.
			if state.FilledSlots[slot.Name] != value {
				state.FilledSlots[slot.Name] = value
			}
			continue
		}
		state.FilledSlots[slot.Name] = value
		if slot.Kind == SlotAmount {
			state.PendingImplicit = ""
		}
	}
	return nil
}

// afterMerge recomputes missing slots and decides the next stage.
func (m *Machine) afterMerge(state *types.DialogueState) (*Outcome, error) {
	state.MissingSlots = m.registry.MissingSlots(
		state.LockedIntent, state.FilledSlots, state.PendingImplicit != "")

	if len(state.MissingSlots) > 0 {
		if err := m.transition(state, types.StateSlotFilling); err != nil {
			return nil, err
		}
		return &Outcome{Prompt: NextPrompt(state, m.registry)}, nil
	}

	if state.PendingImplicit != "" {
		// Ready apart from the implicit token. The caller resolves it
		// against a live balance and then calls FinalizeSlots.
		if err := m.transition(state, types.StateSlotFilling); err != nil {
			return nil, err
		}
		return &Outcome{AwaitingResolution: true}, nil
	}

	return m.enterConfirmation(state)
}

// FinalizeSlots is called after the orchestrator resolved a pending implicit
// amount and wrote the concrete value into FilledSlots.
func (m *Machine) FinalizeSlots(state *types.DialogueState) (*Outcome, error) {
	state.PendingImplicit = ""
	return m.afterMerge(state)
}

func (m *Machine) enterConfirmation(state *types.DialogueState) (*Outcome, error) {
	schema, ok := m.registry.Get(state.LockedIntent)
	if !ok {
		return nil, types.NewError(types.KindSystem, "no schema for locked intent %q", state.LockedIntent)
	}

	if !schema.RequiresConfirmation {
		if err := m.transition(state, types.StateExecuting); err != nil {
			return nil, err
		}
		return &Outcome{ReadyToExecute: true}, nil
	}

	if err := m.transition(state, types.StateConfirmationPending); err != nil {
		return nil, err
	}
	return &Outcome{Prompt: confirmPrompt(schema, state)}, nil
}

func (m *Machine) advanceConfirmation(state *types.DialogueState, in TurnInput) (*Outcome, error) {
	schema, ok := m.registry.Get(state.LockedIntent)
	if !ok {
		return nil, types.NewError(types.KindSystem, "no schema for locked intent %q", state.LockedIntent)
	}

	correction := len(in.Entities.Slots) > 0 || in.Entities.HasImplicit || in.Entities.Negation != nil

	switch {
	case in.Entities.Confirmation == types.ConfirmYes && !correction:
		if err := m.transition(state, types.StateExecuting); err != nil {
			return nil, err
		}
		return &Outcome{ReadyToExecute: true}, nil

	case in.Entities.Confirmation == types.ConfirmNo || correction:
		// Negative or corrective response: drop back to slot filling and
		// replace only what the user indicated changing.
		if err := m.transition(state, types.StateSlotFilling); err != nil {
			return nil, err
		}
		if err := m.acceptNegation(state, in.Entities); err != nil {
			return nil, m.toSalvageableError(state, err)
		}
		if correction {
			if err := m.mergeSlots(state, in.Entities, true); err != nil {
				return nil, m.toSalvageableError(state, err)
			}
			return m.afterMerge(state)
		}
		return &Outcome{Prompt: clarifyPrompt(schema, state)}, nil

	default:
		// Ambiguous response: re-prompt, state unchanged.
		return &Outcome{Prompt: confirmPrompt(schema, state)}, nil
	}
}

// CompleteExecution marks a successful action and clears the episode.
func (m *Machine) CompleteExecution(state *types.DialogueState) error {
	if err := m.transition(state, types.StateCompleted); err != nil {
		return err
	}
	if err := m.transition(state, types.StateIdle); err != nil {
		return err
	}
	m.log.Info("dialogue completed", zap.String("session", state.SessionID),
		zap.String("intent", state.LockedIntent), zap.Int("turns", state.TurnCount))
	state.Reset()
	return nil
}

// FailExecution routes an execution failure through ERROR and then either
// back to slot filling (salvageable: the offending slot is cleared for
// correction) or to a full reset.
func (m *Machine) FailExecution(state *types.DialogueState, cause *types.Error) error {
	if err := m.transition(state, types.StateError); err != nil {
		return err
	}
	switch cause.Kind {
	case types.KindBusinessRule, types.KindNegationConflict:
		if cause.Slot != "" {
			delete(state.FilledSlots, cause.Slot)
		}
		state.MissingSlots = m.registry.MissingSlots(
			state.LockedIntent, state.FilledSlots, state.PendingImplicit != "")
		return m.transition(state, types.StateSlotFilling)
	default:
		if err := m.transition(state, types.StateIdle); err != nil {
			return err
		}
		state.Reset()
		return nil
	}
}

// toSalvageableError moves the machine through ERROR back to SLOT_FILLING,
// clearing the slot named by the error, and returns the original error for
// the recovery advisor. Used for negation conflicts and rejected slot values
// mid-dialogue.
func (m *Machine) toSalvageableError(state *types.DialogueState, err error) error {
	te := types.AsError(err)
	if state.FSMState != types.StateIdle && state.FSMState != types.StateError {
		if terr := m.transition(state, types.StateError); terr != nil {
			return terr
		}
		if te.Slot != "" {
			delete(state.FilledSlots, te.Slot)
		}
		state.MissingSlots = m.registry.MissingSlots(
			state.LockedIntent, state.FilledSlots, state.PendingImplicit != "")
		if terr := m.transition(state, types.StateSlotFilling); terr != nil {
			return terr
		}
	}
	return te
}

// ExpireIfIdle resets a session whose inactivity exceeds the TTL. Returns
// true if the session was reset.
func (m *Machine) ExpireIfIdle(state *types.DialogueState, ttl time.Duration) bool {
	if state.FSMState == types.StateIdle || ttl <= 0 {
		return false
	}
	if m.now().Sub(state.LastActivityAt) <= ttl {
		return false
	}
	m.log.Info("session expired", zap.String("session", state.SessionID),
		zap.String("intent", state.LockedIntent))
	state.Reset()
	return true
}

// validateNegation rejects negation scopes that are meaningless for an
// intent. Kept separate from the resolver's copy of the rule so the machine
// never imports resolve.
func validateNegation(intent string, neg types.NegationConstraint) error {
	if intent == "balance_inquiry" && neg.Scope == types.ScopeAccountType {
		return types.NewError(types.KindNegationConflict,
			"excluding an account type makes no sense for a balance inquiry")
	}
	return nil
}
