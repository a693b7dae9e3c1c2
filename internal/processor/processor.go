// Package processor sequences one conversational turn through the guard,
// classifier, resolver, state machine, and transaction coordinator, and
// renders the outcome as a structured reply. It owns per-session
// serialization and the periodic maintenance sweep.
package processor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"teller/internal/dialogue"
	"teller/internal/logging"
	"teller/internal/recovery"
	"teller/internal/resolve"
	"teller/internal/txn"
	"teller/internal/types"

	tellerguard "teller/internal/guard"
)

// Sweeper is the maintenance hook the processor drives on a ticker.
type Sweeper interface {
	Sweep(ctx context.Context, sessionTTL time.Duration) error
}

// Processor is the top-level turn orchestrator.
type Processor struct {
	guard       *tellerguard.Guard
	classifier  types.IntentClassifier
	resolver    *resolve.Resolver
	machine     *dialogue.Machine
	registry    *dialogue.Registry
	coordinator *txn.Coordinator
	executor    types.ActionExecutor
	sessions    types.SessionStore
	sweeper     Sweeper

	sessionTTL time.Duration
	locks      *sessionLocks
	log        *zap.Logger
}

// Deps bundles the processor's collaborators.
type Deps struct {
	Guard       *tellerguard.Guard
	Classifier  types.IntentClassifier
	Resolver    *resolve.Resolver
	Machine     *dialogue.Machine
	Registry    *dialogue.Registry
	Coordinator *txn.Coordinator
	Executor    types.ActionExecutor
	Sessions    types.SessionStore
	Sweeper     Sweeper
	SessionTTL  time.Duration
}

// New assembles the processor.
func New(d Deps) *Processor {
	return &Processor{
		guard:       d.Guard,
		classifier:  d.Classifier,
		resolver:    d.Resolver,
		machine:     d.Machine,
		registry:    d.Registry,
		coordinator: d.Coordinator,
		executor:    d.Executor,
		sessions:    d.Sessions,
		sweeper:     d.Sweeper,
		sessionTTL:  d.SessionTTL,
		locks:       newSessionLocks(),
		log:         logging.Get(logging.CategoryProcessor),
	}
}

// ProcessTurn handles one user message for a session. It always returns a
// presentable reply; the error return carries the underlying cause for
// logging and tests, never raw text for the user.
func (p *Processor) ProcessTurn(ctx context.Context, sessionID, userID, rawMessage string) (*types.TurnReply, error) {
	// Validation and rate limiting short-circuit before any state is read
	// or mutated.
	if err := p.guard.Validate(rawMessage); err != nil {
		return adviceReply(err, false), err
	}
	if err := p.guard.CheckRate(userID); err != nil {
		return adviceReply(err, false), err
	}
	p.guard.TrackRequest(userID)

	sanitized := p.guard.Sanitize(rawMessage)

	lock := p.locks.get(sessionID)
	lock.Lock()

	state, err := p.sessions.Load(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return adviceReply(err, false), err
	}
	if state == nil {
		state = types.NewDialogueState(sessionID, userID)
	}
	p.machine.ExpireIfIdle(state, p.sessionTTL)

	intent, confidence := p.predict(ctx, sanitized)

	ents, err := p.resolver.Resolve(ctx, sanitized, state.LockedIntent, state)
	if err != nil {
		p.saveAndUnlock(ctx, state, lock)
		return adviceReply(err, false), err
	}

	outcome, err := p.machine.Advance(state, dialogue.TurnInput{
		Intent:     intent,
		Confidence: confidence,
		Entities:   ents,
	})
	if err != nil {
		p.saveAndUnlock(ctx, state, lock)
		return p.replyWithState(adviceReply(err, false), state), err
	}

	if outcome.AwaitingResolution {
		outcome, err = p.resolveImplicit(ctx, state)
		if err != nil {
			p.saveAndUnlock(ctx, state, lock)
			return p.replyWithState(adviceReply(err, false), state), err
		}
	}

	if outcome.ReadyToExecute {
		return p.execute(ctx, state, lock)
	}

	reply := &types.TurnReply{
		ReplyText:            outcome.Prompt.Text,
		Suggestions:          outcome.Prompt.Suggestions,
		RequiresConfirmation: outcome.Prompt.Kind == dialogue.PromptConfirm,
		Terminal:             outcome.Cancelled,
	}
	p.saveAndUnlock(ctx, state, lock)
	return p.replyWithState(reply, state), nil
}

// predict runs the classifier; prediction failures count as no intent, the
// machine copes with silence the same way it copes with noise.
func (p *Processor) predict(ctx context.Context, text string) (string, float64) {
	intent, confidence, err := p.classifier.Predict(ctx, text)
	if err != nil {
		p.log.Warn("intent classification failed", zap.Error(err))
		return "", 0
	}
	return intent, confidence
}

// resolveImplicit converts the pending implicit amount token into a concrete
// value against the live balance of the chosen account, then lets the
// machine finish the stage transition.
func (p *Processor) resolveImplicit(ctx context.Context, state *types.DialogueState) (*dialogue.Outcome, error) {
	schema, ok := p.registry.Get(state.LockedIntent)
	if !ok {
		return nil, types.NewError(types.KindSystem, "no schema for locked intent %q", state.LockedIntent)
	}

	var amountSlot, accountRef string
	for _, slot := range schema.Slots {
		switch slot.Kind {
		case dialogue.SlotAmount:
			amountSlot = slot.Name
		case dialogue.SlotAccount:
			accountRef = state.FilledSlots[slot.Name]
		}
	}
	if amountSlot == "" {
		return nil, types.NewError(types.KindSystem,
			"intent %q has a pending implicit amount but no amount slot", state.LockedIntent)
	}

	amount, err := p.resolver.ResolveImplicitToExplicit(ctx, state.PendingImplicit, state.UserID, accountRef)
	if err != nil {
		return nil, err
	}
	p.log.Info("implicit amount resolved",
		zap.String("session", state.SessionID),
		zap.String("token", string(state.PendingImplicit)),
		zap.Int64("amount_minor", amount))

	state.FilledSlots[amountSlot] = strconv.FormatInt(amount, 10)
	return p.machine.FinalizeSlots(state)
}

// execute runs the locked intent through the transaction coordinator. The
// session lock is released around the external call: the state is already
// EXECUTING (a concurrent turn is rejected, not interleaved) and the
// idempotency claim keeps duplicate requests from double-executing.
func (p *Processor) execute(ctx context.Context, state *types.DialogueState, lock *sync.Mutex) (*types.TurnReply, error) {
	schema, _ := p.registry.Get(state.LockedIntent)
	intent := state.LockedIntent
	userID := state.UserID

	key := txn.IdempotencyKey(userID, intent, state.FilledSlots)

	execSlots := make(map[string]string, len(state.FilledSlots)+2)
	for k, v := range state.FilledSlots {
		execSlots[k] = v
	}
	execSlots["user_id"] = userID
	execSlots["intent"] = intent

	meta := txn.AuditMeta{
		UserID:    userID,
		SessionID: state.SessionID,
		Intent:    intent,
		Action:    schema.Action,
		Slots:     state.FilledSlots,
	}

	if err := p.sessions.Save(ctx, state); err != nil {
		lock.Unlock()
		return adviceReply(err, false), err
	}
	lock.Unlock()

	res, execErr := p.coordinator.ExecuteWithTransaction(ctx, key, meta, func(ctx context.Context) (string, error) {
		return p.executor.Execute(ctx, intent, execSlots)
	})

	lock.Lock()

	if execErr != nil {
		te := types.AsError(execErr)
		if ferr := p.machine.FailExecution(state, te); ferr != nil {
			p.log.Error("failed to record execution failure",
				zap.String("session", state.SessionID), zap.Error(ferr))
		}
		reply := adviceReply(te, false)
		reply.Terminal = state.FSMState == types.StateIdle
		p.saveAndUnlock(ctx, state, lock)
		return p.replyWithState(reply, state), te
	}

	if err := p.machine.CompleteExecution(state); err != nil {
		p.saveAndUnlock(ctx, state, lock)
		return adviceReply(err, false), err
	}

	reply := &types.TurnReply{
		ReplyText: completedText(intent, res),
		Terminal:  true,
	}
	p.saveAndUnlock(ctx, state, lock)
	return p.replyWithState(reply, state), nil
}

func (p *Processor) saveAndUnlock(ctx context.Context, state *types.DialogueState, lock *sync.Mutex) {
	if err := p.sessions.Save(ctx, state); err != nil {
		p.log.Error("failed to persist session state",
			zap.String("session", state.SessionID), zap.Error(err))
	}
	lock.Unlock()
}

func (p *Processor) replyWithState(reply *types.TurnReply, state *types.DialogueState) *types.TurnReply {
	reply.DebugState = state
	return reply
}

func completedText(intent string, res *txn.Result) string {
	if res.Duplicate {
		return "This request was already processed; here is the original receipt: " + res.Receipt
	}
	switch intent {
	case "balance_inquiry":
		return "Here you go: " + res.Receipt
	default:
		return "Done! Your receipt: " + res.Receipt
	}
}

// adviceReply renders an error as a user-presentable reply.
func adviceReply(err error, terminal bool) *types.TurnReply {
	advice := recovery.AdviseError(err)
	return &types.TurnReply{
		ReplyText:   advice.Message,
		Suggestions: advice.Suggestions,
		Terminal:    terminal,
	}
}

// StartMaintenance runs the periodic sweep until the context is cancelled.
// Non-blocking.
func (p *Processor) StartMaintenance(ctx context.Context, interval time.Duration) {
	if p.sweeper == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.sweeper.Sweep(ctx, p.sessionTTL); err != nil {
					p.log.Warn("maintenance sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
