// Package resolve turns raw extracted entity spans into domain-meaningful
// values: implicit quantities ("all", "half", "max", "remaining"), negation
// constraints ("don't use my savings"), and confirmation/cancel signals.
package resolve

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"teller/internal/logging"
	"teller/internal/types"
)

// Resolver wraps a base entity extractor with implicit-quantity resolution
// and negation-scope detection. Implicit tokens are only detected here;
// converting one to a concrete number is deferred to ResolveImplicitToExplicit,
// called when the amount is actually needed.
type Resolver struct {
	extractor types.EntityExtractor
	balances  types.BalanceLookup
	// ceilingMinor caps a "max" resolution; zero means uncapped.
	ceilingMinor int64
	log          *zap.Logger
}

// New creates a resolver around the base extractor and balance lookup.
func New(extractor types.EntityExtractor, balances types.BalanceLookup, ceilingMinor int64) *Resolver {
	return &Resolver{
		extractor:    extractor,
		balances:     balances,
		ceilingMinor: ceilingMinor,
		log:          logging.Get(logging.CategoryResolve),
	}
}

// Resolve runs the base extractor and layers resolver signals on top. The
// dialogue state is read-only input here; attaching negations to it is the
// state machine's call.
func (r *Resolver) Resolve(ctx context.Context, rawText, intent string, state *types.DialogueState) (*types.Entities, error) {
	slots, err := r.extractor.Extract(ctx, rawText)
	if err != nil {
		return nil, types.WrapError(types.KindSystem, err, "entity extraction failed")
	}
	if slots == nil {
		slots = make(map[string]string)
	}

	ents := &types.Entities{Slots: slots}

	if tok, ok := DetectImplicitAmount(rawText); ok {
		ents.Implicit = tok
		ents.HasImplicit = true
		r.log.Debug("implicit amount detected",
			zap.String("token", string(tok)), zap.String("session", state.SessionID))
	}

	if neg, ok := DetectNegation(rawText); ok {
		ents.Negation = &neg
		// Spans lifted out of the negated clause itself are not positive
		// slot values; drop them so "don't use my savings" never fills an
		// account slot with "savings".
		for name, value := range ents.Slots {
			if strings.EqualFold(value, neg.ExcludedEntity) {
				delete(ents.Slots, name)
			}
		}
		r.log.Debug("negation detected",
			zap.String("scope", string(neg.Scope)),
			zap.String("excluded", neg.ExcludedEntity),
			zap.String("session", state.SessionID))
	}

	ents.Confirmation = classifyConfirmation(rawText)
	ents.CancelRequest = detectCancel(rawText)

	return ents, nil
}

// DetectImplicitAmount recognizes phrases mapping to the implicit quantity
// tokens without assigning a numeric value. Stateless.
func DetectImplicitAmount(text string) (types.ImplicitToken, bool) {
	padded := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	for _, p := range implicitPhrases {
		if strings.Contains(padded, p.phrase) {
			return types.ImplicitToken(p.token), true
		}
	}
	return "", false
}

// DetectNegation looks for a negated clause and classifies its scope by
// matching the clause's object against known entity categories. Ambiguous
// objects default to broad scope rather than guessing a narrower one.
// Stateless.
func DetectNegation(text string) (types.NegationConstraint, bool) {
	lower := strings.ToLower(text)

	for _, trigger := range negationTriggers {
		idx := strings.Index(lower, trigger)
		if idx < 0 {
			continue
		}
		object := clauseObject(lower[idx+len(trigger):])
		if object == "" {
			return types.NegationConstraint{Scope: types.ScopeBroad}, true
		}

		if word, ok := containsAny(object, accountTypeVocab); ok {
			return types.NegationConstraint{
				Scope:          types.ScopeAccountType,
				ExcludedEntity: canonicalAccountType(word),
			}, true
		}
		if word, ok := containsAny(object, actionVocab); ok {
			return types.NegationConstraint{
				Scope:          types.ScopeAction,
				ExcludedEntity: word,
			}, true
		}
		if word, ok := containsAny(object, amountVocab); ok {
			return types.NegationConstraint{
				Scope:          types.ScopeAmount,
				ExcludedEntity: word,
			}, true
		}
		return types.NegationConstraint{
			Scope:          types.ScopeBroad,
			ExcludedEntity: strings.TrimSpace(object),
		}, true
	}
	return types.NegationConstraint{}, false
}

// clauseObject takes the text following a negation trigger and cuts it at
// the next clause boundary.
func clauseObject(rest string) string {
	rest = strings.TrimSpace(rest)
	for _, stop := range []string{",", ".", ";", " and ", " but ", " or "} {
		if i := strings.Index(rest, stop); i >= 0 {
			rest = rest[:i]
		}
	}
	rest = strings.TrimPrefix(rest, "my ")
	rest = strings.TrimPrefix(rest, "the ")
	// Keep at most a few words so a long tail doesn't pollute the entity.
	words := strings.Fields(rest)
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, " ")
}

func canonicalAccountType(word string) string {
	switch word {
	case "saving":
		return "savings"
	case "current":
		return "checking"
	default:
		return word
	}
}

// ResolveImplicitToExplicit converts a detected token into minor units
// against the live balance of the given account. Called lazily, at the turn
// where the amount is needed for confirmation.
func (r *Resolver) ResolveImplicitToExplicit(ctx context.Context, token types.ImplicitToken, userID, accountRef string) (int64, error) {
	balance, err := r.balances.Get(ctx, userID, accountRef)
	if err != nil {
		return 0, types.WrapError(types.KindSystem, err, "balance lookup failed for %q", accountRef)
	}
	if balance <= 0 {
		return 0, types.NewError(types.KindBusinessRule, "account %q has no available balance", accountRef)
	}

	switch token {
	case types.TokenAll, types.TokenRemaining:
		return balance, nil
	case types.TokenHalf:
		// Floor at minor-unit precision.
		return balance / 2, nil
	case types.TokenMax:
		if r.ceilingMinor > 0 && balance > r.ceilingMinor {
			return r.ceilingMinor, nil
		}
		return balance, nil
	default:
		return 0, types.NewError(types.KindValidation, "unknown implicit token %q", token)
	}
}

// ValidateNegationCompatibility rejects negation scopes that are meaningless
// for the locked intent. Incompatible combinations are reported, never
// silently dropped.
func ValidateNegationCompatibility(intent string, neg types.NegationConstraint) error {
	if intent == "balance_inquiry" && neg.Scope == types.ScopeAccountType {
		return types.NewError(types.KindNegationConflict,
			"excluding an account type makes no sense for a balance inquiry")
	}
	if neg.Scope == types.ScopeAction && neg.ExcludedEntity != "" &&
		strings.Contains(intent, neg.ExcludedEntity) {
		return types.NewError(types.KindNegationConflict,
			"cannot exclude action %q while performing it", neg.ExcludedEntity)
	}
	return nil
}

func classifyConfirmation(text string) types.ConfirmationSignal {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Trim(norm, ".!?")

	for _, a := range affirmatives {
		if norm == a || strings.HasPrefix(norm, a+" ") || strings.HasPrefix(norm, a+",") {
			return types.ConfirmYes
		}
	}
	for _, n := range negatives {
		if norm == n || strings.HasPrefix(norm, n+" ") || strings.HasPrefix(norm, n+",") {
			return types.ConfirmNo
		}
	}
	return types.ConfirmNone
}

func detectCancel(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Trim(norm, ".!?")
	for _, c := range cancelPhrases {
		if norm == c || strings.HasPrefix(norm, c+" ") || strings.HasPrefix(norm, c+",") {
			return true
		}
	}
	return false
}
