package dialogue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"teller/internal/types"
)

// PromptKind classifies what the next prompt asks for.
type PromptKind string

const (
	PromptAskIntent PromptKind = "ask_intent"
	PromptAskSlot   PromptKind = "ask_slot"
	PromptConfirm   PromptKind = "confirm"
	PromptClarify   PromptKind = "clarify"
	PromptCancelled PromptKind = "cancelled"
)

// PromptSpec is a canned-response selection decoupled from any transport.
type PromptSpec struct {
	Kind        PromptKind
	Slot        string
	Text        string
	Suggestions []string
}

// knownAccounts are the account references offered as suggestions for
// account-kind slots, before negation exclusions.
var knownAccounts = []string{"checking", "savings", "credit"}

// NextPrompt is a pure function from dialogue state to the prompt that
// should be issued, independent of how the state was reached. The next slot
// prompt always targets MissingSlots[0].
func NextPrompt(state *types.DialogueState, reg *Registry) PromptSpec {
	switch state.FSMState {
	case types.StateIdle:
		return idlePrompt(reg)
	case types.StateConfirmationPending:
		if schema, ok := reg.Get(state.LockedIntent); ok {
			return confirmPrompt(schema, state)
		}
	case types.StateIntentLocked, types.StateSlotFilling:
		schema, ok := reg.Get(state.LockedIntent)
		if !ok {
			return idlePrompt(reg)
		}
		if len(state.MissingSlots) > 0 {
			return askSlotPrompt(schema, state, state.MissingSlots[0])
		}
		return clarifyPrompt(schema, state)
	}
	return idlePrompt(reg)
}

func idlePrompt(reg *Registry) PromptSpec {
	intents := reg.Intents()
	sort.Strings(intents)
	suggestions := make([]string, 0, len(intents))
	for _, it := range intents {
		suggestions = append(suggestions, strings.ReplaceAll(it, "_", " "))
	}
	return PromptSpec{
		Kind:        PromptAskIntent,
		Text:        "What would you like to do today?",
		Suggestions: suggestions,
	}
}

func cancelledPrompt() PromptSpec {
	return PromptSpec{
		Kind: PromptCancelled,
		Text: "Okay, I've cancelled that. Nothing was changed.",
	}
}

func askSlotPrompt(schema IntentSchema, state *types.DialogueState, slotName string) PromptSpec {
	var def SlotDef
	for _, s := range schema.Slots {
		if s.Name == slotName {
			def = s
			break
		}
	}

	spec := PromptSpec{
		Kind: PromptAskSlot,
		Slot: slotName,
		Text: def.Prompt,
	}
	if spec.Text == "" {
		spec.Text = fmt.Sprintf("What should I use for %s?", strings.ReplaceAll(slotName, "_", " "))
	}
	if def.Kind == SlotAccount {
		for _, acct := range knownAccounts {
			if !state.Excluded(types.ScopeAccountType, acct) {
				spec.Suggestions = append(spec.Suggestions, acct)
			}
		}
	}
	return spec
}

func confirmPrompt(schema IntentSchema, state *types.DialogueState) PromptSpec {
	var parts []string
	for _, slot := range schema.Slots {
		value, ok := state.FilledSlots[slot.Name]
		if !ok {
			continue
		}
		if slot.Kind == SlotAmount {
			value = FormatMinorUnits(value)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ReplaceAll(slot.Name, "_", " "), value))
	}
	return PromptSpec{
		Kind: PromptConfirm,
		Text: fmt.Sprintf("Please confirm %s (%s). Shall I proceed?",
			strings.ReplaceAll(schema.Intent, "_", " "), strings.Join(parts, ", ")),
		Suggestions: []string{"yes", "no", "cancel"},
	}
}

func clarifyPrompt(schema IntentSchema, state *types.DialogueState) PromptSpec {
	var filled []string
	for _, slot := range schema.Slots {
		if _, ok := state.FilledSlots[slot.Name]; ok {
			filled = append(filled, strings.ReplaceAll(slot.Name, "_", " "))
		}
	}
	return PromptSpec{
		Kind:        PromptClarify,
		Text:        "What would you like to change?",
		Suggestions: filled,
	}
}

// FormatMinorUnits renders an amount held in minor units ("5000") as a
// currency string ("50.00"). Values that don't parse are passed through
// unchanged.
func FormatMinorUnits(raw string) string {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return raw
	}
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s%d.%02d", sign, n/100, n%100)
}
