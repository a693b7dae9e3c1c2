// Package dialogue owns per-session dialogue state transitions: intent
// locking, deterministic slot filling, confirmation, and the transition
// table between them. The machine consumes resolver output as plain data and
// performs no I/O of its own.
package dialogue

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// SlotKind drives slot-specific handling (negation checks target account
// slots, implicit tokens target amount slots).
type SlotKind string

const (
	SlotText    SlotKind = "text"
	SlotAmount  SlotKind = "amount"
	SlotAccount SlotKind = "account"
)

// SlotDef declares one required parameter of an intent.
type SlotDef struct {
	Name   string   `yaml:"name"`
	Kind   SlotKind `yaml:"kind"`
	Prompt string   `yaml:"prompt"`
}

// IntentSchema is the static, ordered slot schema for one intent. Missing
// slot ordering is always schema order, which makes the next prompt a pure
// function of the locked intent and the filled set.
type IntentSchema struct {
	Intent string    `yaml:"intent"`
	Action string    `yaml:"action"`
	Slots  []SlotDef `yaml:"slots"`
	// RequiresConfirmation is false for read-only intents, which skip the
	// confirmation stage entirely.
	RequiresConfirmation bool `yaml:"requires_confirmation"`
}

// schemaFile is the on-disk shape of a schema override file.
type schemaFile struct {
	Intents []IntentSchema `yaml:"intents"`
}

// Registry holds the per-intent schemas. Reads vastly outnumber writes;
// writes only happen on hot-reload.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]IntentSchema
}

// DefaultRegistry returns the compiled-in intent schemas.
func DefaultRegistry() *Registry {
	r := &Registry{schemas: make(map[string]IntentSchema)}
	for _, s := range defaultSchemas() {
		r.schemas[s.Intent] = s
	}
	return r
}

func defaultSchemas() []IntentSchema {
	return []IntentSchema{
		{
			Intent:               "transfer",
			Action:               "transfer_funds",
			RequiresConfirmation: true,
			Slots: []SlotDef{
				{Name: "amount", Kind: SlotAmount, Prompt: "How much would you like to transfer?"},
				{Name: "recipient", Kind: SlotText, Prompt: "Who should receive the transfer?"},
				{Name: "from_account", Kind: SlotAccount, Prompt: "Which account should the money come from?"},
			},
		},
		{
			Intent:               "bill_payment",
			Action:               "pay_bill",
			RequiresConfirmation: true,
			Slots: []SlotDef{
				{Name: "bill_type", Kind: SlotText, Prompt: "Which bill would you like to pay?"},
				{Name: "amount", Kind: SlotAmount, Prompt: "How much is the payment?"},
				{Name: "from_account", Kind: SlotAccount, Prompt: "Which account should the payment come from?"},
			},
		},
		{
			Intent:               "balance_inquiry",
			Action:               "get_balance",
			RequiresConfirmation: false,
			Slots: []SlotDef{
				{Name: "account_type", Kind: SlotAccount, Prompt: "Which account balance would you like to see?"},
			},
		},
	}
}

// Get returns the schema for an intent.
func (r *Registry) Get(intent string) (IntentSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[intent]
	return s, ok
}

// Intents returns the known intent names.
func (r *Registry) Intents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	return out
}

// LoadFile replaces the registry contents from a YAML schema file. The
// swap is atomic: a parse error leaves the current schemas untouched.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse schema file: %w", err)
	}
	if len(f.Intents) == 0 {
		return fmt.Errorf("schema file %s declares no intents", path)
	}
	for _, s := range f.Intents {
		if s.Intent == "" || s.Action == "" {
			return fmt.Errorf("schema file %s: intent and action are required", path)
		}
		if len(s.Slots) == 0 {
			return fmt.Errorf("schema file %s: intent %q has no slots", path, s.Intent)
		}
	}

	next := make(map[string]IntentSchema, len(f.Intents))
	for _, s := range f.Intents {
		next[s.Intent] = s
	}

	r.mu.Lock()
	r.schemas = next
	r.mu.Unlock()
	return nil
}

// MissingSlots computes the unfilled slots for an intent in schema order.
// An amount slot counts as filled while an implicit token is pending, since
// the token resolves to a concrete value before confirmation.
func (r *Registry) MissingSlots(intent string, filled map[string]string, implicitPending bool) []string {
	schema, ok := r.Get(intent)
	if !ok {
		return nil
	}
	var missing []string
	for _, slot := range schema.Slots {
		if _, ok := filled[slot.Name]; ok {
			continue
		}
		if slot.Kind == SlotAmount && implicitPending {
			continue
		}
		missing = append(missing, slot.Name)
	}
	return missing
}

func hasAmountSlot(schema IntentSchema) bool {
	for _, slot := range schema.Slots {
		if slot.Kind == SlotAmount {
			return true
		}
	}
	return false
}
