package dialogue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	for _, intent := range []string{"transfer", "bill_payment", "balance_inquiry"} {
		s, ok := r.Get(intent)
		require.True(t, ok, "intent %q missing", intent)
		assert.NotEmpty(t, s.Action)
		assert.NotEmpty(t, s.Slots)
	}

	s, _ := r.Get("balance_inquiry")
	assert.False(t, s.RequiresConfirmation)
	s, _ = r.Get("transfer")
	assert.True(t, s.RequiresConfirmation)
}

func TestMissingSlots(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name            string
		intent          string
		filled          map[string]string
		implicitPending bool
		want            []string
	}{
		{
			"nothing filled",
			"transfer", map[string]string{}, false,
			[]string{"amount", "recipient", "from_account"},
		},
		{
			"middle slot filled keeps schema order",
			"transfer", map[string]string{"recipient": "Ali"}, false,
			[]string{"amount", "from_account"},
		},
		{
			"implicit token satisfies the amount slot",
			"transfer", map[string]string{"recipient": "Ali"}, true,
			[]string{"from_account"},
		},
		{
			"all filled",
			"transfer", map[string]string{"amount": "1", "recipient": "A", "from_account": "checking"}, false,
			nil,
		},
		{
			"unknown intent",
			"open_account", map[string]string{}, false,
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.MissingSlots(tt.intent, tt.filled, tt.implicitPending)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("missing slots mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFileReplacesSchemas(t *testing.T) {
	r := DefaultRegistry()

	path := filepath.Join(t.TempDir(), "schemas.yaml")
	content := `intents:
  - intent: transfer
    action: transfer_funds
    requires_confirmation: true
    slots:
      - name: amount
        kind: amount
        prompt: "How much?"
      - name: recipient
        kind: text
        prompt: "To whom?"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, r.LoadFile(path))

	s, ok := r.Get("transfer")
	require.True(t, ok)
	assert.Len(t, s.Slots, 2)

	// The file replaces the whole set, not just the intents it names.
	_, ok = r.Get("bill_payment")
	assert.False(t, ok)
}

func TestLoadFileParseErrorKeepsCurrentSchemas(t *testing.T) {
	r := DefaultRegistry()

	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intents: [not: valid: yaml"), 0o644))
	require.Error(t, r.LoadFile(path))

	_, ok := r.Get("transfer")
	assert.True(t, ok, "a bad file must not wipe the registry")
}

func TestLoadFileRejectsIncompleteIntent(t *testing.T) {
	r := DefaultRegistry()

	path := filepath.Join(t.TempDir(), "schemas.yaml")
	content := `intents:
  - intent: transfer
    action: ""
    slots:
      - name: amount
        kind: amount
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.Error(t, r.LoadFile(path))
}
