package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"teller/internal/types"
)

func TestAdviseCoversEveryKind(t *testing.T) {
	kinds := []types.ErrorKind{
		types.KindValidation,
		types.KindRateLimit,
		types.KindNegationConflict,
		types.KindDuplicateRequest,
		types.KindBusinessRule,
		types.KindSystem,
		types.KindTerminal,
	}
	for _, kind := range kinds {
		advice := Advise(kind, Context{})
		assert.NotEmpty(t, advice.Message, "kind %s needs a message", kind)
		assert.NotEmpty(t, advice.Suggestions, "kind %s needs suggestions", kind)
	}
}

func TestAdviseRateLimitIncludesRetryAfter(t *testing.T) {
	advice := Advise(types.KindRateLimit, Context{RetryAfter: 42 * time.Second})
	assert.Contains(t, advice.Message, "42s")
	assert.True(t, advice.Retryable)
}

func TestAdviseNegationConflictNamesSlot(t *testing.T) {
	advice := Advise(types.KindNegationConflict, Context{Slot: "from_account"})
	assert.Contains(t, advice.Suggestions[0], "from_account")
}

func TestAdviseRetryableFlags(t *testing.T) {
	assert.True(t, Advise(types.KindSystem, Context{}).Retryable)
	assert.False(t, Advise(types.KindTerminal, Context{}).Retryable)
	assert.False(t, Advise(types.KindBusinessRule, Context{}).Retryable)
}

func TestAdviseErrorNeverLeaksInternalText(t *testing.T) {
	raw := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	advice := AdviseError(raw)
	assert.NotContains(t, advice.Message, "10.0.0.5")
	assert.Equal(t, Advise(types.KindSystem, Context{}).Message, advice.Message)
}

func TestAdviseErrorExtractsContext(t *testing.T) {
	err := &types.Error{
		Kind:       types.KindRateLimit,
		Message:    "too many requests",
		RetryAfter: 5 * time.Second,
	}
	advice := AdviseError(err)
	assert.Contains(t, advice.Message, "5s")
}
