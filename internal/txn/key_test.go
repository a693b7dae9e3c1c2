package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("u1", "transfer", map[string]string{
		"amount": "5000", "recipient": "Ali", "from_account": "checking",
	})
	b := IdempotencyKey("u1", "transfer", map[string]string{
		"from_account": "checking", "recipient": "Ali", "amount": "5000",
	})
	assert.Equal(t, a, b, "slot insertion order must not matter")
}

func TestIdempotencyKeyCanonicalizesValues(t *testing.T) {
	a := IdempotencyKey("u1", "transfer", map[string]string{"amount": "5000", "recipient": "Ali"})
	b := IdempotencyKey("u1", "transfer", map[string]string{"amount": " 05000 ", "recipient": "ali"})
	assert.Equal(t, a, b, "formatting variants of the same request must collide")

	c := IdempotencyKey("u1", "transfer", map[string]string{"amount": "5001", "recipient": "Ali"})
	assert.NotEqual(t, a, c)
}

func TestIdempotencyKeySeparatesUsersAndIntents(t *testing.T) {
	slots := map[string]string{"amount": "5000"}
	assert.NotEqual(t,
		IdempotencyKey("u1", "transfer", slots),
		IdempotencyKey("u2", "transfer", slots))
	assert.NotEqual(t,
		IdempotencyKey("u1", "transfer", slots),
		IdempotencyKey("u1", "bill_payment", slots))
}

func TestCanonicalValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"050", "50"},
		{" 50 ", "50"},
		{"50.10", "50.1"},
		{"Ali  Hassan", "ali hassan"},
		{"CHECKING", "checking"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalValue(tt.in), "in=%q", tt.in)
	}
}
