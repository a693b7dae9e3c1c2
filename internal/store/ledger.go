package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"teller/internal/types"
)

// Ledger is the demo implementation of the balance-lookup and action
// executor collaborators, backed by the accounts table. Real deployments
// replace it with the bank's ledger service behind the same interfaces.
type Ledger struct {
	store *Store
}

// NewLedger wraps the store's accounts table.
func NewLedger(s *Store) *Ledger { return &Ledger{store: s} }

// SeedAccounts inserts starter balances for a user if none exist yet.
func (l *Ledger) SeedAccounts(ctx context.Context, userID string, balances map[string]int64) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	for ref, minor := range balances {
		_, err := l.store.db.ExecContext(ctx,
			`INSERT INTO accounts (user_id, account_ref, balance_minor)
			 VALUES (?, ?, ?)
			 ON CONFLICT(user_id, account_ref) DO NOTHING`,
			userID, ref, minor)
		if err != nil {
			return fmt.Errorf("failed to seed account %s/%s: %w", userID, ref, err)
		}
	}
	return nil
}

// Get returns the available balance in minor units.
func (l *Ledger) Get(ctx context.Context, userID, accountRef string) (int64, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	var balance int64
	err := l.store.db.QueryRowContext(ctx,
		`SELECT balance_minor FROM accounts WHERE user_id = ? AND account_ref = ?`,
		userID, accountRef).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, types.NewError(types.KindBusinessRule, "no %s account found", accountRef)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// receipt is the opaque result the executor hands back.
type receipt struct {
	Reference string `json:"reference"`
	Intent    string `json:"intent"`
	Amount    string `json:"amount,omitempty"`
	Balance   int64  `json:"balance_minor,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Execute performs the banking side effect for an intent. Debiting intents
// check and decrement the balance atomically in one statement.
func (l *Ledger) Execute(ctx context.Context, intent string, slots map[string]string) (string, error) {
	switch intent {
	case "transfer", "bill_payment":
		return l.debit(ctx, slots)
	case "balance_inquiry":
		acct := slots["account_type"]
		balance, err := l.Get(ctx, slots["user_id"], acct)
		if err != nil {
			return "", err
		}
		return marshalReceipt(receipt{
			Reference: fmt.Sprintf("BAL-%d", time.Now().UnixNano()),
			Intent:    intent,
			Balance:   balance,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	default:
		return "", types.NewError(types.KindTerminal, "no executor for intent %q", intent)
	}
}

func (l *Ledger) debit(ctx context.Context, slots map[string]string) (string, error) {
	amount, err := strconv.ParseInt(slots["amount"], 10, 64)
	if err != nil || amount <= 0 {
		return "", types.NewError(types.KindBusinessRule, "invalid amount %q", slots["amount"])
	}
	userID := slots["user_id"]
	account := slots["from_account"]

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	res, err := l.store.db.ExecContext(ctx,
		`UPDATE accounts SET balance_minor = balance_minor - ?
		 WHERE user_id = ? AND account_ref = ? AND balance_minor >= ?`,
		amount, userID, account, amount)
	if err != nil {
		return "", fmt.Errorf("failed to debit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", &types.Error{
			Kind:    types.KindBusinessRule,
			Message: fmt.Sprintf("insufficient balance in %s account", account),
			Slot:    "amount",
		}
	}

	return marshalReceipt(receipt{
		Reference: fmt.Sprintf("TXN-%d", time.Now().UnixNano()),
		Intent:    slots["intent"],
		Amount:    slots["amount"],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func marshalReceipt(r receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return string(data), nil
}
