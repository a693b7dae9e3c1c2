package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teller/internal/types"
)

const (
	claimPending = "pending"
	claimDone    = "done"
)

// Claim is the atomic compare-and-insert at the heart of duplicate
// suppression: of any number of concurrent callers with the same key,
// exactly one acquires the claim. Completed entries whose TTL has lapsed
// are taken over by the next claimant.
func (s *Store) Claim(ctx context.Context, key string, now time.Time) (types.ClaimOutcome, *types.CachedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (key, status, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, claimPending, now.UnixNano())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to insert idempotency claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return types.ClaimAcquired, nil, nil
	}

	var status, result string
	var createdAt int64
	var expiresAt sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT status, result, created_at, expires_at FROM idempotency_cache WHERE key = ?`,
		key).Scan(&status, &result, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		// Claim vanished between insert and select (a concurrent release).
		// Treat as in-flight; the caller will surface a duplicate.
		return types.ClaimDuplicateInFlight, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read idempotency entry: %w", err)
	}

	if status == claimPending {
		return types.ClaimDuplicateInFlight, nil, nil
	}

	cached := &types.CachedResult{
		Key:       key,
		Result:    result,
		CreatedAt: time.Unix(0, createdAt),
	}
	if expiresAt.Valid {
		cached.ExpiresAt = time.Unix(0, expiresAt.Int64)
	}

	if cached.Expired(now) {
		// Take over the expired entry atomically; the status guard keeps
		// two takeover attempts from both succeeding.
		res, err := s.db.ExecContext(ctx,
			`UPDATE idempotency_cache
			 SET status = ?, result = '', created_at = ?, expires_at = NULL
			 WHERE key = ? AND status = ? AND expires_at <= ?`,
			claimPending, now.UnixNano(), key, claimDone, now.UnixNano())
		if err != nil {
			return 0, nil, fmt.Errorf("failed to take over expired entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return types.ClaimAcquired, nil, nil
		}
		return types.ClaimDuplicateInFlight, nil, nil
	}

	return types.ClaimDuplicateDone, cached, nil
}

// Complete publishes the successful result for a held claim. Write-once: a
// key that already completed is never overwritten.
func (s *Store) Complete(ctx context.Context, key, result string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_cache
		 SET status = ?, result = ?, expires_at = ?
		 WHERE key = ? AND status = ?`,
		claimDone, result, expiresAt.UnixNano(), key, claimPending)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no pending claim to complete for key %s", key)
	}
	return nil
}

// Release abandons a held claim after a failed execution, allowing a retry
// to claim the key again. Completed entries are never released.
func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE key = ? AND status = ?`,
		key, claimPending)
	if err != nil {
		return fmt.Errorf("failed to release idempotency claim: %w", err)
	}
	return nil
}

// PruneExpired removes completed entries past their expiry. Pending claims
// are left alone; an abandoned pending claim is a reconciliation case, not
// garbage.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		claimDone, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune idempotency cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("pruned expired idempotency entries", zap.Int64("count", n))
	}
	return int(n), nil
}
