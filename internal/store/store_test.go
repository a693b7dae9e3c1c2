package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teller/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Absent session loads as nil without error.
	got, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	state := types.NewDialogueState("s1", "u1")
	state.FSMState = types.StateSlotFilling
	state.LockedIntent = "transfer"
	state.FilledSlots = map[string]string{"amount": "5000", "recipient": "Ali"}
	state.MissingSlots = []string{"from_account"}
	state.TurnCount = 3
	state.LastActivityAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state.PendingNegations = []types.NegationConstraint{
		{Scope: types.ScopeAccountType, ExcludedEntity: "savings"},
	}
	state.PendingImplicit = types.TokenHalf

	require.NoError(t, s.Save(ctx, state))

	got, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(state, got); diff != "" {
		t.Errorf("session state mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionSaveOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := types.NewDialogueState("s1", "u1")
	state.LastActivityAt = time.Now()
	require.NoError(t, s.Save(ctx, state))

	state.FSMState = types.StateConfirmationPending
	state.LockedIntent = "bill_payment"
	require.NoError(t, s.Save(ctx, state))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.StateConfirmationPending, got.FSMState)
	assert.Equal(t, "bill_payment", got.LockedIntent)
}

func TestPruneIdle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := types.NewDialogueState("stale", "u1")
	stale.LastActivityAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Save(ctx, stale))

	fresh := types.NewDialogueState("fresh", "u1")
	fresh.LastActivityAt = time.Now()
	require.NoError(t, s.Save(ctx, fresh))

	n, err := s.PruneIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Load(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestClaimLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	outcome, cached, err := s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, types.ClaimAcquired, outcome)
	assert.Nil(t, cached)

	// While pending, everyone else sees in-flight.
	outcome, _, err = s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, types.ClaimDuplicateInFlight, outcome)

	require.NoError(t, s.Complete(ctx, "k1", "receipt-1", now.Add(time.Hour)))

	outcome, cached, err = s.Claim(ctx, "k1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.ClaimDuplicateDone, outcome)
	require.NotNil(t, cached)
	assert.Equal(t, "receipt-1", cached.Result)

	// Write-once: completing again fails.
	require.Error(t, s.Complete(ctx, "k1", "receipt-2", now.Add(time.Hour)))
}

func TestClaimReleaseAllowsRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	outcome, _, err := s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	require.Equal(t, types.ClaimAcquired, outcome)

	require.NoError(t, s.Release(ctx, "k1"))

	outcome, _, err = s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, types.ClaimAcquired, outcome)
}

func TestReleaseNeverDropsCompletedEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "k1", "done", now.Add(time.Hour)))

	require.NoError(t, s.Release(ctx, "k1"))

	outcome, cached, err := s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, types.ClaimDuplicateDone, outcome)
	assert.Equal(t, "done", cached.Result)
}

func TestClaimExpiredTakeover(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := s.Claim(ctx, "k1", now)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "k1", "old", now.Add(time.Minute)))

	outcome, _, err := s.Claim(ctx, "k1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ClaimAcquired, outcome, "expired completion is reclaimable")
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	const callers = 16
	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := s.Claim(ctx, "hot-key", now)
			if err == nil && outcome == types.ClaimAcquired {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&acquired), "exactly one concurrent claimant wins")
}

func TestPruneExpiredKeepsPendingClaims(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := s.Claim(ctx, "pending-key", now)
	require.NoError(t, err)

	_, _, err = s.Claim(ctx, "done-key", now)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "done-key", "r", now.Add(time.Minute)))

	n, err := s.PruneExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The abandoned pending claim survives for reconciliation.
	outcome, _, err := s.Claim(ctx, "pending-key", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ClaimDuplicateInFlight, outcome)
}

func TestAuditAppendUpdateGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &types.AuditRecord{
		ID:             "a1",
		UserID:         "u1",
		SessionID:      "s1",
		Intent:         "transfer",
		Action:         "transfer_funds",
		InputSnapshot:  `{"amount":"5000"}`,
		Status:         types.AuditPending,
		IdempotencyKey: "k1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.Append(ctx, rec))

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AuditPending, got.Status)
	assert.Equal(t, rec.InputSnapshot, got.InputSnapshot)

	require.NoError(t, s.Update(ctx, "a1", types.AuditSuccess, `{"reference":"r1"}`, ""))
	got, err = s.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.AuditSuccess, got.Status)
	assert.Equal(t, `{"reference":"r1"}`, got.OutputSnapshot)

	require.Error(t, s.Update(ctx, "nope", types.AuditFailure, "", "x"))
	_, err = s.Get(ctx, "nope")
	require.Error(t, err)
}

func TestQueryAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []struct {
		id, user, session string
		status            types.AuditStatus
		at                time.Time
	}{
		{"a1", "u1", "s1", types.AuditSuccess, base},
		{"a2", "u1", "s1", types.AuditFailure, base.Add(time.Minute)},
		{"a3", "u2", "s2", types.AuditSuccess, base.Add(2 * time.Minute)},
	}
	for _, row := range seed {
		require.NoError(t, s.Append(ctx, &types.AuditRecord{
			ID: row.id, UserID: row.user, SessionID: row.session,
			Intent: "transfer", Action: "transfer_funds",
			InputSnapshot: "{}", Status: row.status,
			IdempotencyKey: "k-" + row.id,
			CreatedAt:      row.at, UpdatedAt: row.at,
		}))
	}

	out, err := s.QueryAudit(ctx, AuditFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a2", out[0].ID, "newest first")

	out, err = s.QueryAudit(ctx, AuditFilter{Status: types.AuditSuccess})
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = s.QueryAudit(ctx, AuditFilter{UserID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a2", out[0].ID)
}

func TestSweep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := types.NewDialogueState("stale", "u1")
	stale.LastActivityAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Save(ctx, stale))

	_, _, err := s.Claim(ctx, "k1", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "k1", "r", time.Now().Add(-time.Hour)))

	require.NoError(t, s.Sweep(ctx, time.Hour))

	got, err := s.Load(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)
	outcome, _, err := s.Claim(ctx, "k1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ClaimAcquired, outcome)
}
