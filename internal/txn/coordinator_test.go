package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"teller/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memCache is an in-memory IdempotencyCache with the same claim semantics as
// the persistent store: atomic insert, pending vs done, expiry takeover.
type memCache struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	done      bool
	result    string
	createdAt time.Time
	expiresAt time.Time
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*memEntry)}
}

func (c *memCache) Claim(ctx context.Context, key string, now time.Time) (types.ClaimOutcome, *types.CachedResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.entries[key] = &memEntry{createdAt: now}
		return types.ClaimAcquired, nil, nil
	}
	if !e.done {
		return types.ClaimDuplicateInFlight, nil, nil
	}
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		c.entries[key] = &memEntry{createdAt: now}
		return types.ClaimAcquired, nil, nil
	}
	return types.ClaimDuplicateDone, &types.CachedResult{
		Key: key, Result: e.result, CreatedAt: e.createdAt, ExpiresAt: e.expiresAt,
	}, nil
}

func (c *memCache) Complete(ctx context.Context, key, result string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.done {
		return fmt.Errorf("no pending claim for key %s", key)
	}
	e.done = true
	e.result = result
	e.expiresAt = expiresAt
	return nil
}

func (c *memCache) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !e.done {
		delete(c.entries, key)
	}
	return nil
}

func (c *memCache) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if e.done && !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

// memAudit is an in-memory AuditSink.
type memAudit struct {
	mu         sync.Mutex
	records    map[string]*types.AuditRecord
	order      []string
	failAppend bool
}

func newMemAudit() *memAudit {
	return &memAudit{records: make(map[string]*types.AuditRecord)}
}

func (a *memAudit) Append(ctx context.Context, rec *types.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAppend {
		return errors.New("audit store unavailable")
	}
	cp := *rec
	a.records[rec.ID] = &cp
	a.order = append(a.order, rec.ID)
	return nil
}

func (a *memAudit) Update(ctx context.Context, id string, status types.AuditStatus, output, errMsg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	if !ok {
		return fmt.Errorf("audit record %s not found", id)
	}
	rec.Status = status
	rec.OutputSnapshot = output
	rec.ErrorMessage = errMsg
	return nil
}

func (a *memAudit) Get(ctx context.Context, id string) (*types.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	if !ok {
		return nil, fmt.Errorf("audit record %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (a *memAudit) last(t *testing.T) *types.AuditRecord {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.order)
	return a.records[a.order[len(a.order)-1]]
}

func testMeta() AuditMeta {
	return AuditMeta{
		UserID:    "u1",
		SessionID: "s1",
		Intent:    "transfer",
		Action:    "transfer_funds",
		Slots:     map[string]string{"amount": "5000", "recipient": "Ali"},
	}
}

func TestExecuteOnceThenCached(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, time.Hour, time.Second)

	var count int32
	fn := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&count, 1)
		return `{"reference":"r-1"}`, nil
	}

	key := IdempotencyKey("u1", "transfer", testMeta().Slots)

	res, err := c.ExecuteWithTransaction(ctx, key, testMeta(), fn)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.AuditID)
	assert.Equal(t, `{"reference":"r-1"}`, res.Receipt)

	rec, err := audit.Get(ctx, res.AuditID)
	require.NoError(t, err)
	assert.Equal(t, types.AuditSuccess, rec.Status)
	assert.Equal(t, res.Receipt, rec.OutputSnapshot)

	// Second identical request returns the cached receipt without executing.
	res2, err := c.ExecuteWithTransaction(ctx, key, testMeta(), fn)
	require.NoError(t, err)
	assert.True(t, res2.Duplicate)
	assert.Equal(t, res.Receipt, res2.Receipt)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestConcurrentDuplicatesExecuteOnce(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, time.Hour, time.Second)

	var count int32
	fn := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&count, 1)
		time.Sleep(20 * time.Millisecond)
		return "receipt", nil
	}

	key := IdempotencyKey("u1", "transfer", testMeta().Slots)

	const callers = 10
	receipts := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.ExecuteWithTransaction(ctx, key, testMeta(), fn)
			if err != nil {
				errs[i] = err
				return
			}
			receipts[i] = res.Receipt
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&count), "exactly one execution")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "receipt", receipts[i])
	}
}

func TestFailureReleasesClaimForRetry(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, time.Hour, time.Second)

	key := "k1"
	boom := &types.Error{Kind: types.KindBusinessRule, Message: "insufficient balance", Slot: "amount"}
	_, err := c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		return "", boom
	})
	require.Error(t, err)
	assert.Equal(t, types.KindBusinessRule, types.KindOf(err), "structured error kind survives the coordinator")

	rec := audit.last(t)
	assert.Equal(t, types.AuditFailure, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "insufficient balance")

	// The claim was released, so a corrected retry executes.
	var count int32
	res, err := c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		atomic.AddInt32(&count, 1)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestTimeoutLeavesRecordPendingAndClaimHeld(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, time.Hour, 10*time.Millisecond)

	key := "k-timeout"
	_, err := c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, types.KindSystem, types.KindOf(err))

	rec := audit.last(t)
	assert.Equal(t, types.AuditPending, rec.Status, "timed-out attempt stays pending for reconciliation")

	// The claim is deliberately not released: a retry must not double-execute
	// an action whose outcome is unknown.
	_, err = c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		return "should not run", nil
	})
	require.Error(t, err)
	assert.Equal(t, types.KindDuplicateRequest, types.KindOf(err))
}

func TestAuditAppendFailureAbortsBeforeExecution(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	audit.failAppend = true
	c := New(cache, audit, time.Hour, time.Second)

	var count int32
	key := "k-audit"
	_, err := c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		atomic.AddInt32(&count, 1)
		return "x", nil
	})
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count), "no audit record, no side effect")

	// Claim released on abort, so the key is usable once the sink recovers.
	audit.mu.Lock()
	audit.failAppend = false
	audit.mu.Unlock()
	res, err := c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		return "y", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "y", res.Receipt)
}

func TestIsDuplicate(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, time.Hour, time.Second)

	key := "k-dup"
	cached, err := c.IsDuplicate(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, cached)

	// The probe must not hold the claim.
	res, err := c.ExecuteWithTransaction(ctx, key, testMeta(), func(ctx context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	cached, err = c.IsDuplicate(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "done", cached.Result)
}

func TestCacheExpiryAllowsReExecution(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, 50*time.Millisecond, time.Second)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	var count int32
	fn := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&count, 1)
		return fmt.Sprintf("r-%d", atomic.LoadInt32(&count)), nil
	}

	key := "k-expiry"
	res, err := c.ExecuteWithTransaction(ctx, key, testMeta(), fn)
	require.NoError(t, err)
	assert.Equal(t, "r-1", res.Receipt)

	// Within the TTL: cached.
	current = base.Add(10 * time.Millisecond)
	res, err = c.ExecuteWithTransaction(ctx, key, testMeta(), fn)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// Past the TTL: the entry expired; a fresh execution runs.
	current = base.Add(time.Hour)
	res, err = c.ExecuteWithTransaction(ctx, key, testMeta(), fn)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestRollbackTransaction(t *testing.T) {
	ctx := context.Background()
	cache, audit := newMemCache(), newMemAudit()
	c := New(cache, audit, time.Hour, time.Second)

	_, err := c.ExecuteWithTransaction(ctx, "k-rb", testMeta(), func(ctx context.Context) (string, error) {
		return "", errors.New("wire transfer rejected downstream")
	})
	require.Error(t, err)

	failed := audit.last(t)
	require.Equal(t, types.AuditFailure, failed.Status)

	require.NoError(t, c.RollbackTransaction(ctx, failed.ID))
	rec, err := audit.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AuditRolledBack, rec.Status)

	// Only failed records can be rolled back.
	res, err := c.ExecuteWithTransaction(ctx, "k-rb-2", testMeta(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	err = c.RollbackTransaction(ctx, res.AuditID)
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}
