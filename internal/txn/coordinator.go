// Package txn coordinates action execution with at-most-once semantics.
// Every attempt is audited; an idempotency claim taken before the external
// call is the atomicity boundary that keeps concurrent duplicates from both
// invoking the executor.
package txn

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"teller/internal/logging"
	"teller/internal/types"
)

// ActionFunc performs the externally visible side effect and returns an
// opaque receipt.
type ActionFunc func(ctx context.Context) (string, error)

// AuditMeta carries the context recorded with every execution attempt.
type AuditMeta struct {
	UserID    string
	SessionID string
	Intent    string
	Action    string
	Slots     map[string]string
}

// Result is the outcome of a coordinated execution.
type Result struct {
	AuditID string
	Receipt string
	// Duplicate is true when the receipt came from the idempotency cache
	// instead of a fresh execution.
	Duplicate bool
}

// Coordinator wraps action execution in an audit-logged, rollback-eligible
// unit of work keyed by idempotency key.
type Coordinator struct {
	cache       types.IdempotencyCache
	audit       types.AuditSink
	ttl         time.Duration
	execTimeout time.Duration
	flight      singleflight.Group
	log         *zap.Logger
	now         func() time.Time
}

// New creates a coordinator. ttl is the idempotency cache lifetime;
// execTimeout bounds a single executor invocation.
func New(cache types.IdempotencyCache, audit types.AuditSink, ttl, execTimeout time.Duration) *Coordinator {
	return &Coordinator{
		cache:       cache,
		audit:       audit,
		ttl:         ttl,
		execTimeout: execTimeout,
		log:         logging.Get(logging.CategoryTxn),
		now:         time.Now,
	}
}

// IsDuplicate reports whether a completed execution already exists for the
// key, returning its cached result if so.
func (c *Coordinator) IsDuplicate(ctx context.Context, key string) (*types.CachedResult, error) {
	outcome, cached, err := c.cache.Claim(ctx, key, c.now())
	if err != nil {
		return nil, types.WrapError(types.KindSystem, err, "idempotency check failed")
	}
	switch outcome {
	case types.ClaimDuplicateDone:
		return cached, nil
	case types.ClaimAcquired:
		// Probe only: hand the claim back immediately.
		if err := c.cache.Release(ctx, key); err != nil {
			return nil, types.WrapError(types.KindSystem, err, "failed to release probe claim")
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// ExecuteWithTransaction runs fn at most once for the key across the cache
// lifetime. The sequence is: claim key, write pending audit record, invoke
// fn, update record, publish result to the cache. Concurrent in-process
// callers with the same key are collapsed by singleflight on top of the
// store-level atomic claim, so exactly one invocation happens and every
// caller sees the same receipt.
func (c *Coordinator) ExecuteWithTransaction(ctx context.Context, key string, meta AuditMeta, fn ActionFunc) (*Result, error) {
	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		return c.executeOnce(ctx, key, meta, fn)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	if shared {
		// A collapsed concurrent caller shares the single execution's
		// receipt; mark it a duplicate from its point of view.
		dup := *res
		dup.Duplicate = true
		return &dup, nil
	}
	return res, nil
}

func (c *Coordinator) executeOnce(ctx context.Context, key string, meta AuditMeta, fn ActionFunc) (*Result, error) {
	now := c.now()
	outcome, cached, err := c.cache.Claim(ctx, key, now)
	if err != nil {
		return nil, types.WrapError(types.KindSystem, err, "idempotency claim failed")
	}

	switch outcome {
	case types.ClaimDuplicateDone:
		c.log.Info("duplicate request resolved from cache",
			zap.String("key", key), zap.String("user", meta.UserID))
		return &Result{Receipt: cached.Result, Duplicate: true}, nil

	case types.ClaimDuplicateInFlight:
		// Another process holds the claim. Not a failure for the user, but
		// there is no receipt to return yet.
		return nil, types.NewError(types.KindDuplicateRequest,
			"an identical request is already being processed")
	}

	// Claim acquired: this caller owns the single execution.
	inputSnapshot, _ := json.Marshal(meta.Slots)
	rec := &types.AuditRecord{
		ID:             uuid.NewString(),
		UserID:         meta.UserID,
		SessionID:      meta.SessionID,
		Intent:         meta.Intent,
		Action:         meta.Action,
		InputSnapshot:  string(inputSnapshot),
		Status:         types.AuditPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.audit.Append(ctx, rec); err != nil {
		// Without a pending audit record the action must not run.
		if rerr := c.cache.Release(ctx, key); rerr != nil {
			c.log.Error("failed to release claim after audit failure",
				zap.String("key", key), zap.Error(rerr))
		}
		return nil, types.WrapError(types.KindSystem, err, "failed to write audit record")
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if c.execTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, c.execTimeout)
		defer cancel()
	}

	receipt, execErr := fn(execCtx)

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			// Timed out mid-flight: the side effect may or may not have
			// happened. Leave the audit record pending and the claim held
			// for manual reconciliation rather than assuming failure.
			c.log.Error("action execution timed out, leaving record pending",
				zap.String("audit_id", rec.ID), zap.String("key", key))
			return nil, types.WrapError(types.KindSystem, execErr,
				"the action timed out; it has been flagged for review")
		}

		if uerr := c.audit.Update(ctx, rec.ID, types.AuditFailure, "", execErr.Error()); uerr != nil {
			c.log.Error("failed to mark audit record failed",
				zap.String("audit_id", rec.ID), zap.Error(uerr))
		}
		if rerr := c.cache.Release(ctx, key); rerr != nil {
			c.log.Error("failed to release claim after execution failure",
				zap.String("key", key), zap.Error(rerr))
		}
		c.log.Warn("action execution failed",
			zap.String("audit_id", rec.ID),
			zap.String("intent", meta.Intent),
			zap.Error(execErr))

		var te *types.Error
		if errors.As(execErr, &te) {
			return nil, te
		}
		return nil, types.WrapError(types.KindSystem, execErr, "action execution failed")
	}

	if err := c.audit.Update(ctx, rec.ID, types.AuditSuccess, receipt, ""); err != nil {
		c.log.Error("failed to mark audit record successful",
			zap.String("audit_id", rec.ID), zap.Error(err))
	}
	if err := c.cache.Complete(ctx, key, receipt, c.now().Add(c.ttl)); err != nil {
		c.log.Error("failed to publish idempotency result",
			zap.String("key", key), zap.Error(err))
	}

	c.log.Info("action executed",
		zap.String("audit_id", rec.ID),
		zap.String("intent", meta.Intent),
		zap.String("action", meta.Action),
		zap.String("user", meta.UserID))

	return &Result{AuditID: rec.ID, Receipt: receipt}, nil
}

// RollbackTransaction marks a failed execution as rolled back. The actual
// reversal of side effects is the ledger's job; this only flips the audit
// status so reconciliation can see the attempt was compensated.
func (c *Coordinator) RollbackTransaction(ctx context.Context, auditID string) error {
	rec, err := c.audit.Get(ctx, auditID)
	if err != nil {
		return types.WrapError(types.KindSystem, err, "audit record %s not found", auditID)
	}
	if rec.Status != types.AuditFailure {
		return types.NewError(types.KindValidation,
			"audit record %s has status %s, only failed records can be rolled back", auditID, rec.Status)
	}
	if err := c.audit.Update(ctx, auditID, types.AuditRolledBack, rec.OutputSnapshot, rec.ErrorMessage); err != nil {
		return types.WrapError(types.KindSystem, err, "failed to mark record rolled back")
	}
	c.log.Info("transaction rolled back", zap.String("audit_id", auditID))
	return nil
}
