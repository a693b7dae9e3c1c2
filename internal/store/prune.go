package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweep runs the periodic maintenance pass: idle-session pruning and
// expired idempotency entries, in parallel. Audit records are never touched.
func (s *Store) Sweep(ctx context.Context, sessionTTL time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := s.PruneIdle(ctx, sessionTTL)
		return err
	})
	g.Go(func() error {
		_, err := s.PruneExpired(ctx, time.Now())
		return err
	})

	if err := g.Wait(); err != nil {
		s.log.Warn("maintenance sweep failed", zap.Error(err))
		return err
	}
	return nil
}
