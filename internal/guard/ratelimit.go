package guard

import (
	"sync"
	"time"

	"teller/internal/config"
	"teller/internal/types"
)

// rateLimiter tracks per-user request timestamps and enforces independent
// sliding windows per minute, hour, and day. State is purely in-memory;
// stale users are pruned opportunistically on access.
type rateLimiter struct {
	mu    sync.Mutex
	cfg   config.GuardConfig
	users map[string][]time.Time

	now func() time.Time // injectable for tests
}

func newRateLimiter(cfg config.GuardConfig) *rateLimiter {
	return &rateLimiter{
		cfg:   cfg,
		users: make(map[string][]time.Time),
		now:   time.Now,
	}
}

type window struct {
	span  time.Duration
	limit int
}

func (l *rateLimiter) windows() []window {
	return []window{
		{time.Minute, l.cfg.PerMinute},
		{time.Hour, l.cfg.PerHour},
		{24 * time.Hour, l.cfg.PerDay},
	}
}

// check returns a rate-limit error carrying the retry-after hint of the
// tightest exhausted window. It also prunes timestamps older than a day.
func (l *rateLimiter) check(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := l.prune(userID, now)

	for _, w := range l.windows() {
		if w.limit <= 0 {
			continue
		}
		cutoff := now.Add(-w.span)
		count := 0
		oldest := now
		for _, ts := range stamps {
			if ts.After(cutoff) {
				count++
				if ts.Before(oldest) {
					oldest = ts
				}
			}
		}
		if count >= w.limit {
			retry := oldest.Add(w.span).Sub(now)
			if retry < 0 {
				retry = 0
			}
			return &types.Error{
				Kind:       types.KindRateLimit,
				Message:    "too many requests",
				RetryAfter: retry,
			}
		}
	}
	return nil
}

func (l *rateLimiter) track(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[userID] = append(l.prune(userID, l.now()), l.now())
}

// prune drops timestamps outside the widest window. Caller holds the lock.
func (l *rateLimiter) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-24 * time.Hour)
	old := l.users[userID]
	kept := old[:0]
	for _, ts := range old {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.users, userID)
		return nil
	}
	l.users[userID] = kept
	return kept
}
