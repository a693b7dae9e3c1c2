package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teller/internal/types"
)

// Load returns the dialogue state for a session, or nil when none exists.
// Last-write-wins is acceptable here because the processor serializes turns
// per session id.
func (s *Store) Load(ctx context.Context, sessionID string) (*types.DialogueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var state types.DialogueState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("corrupt session state for %s: %w", sessionID, err)
	}
	if state.FilledSlots == nil {
		state.FilledSlots = make(map[string]string)
	}
	return &state, nil
}

// Save upserts the dialogue state for a session.
func (s *Store) Save(ctx context.Context, state *types.DialogueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, fsm_state, state_json, last_activity_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   user_id = excluded.user_id,
		   fsm_state = excluded.fsm_state,
		   state_json = excluded.state_json,
		   last_activity_at = excluded.last_activity_at`,
		state.SessionID, state.UserID, string(state.FSMState),
		string(stateJSON), state.LastActivityAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", state.SessionID, err)
	}
	return nil
}

// PruneIdle removes sessions whose last activity is older than the TTL.
// A pruned session behaves exactly like a fresh idle one on its next load.
// Audit records are untouched.
func (s *Store) PruneIdle(ctx context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UnixNano()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("pruned idle sessions", zap.Int64("count", n))
	}
	return int(n), nil
}
