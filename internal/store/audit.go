package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"teller/internal/types"
)

// Append writes a new audit record. Records are append-mostly: later status
// flips go through Update, nothing is ever deleted.
func (s *Store) Append(ctx context.Context, rec *types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records
		 (id, user_id, session_id, intent, action, input_snapshot,
		  output_snapshot, status, error_message, idempotency_key,
		  created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.SessionID, rec.Intent, rec.Action,
		rec.InputSnapshot, rec.OutputSnapshot, string(rec.Status),
		rec.ErrorMessage, rec.IdempotencyKey,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Update flips an audit record's status and attaches the outcome.
func (s *Store) Update(ctx context.Context, id string, status types.AuditStatus, outputSnapshot, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_records
		 SET status = ?, output_snapshot = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(status), outputSnapshot, errorMessage, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update audit record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("audit record %s not found", id)
	}
	return nil
}

// Get returns one audit record by id.
func (s *Store) Get(ctx context.Context, id string) (*types.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, session_id, intent, action, input_snapshot,
		        output_snapshot, status, error_message, idempotency_key,
		        created_at, updated_at
		 FROM audit_records WHERE id = ?`, id)
	rec, err := scanAudit(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit record %s not found", id)
	}
	return rec, err
}

// AuditFilter narrows an audit query. Zero values mean "any".
type AuditFilter struct {
	UserID    string
	SessionID string
	Status    types.AuditStatus
	Limit     int
}

// QueryAudit lists audit records newest-first.
func (s *Store) QueryAudit(ctx context.Context, f AuditFilter) ([]*types.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, user_id, session_id, intent, action, input_snapshot,
	                 output_snapshot, status, error_message, idempotency_key,
	                 created_at, updated_at
	          FROM audit_records WHERE 1=1`
	var args []interface{}
	if f.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []*types.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAudit(row rowScanner) (*types.AuditRecord, error) {
	var rec types.AuditRecord
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &rec.Intent,
		&rec.Action, &rec.InputSnapshot, &rec.OutputSnapshot, &status,
		&rec.ErrorMessage, &rec.IdempotencyKey, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = types.AuditStatus(status)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}
