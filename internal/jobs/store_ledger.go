package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dubline/internal/ledger"
)

// SaveLedger replaces the persisted ledger snapshot for a job.
func (s *Store) SaveLedger(ctx context.Context, id string, l *ledger.Ledger) error {
	if l == nil {
		return errors.New("ledger is nil")
	}
	data, err := l.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	stamp := nowStamp()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO ledgers (job_id, snapshot_json, record_count, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(job_id) DO UPDATE SET snapshot_json = excluded.snapshot_json,
             record_count = excluded.record_count, updated_at = excluded.updated_at`,
		id, string(data), l.Len(), stamp,
	); err != nil {
		if isForeignKeyViolation(err) {
			return notFound(id)
		}
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// LoadLedger returns the persisted ledger for a job, or nil when none exists.
func (s *Store) LoadLedger(ctx context.Context, id string) (*ledger.Ledger, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM ledgers WHERE job_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	l, err := ledger.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode ledger for job %s: %w", id, err)
	}
	return l, nil
}

func isForeignKeyViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "FOREIGN KEY constraint failed") || strings.Contains(err.Error(), "SQLITE_CONSTRAINT_FOREIGNKEY"))
}
