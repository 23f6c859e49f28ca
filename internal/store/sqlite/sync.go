package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// SyncStore implements store.SyncStore over config_sync_history.
type SyncStore struct {
	db *DB
}

func (s *SyncStore) Record(ctx context.Context, r *store.SyncRecord) error {
	if r.AppliedAt.IsZero() {
		r.AppliedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = "applied"
	}
	if r.Plan == "" {
		r.Plan = "[]"
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO config_sync_history (config_hash, applied_at, actions, plan, status, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ConfigHash, unix(r.AppliedAt), r.Actions, r.Plan, r.Status, r.Error)
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	})
}

func (s *SyncStore) Last(ctx context.Context) (*store.SyncRecord, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT id, config_hash, applied_at, actions, plan, status, error
		 FROM config_sync_history ORDER BY id DESC LIMIT 1`)

	var r store.SyncRecord
	var appliedAt float64
	err := row.Scan(&r.ID, &r.ConfigHash, &appliedAt, &r.Actions, &r.Plan, &r.Status, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("no reconciliation has run")
	}
	if err != nil {
		return nil, fmt.Errorf("scan sync record: %w", err)
	}
	r.AppliedAt = fromUnix(appliedAt)
	return &r, nil
}
