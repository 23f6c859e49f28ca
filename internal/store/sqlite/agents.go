package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// AgentStore implements store.AgentStore.
type AgentStore struct {
	db *DB
}

const agentColumns = `name, project_id, description, dm_policy, discoverable, status, metadata, created_at, updated_at`

func (s *AgentStore) Upsert(ctx context.Context, a *store.Agent) error {
	if err := store.ValidateName(a.Name); err != nil {
		return err
	}
	if a.DMPolicy == "" {
		a.DMPolicy = store.DMOpen
	}
	if a.Discoverable == "" {
		a.Discoverable = store.DiscoverPublic
	}
	if a.Status == "" {
		a.Status = "active"
	}
	now := time.Now()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agents (name, project_id, description, dm_policy, discoverable, status, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (name, project_id) DO UPDATE SET
			     description = excluded.description,
			     dm_policy = excluded.dm_policy,
			     discoverable = excluded.discoverable,
			     status = excluded.status,
			     metadata = excluded.metadata,
			     updated_at = excluded.updated_at`,
			a.Name, a.ProjectID, a.Description, string(a.DMPolicy),
			string(a.Discoverable), a.Status, marshalMeta(a.Metadata),
			unix(now), unix(now))
		return err
	})
}

func (s *AgentStore) Get(ctx context.Context, ref store.AgentRef) (*store.Agent, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = ? AND project_id = ?`,
		ref.Name, ref.ProjectID)
	return scanAgent(row)
}

func (s *AgentStore) List(ctx context.Context, projectID string, onlyProject bool) ([]*store.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if onlyProject {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY name, project_id`

	rows, err := s.db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *AgentStore) Delete(ctx context.Context, ref store.AgentRef) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM agents WHERE name = ? AND project_id = ?`,
			ref.Name, ref.ProjectID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("agent %s", ref.Name)
		}
		return nil
	})
}

func scanAgent(row rowScanner) (*store.Agent, error) {
	var a store.Agent
	var meta string
	var createdAt, updatedAt float64
	err := row.Scan(&a.Name, &a.ProjectID, &a.Description,
		(*string)(&a.DMPolicy), (*string)(&a.Discoverable), &a.Status,
		&meta, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("agent")
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Metadata = unmarshalMeta(meta)
	a.CreatedAt = fromUnix(createdAt)
	a.UpdatedAt = fromUnix(updatedAt)
	return &a, nil
}
