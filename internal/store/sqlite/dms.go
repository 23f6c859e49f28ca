package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// DMPermissionStore implements store.DMPermissionStore.
type DMPermissionStore struct {
	db *DB
}

func (s *DMPermissionStore) Set(ctx context.Context, p *store.DMPermission) error {
	if p.Kind != store.PermAllow && p.Kind != store.PermBlock {
		return store.InvalidArgumentf("permission must be allow or block, got %q", p.Kind)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dm_permissions (agent_name, agent_project_id,
			     other_name, other_project_id, permission, reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (agent_name, agent_project_id, other_name, other_project_id)
			 DO UPDATE SET permission = excluded.permission, reason = excluded.reason`,
			p.Agent.Name, p.Agent.ProjectID, p.Other.Name, p.Other.ProjectID,
			string(p.Kind), p.Reason, unix(time.Now()))
		return err
	})
}

func (s *DMPermissionStore) Get(ctx context.Context, agent, other store.AgentRef) (*store.DMPermission, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT agent_name, agent_project_id, other_name, other_project_id,
		        permission, reason, created_at
		 FROM dm_permissions
		 WHERE agent_name = ? AND agent_project_id = ?
		   AND other_name = ? AND other_project_id = ?`,
		agent.Name, agent.ProjectID, other.Name, other.ProjectID)

	var p store.DMPermission
	var createdAt float64
	err := row.Scan(&p.Agent.Name, &p.Agent.ProjectID, &p.Other.Name,
		&p.Other.ProjectID, (*string)(&p.Kind), &p.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("dm permission")
	}
	if err != nil {
		return nil, fmt.Errorf("scan dm permission: %w", err)
	}
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}

func (s *DMPermissionStore) Remove(ctx context.Context, agent, other store.AgentRef) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM dm_permissions
			 WHERE agent_name = ? AND agent_project_id = ?
			   AND other_name = ? AND other_project_id = ?`,
			agent.Name, agent.ProjectID, other.Name, other.ProjectID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("dm permission")
		}
		return nil
	})
}
