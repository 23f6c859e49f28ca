package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// SessionStore implements store.SessionStore. Sessions and tool calls are
// opaque bookkeeping for hook attribution; the core stores and purges
// them without interpreting their contents.
type SessionStore struct {
	db *DB
}

func (s *SessionStore) PutSession(ctx context.Context, sess *store.Session) error {
	if sess.ID == "" {
		return store.InvalidArgumentf("session id must not be empty")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	var agentName, agentProject string
	if sess.Agent != nil {
		agentName, agentProject = sess.Agent.Name, sess.Agent.ProjectID
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, agent_name, agent_project_id, project_id,
			     scope, metadata, created_at, updated_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     agent_name = excluded.agent_name,
			     agent_project_id = excluded.agent_project_id,
			     project_id = excluded.project_id,
			     scope = excluded.scope,
			     metadata = excluded.metadata,
			     updated_at = excluded.updated_at,
			     expires_at = excluded.expires_at`,
			sess.ID, agentName, agentProject, sess.ProjectID, sess.Scope,
			marshalMeta(sess.Metadata), unix(sess.CreatedAt), unix(now),
			nullableUnix(sess.ExpiresAt))
		return err
	})
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT id, agent_name, agent_project_id, project_id, scope, metadata,
		        created_at, updated_at, expires_at
		 FROM sessions WHERE id = ?`, id)

	var sess store.Session
	var agentName, agentProject, meta string
	var createdAt, updatedAt float64
	var expiresAt sql.NullFloat64
	err := row.Scan(&sess.ID, &agentName, &agentProject, &sess.ProjectID,
		&sess.Scope, &meta, &createdAt, &updatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if agentName != "" {
		sess.Agent = &store.AgentRef{Name: agentName, ProjectID: agentProject}
	}
	sess.Metadata = unmarshalMeta(meta)
	sess.CreatedAt = fromUnix(createdAt)
	sess.UpdatedAt = fromUnix(updatedAt)
	if expiresAt.Valid {
		t := fromUnix(expiresAt.Float64)
		sess.ExpiresAt = &t
	}
	return &sess, nil
}

func (s *SessionStore) PutToolCall(ctx context.Context, tc *store.ToolCall) error {
	if tc.ID == "" || tc.SessionID == "" {
		return store.InvalidArgumentf("tool call requires id and session id")
	}
	if tc.CalledAt.IsZero() {
		tc.CalledAt = time.Now()
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tool_calls (id, session_id, tool_name, arguments, result_summary, called_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET result_summary = excluded.result_summary`,
			tc.ID, tc.SessionID, tc.ToolName, marshalMeta(tc.Arguments),
			tc.ResultSummary, unix(tc.CalledAt))
		return err
	})
}

func (s *SessionStore) ListToolCalls(ctx context.Context, sessionID string) ([]*store.ToolCall, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT id, session_id, tool_name, arguments, result_summary, called_at
		 FROM tool_calls WHERE session_id = ? ORDER BY called_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var out []*store.ToolCall
	for rows.Next() {
		var tc store.ToolCall
		var args string
		var calledAt float64
		if err := rows.Scan(&tc.ID, &tc.SessionID, &tc.ToolName, &args,
			&tc.ResultSummary, &calledAt); err != nil {
			return nil, err
		}
		tc.Arguments = unmarshalMeta(args)
		tc.CalledAt = fromUnix(calledAt)
		out = append(out, &tc)
	}
	return out, rows.Err()
}

func (s *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < ?`,
			unix(now))
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	return purged, err
}
