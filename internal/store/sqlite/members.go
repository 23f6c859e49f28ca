package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// MemberStore implements store.MemberStore.
type MemberStore struct {
	db *DB
}

const memberColumns = `channel_id, agent_name, agent_project_id, can_leave, can_send,
	can_invite, can_manage, invited_by, source, is_from_default, opted_out,
	opted_out_at, last_read_at, last_read_message_id, is_muted, joined_at`

func (s *MemberStore) Upsert(ctx context.Context, m *store.ChannelMember) error {
	if m.Source == "" {
		m.Source = store.SourceManual
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertMember(ctx, tx, m)
	})
}

// upsertMember writes one membership row inside an existing transaction.
// Capability flags and source are replaced on conflict; read markers and
// opt-out state are preserved.
func upsertMember(ctx context.Context, tx *sql.Tx, m *store.ChannelMember) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, agent_name, agent_project_id,
		     can_leave, can_send, can_invite, can_manage, invited_by, source,
		     is_from_default, opted_out, opted_out_at, is_muted, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		 ON CONFLICT (channel_id, agent_name, agent_project_id) DO UPDATE SET
		     can_leave = excluded.can_leave,
		     can_send = excluded.can_send,
		     can_invite = excluded.can_invite,
		     can_manage = excluded.can_manage,
		     source = excluded.source,
		     is_from_default = excluded.is_from_default`,
		m.ChannelID, m.Agent.Name, m.Agent.ProjectID,
		boolInt(m.CanLeave), boolInt(m.CanSend), boolInt(m.CanInvite),
		boolInt(m.CanManage), m.InvitedBy, string(m.Source),
		boolInt(m.IsFromDefault), boolInt(m.IsMuted), unix(m.JoinedAt))
	return err
}

func (s *MemberStore) Get(ctx context.Context, channelID string, agent store.AgentRef) (*store.ChannelMember, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM channel_members
		 WHERE channel_id = ? AND agent_name = ? AND agent_project_id = ?`,
		channelID, agent.Name, agent.ProjectID)
	return scanMember(row)
}

func (s *MemberStore) List(ctx context.Context, channelID string) ([]*store.ChannelMember, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM channel_members
		 WHERE channel_id = ? ORDER BY agent_name, agent_project_id`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*store.ChannelMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MemberStore) Remove(ctx context.Context, channelID string, agent store.AgentRef) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM channel_members
			 WHERE channel_id = ? AND agent_name = ? AND agent_project_id = ?`,
			channelID, agent.Name, agent.ProjectID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("membership in %s", channelID)
		}
		return nil
	})
}

func (s *MemberStore) OptOut(ctx context.Context, channelID string, agent store.AgentRef, at time.Time) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE channel_members SET opted_out = 1, opted_out_at = ?
			 WHERE channel_id = ? AND agent_name = ? AND agent_project_id = ?`,
			unix(at), channelID, agent.Name, agent.ProjectID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("membership in %s", channelID)
		}
		return nil
	})
}

func (s *MemberStore) MarkRead(ctx context.Context, channelID string, agent store.AgentRef, messageID int64, at time.Time) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE channel_members
			 SET last_read_at = ?, last_read_message_id = MAX(last_read_message_id, ?)
			 WHERE channel_id = ? AND agent_name = ? AND agent_project_id = ?`,
			unix(at), messageID, channelID, agent.Name, agent.ProjectID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("membership in %s", channelID)
		}
		return nil
	})
}

func (s *MemberStore) SetMuted(ctx context.Context, channelID string, agent store.AgentRef, muted bool) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE channel_members SET is_muted = ?
			 WHERE channel_id = ? AND agent_name = ? AND agent_project_id = ?`,
			boolInt(muted), channelID, agent.Name, agent.ProjectID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("membership in %s", channelID)
		}
		return nil
	})
}

func scanMember(row rowScanner) (*store.ChannelMember, error) {
	var m store.ChannelMember
	var canLeave, canSend, canInvite, canManage, isFromDefault, optedOut, isMuted int
	var optedOutAt, lastReadAt sql.NullFloat64
	var joinedAt float64

	err := row.Scan(&m.ChannelID, &m.Agent.Name, &m.Agent.ProjectID,
		&canLeave, &canSend, &canInvite, &canManage, &m.InvitedBy,
		(*string)(&m.Source), &isFromDefault, &optedOut, &optedOutAt,
		&lastReadAt, &m.LastReadMessageID, &isMuted, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("membership")
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}

	m.CanLeave = canLeave != 0
	m.CanSend = canSend != 0
	m.CanInvite = canInvite != 0
	m.CanManage = canManage != 0
	m.IsFromDefault = isFromDefault != 0
	m.OptedOut = optedOut != 0
	m.IsMuted = isMuted != 0
	if optedOutAt.Valid {
		t := fromUnix(optedOutAt.Float64)
		m.OptedOutAt = &t
	}
	if lastReadAt.Valid {
		t := fromUnix(lastReadAt.Float64)
		m.LastReadAt = &t
	}
	m.JoinedAt = fromUnix(joinedAt)
	return &m, nil
}
