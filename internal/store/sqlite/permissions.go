package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// PermissionStore implements the three permission primitives over the
// agent_channels, dm_access and agent_discovery views. Everything the
// façade knows about access goes through these.
type PermissionStore struct {
	db *DB
}

func (s *PermissionStore) VisibleChannels(ctx context.Context, agent store.AgentRef) ([]*store.ChannelWithMembership, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT channel_id, channel_type, access_type, scope, project_id, name,
		        description, is_default, is_archived, archived_at,
		        owner_name, owner_project_id, metadata, created_at,
		        can_leave, can_send, can_invite, can_manage, invited_by, source,
		        is_from_default, last_read_at, last_read_message_id, is_muted, joined_at
		 FROM agent_channels
		 WHERE agent_name = ? AND agent_project_id = ?
		 ORDER BY channel_id`,
		agent.Name, agent.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("visible channels: %w", err)
	}
	defer rows.Close()

	var out []*store.ChannelWithMembership
	for rows.Next() {
		var cw store.ChannelWithMembership
		var projectID, ownerName, ownerProject sql.NullString
		var archivedAt, lastReadAt sql.NullFloat64
		var isDefault, isArchived, canLeave, canSend, canInvite, canManage int
		var isFromDefault, isMuted int
		var meta string
		var createdAt, joinedAt float64

		err := rows.Scan(&cw.ID, (*string)(&cw.ChannelType), (*string)(&cw.AccessType),
			(*string)(&cw.Scope), &projectID, &cw.Name, &cw.Description,
			&isDefault, &isArchived, &archivedAt, &ownerName, &ownerProject,
			&meta, &createdAt,
			&canLeave, &canSend, &canInvite, &canManage, &cw.Member.InvitedBy,
			(*string)(&cw.Member.Source), &isFromDefault, &lastReadAt,
			&cw.Member.LastReadMessageID, &isMuted, &joinedAt)
		if err != nil {
			return nil, fmt.Errorf("scan visible channel: %w", err)
		}

		cw.ProjectID = projectID.String
		cw.IsDefault = isDefault != 0
		cw.IsArchived = isArchived != 0
		if archivedAt.Valid {
			t := fromUnix(archivedAt.Float64)
			cw.ArchivedAt = &t
		}
		if ownerName.Valid {
			cw.Owner = &store.AgentRef{Name: ownerName.String, ProjectID: ownerProject.String}
		}
		cw.Metadata = unmarshalMeta(meta)
		cw.CreatedAt = fromUnix(createdAt)

		cw.Member.ChannelID = cw.ID
		cw.Member.Agent = agent
		cw.Member.CanLeave = canLeave != 0
		cw.Member.CanSend = canSend != 0
		cw.Member.CanInvite = canInvite != 0
		cw.Member.CanManage = canManage != 0
		cw.Member.IsFromDefault = isFromDefault != 0
		cw.Member.IsMuted = isMuted != 0
		if lastReadAt.Valid {
			t := fromUnix(lastReadAt.Float64)
			cw.Member.LastReadAt = &t
		}
		cw.Member.JoinedAt = fromUnix(joinedAt)

		out = append(out, &cw)
	}
	return out, rows.Err()
}

// CanDM resolves pairwise DM capability. The dm_access view answers the
// common case in one probe; when access is denied the rule violated is
// re-derived so the caller gets one sentence naming it.
func (s *PermissionStore) CanDM(ctx context.Context, x, y store.AgentRef) (bool, string, error) {
	var one int
	err := s.db.reader.QueryRowContext(ctx,
		`SELECT 1 FROM dm_access
		 WHERE agent_name = ? AND agent_project_id = ?
		   AND other_name = ? AND other_project_id = ?`,
		x.Name, x.ProjectID, y.Name, y.ProjectID).Scan(&one)
	if err == nil {
		return true, "", nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, "", fmt.Errorf("dm access: %w", err)
	}

	reason, err := s.dmDenialReason(ctx, x, y)
	if err != nil {
		return false, "", err
	}
	return false, reason, nil
}

func (s *PermissionStore) dmDenialReason(ctx context.Context, x, y store.AgentRef) (string, error) {
	var blocked int
	err := s.db.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dm_permissions
		 WHERE permission = 'block'
		   AND ((agent_name = ? AND agent_project_id = ? AND other_name = ? AND other_project_id = ?)
		     OR (agent_name = ? AND agent_project_id = ? AND other_name = ? AND other_project_id = ?))`,
		x.Name, x.ProjectID, y.Name, y.ProjectID,
		y.Name, y.ProjectID, x.Name, x.ProjectID).Scan(&blocked)
	if err != nil {
		return "", err
	}
	if blocked > 0 {
		return "direct messages between these agents are blocked", nil
	}

	for _, pair := range []struct {
		who   store.AgentRef
		label string
	}{{y, "recipient"}, {x, "sender"}} {
		var policy string
		err := s.db.reader.QueryRowContext(ctx,
			`SELECT dm_policy FROM agents WHERE name = ? AND project_id = ?`,
			pair.who.Name, pair.who.ProjectID).Scan(&policy)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Sprintf("%s agent is not registered", pair.label), nil
		}
		if err != nil {
			return "", err
		}
		if policy == string(store.DMClosed) {
			return fmt.Sprintf("%s has a closed dm policy", pair.label), nil
		}
	}
	return "restricted dm policy requires an explicit allow", nil
}

func (s *PermissionStore) DiscoverableAgents(ctx context.Context, viewer store.AgentRef) ([]*store.DiscoveredAgent, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT target_name, target_project_id, target_description,
		        target_status, discoverable, dm_policy
		 FROM agent_discovery
		 WHERE viewer_name = ? AND viewer_project_id = ?
		 ORDER BY target_name, target_project_id`,
		viewer.Name, viewer.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("agent discovery: %w", err)
	}
	defer rows.Close()

	var out []*store.DiscoveredAgent
	for rows.Next() {
		var d store.DiscoveredAgent
		if err := rows.Scan(&d.Name, &d.ProjectID, &d.Description, &d.Status,
			(*string)(&d.Discoverable), (*string)(&d.DMPolicy)); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
