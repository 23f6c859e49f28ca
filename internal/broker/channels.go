package broker

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// ChannelInput carries the caller-controlled fields of a new channel.
type ChannelInput struct {
	Scope       store.Scope
	ProjectID   string
	Name        string
	Description string
	AccessType  store.AccessType
	IsDefault   bool
	Metadata    map[string]any
}

// CreateChannel creates a regular channel. The id is derived from scope,
// project and name; creating the same channel twice is a Conflict.
func (b *Broker) CreateChannel(ctx context.Context, creator store.AgentRef, in ChannelInput) (*store.Channel, error) {
	ctx, span := b.span(ctx, "broker.CreateChannel")
	defer span.End()

	if err := store.ValidateName(in.Name); err != nil {
		return nil, err
	}
	if in.AccessType == "" {
		in.AccessType = store.AccessOpen
	}
	if in.Scope == "" {
		in.Scope = store.ScopeGlobal
	}

	c := &store.Channel{
		ID:          store.ChannelID(in.Scope, in.ProjectID, in.Name),
		ChannelType: store.TypeChannel,
		AccessType:  in.AccessType,
		Scope:       in.Scope,
		ProjectID:   in.ProjectID,
		Name:        in.Name,
		Description: in.Description,
		IsDefault:   in.IsDefault,
		Metadata:    in.Metadata,
	}
	if err := retry(ctx, func() error { return b.stores.Channels.Create(ctx, c) }); err != nil {
		return nil, err
	}

	// The creator manages the channel they made.
	err := b.stores.Members.Upsert(ctx, &store.ChannelMember{
		ChannelID: c.ID,
		Agent:     creator,
		CanLeave:  true,
		CanSend:   true,
		CanInvite: true,
		CanManage: true,
		Source:    store.SourceManual,
	})
	if err != nil {
		return nil, err
	}

	b.publish(protocol.EventChannelCreated, protocol.EntityChannel, c.ID, c.ID, c)
	return c, nil
}

// JoinChannel adds the agent to an open channel. Members-only and
// private channels require an invite.
func (b *Broker) JoinChannel(ctx context.Context, channelID string, agent store.AgentRef) error {
	ctx, span := b.span(ctx, "broker.JoinChannel")
	defer span.End()

	c, err := b.stores.Channels.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if c.IsArchived {
		return store.PermissionDeniedf("channel %s is archived", channelID)
	}
	if c.AccessType != store.AccessOpen {
		return store.PermissionDeniedf("channel %s requires an invitation", channelID)
	}

	err = b.stores.Members.Upsert(ctx, &store.ChannelMember{
		ChannelID: channelID,
		Agent:     agent,
		CanLeave:  true,
		CanSend:   true,
		Source:    store.SourceManual,
	})
	if err != nil {
		return err
	}

	b.publish(protocol.EventMemberJoined, protocol.EntityMember, agent.ID(), channelID, agent)
	return nil
}

// LeaveChannel removes the agent's membership. Memberships with
// can_leave=false (DM parties, notes owners) refuse; default-provisioned
// memberships opt out instead of vanishing, so reconciliation will not
// re-add them.
func (b *Broker) LeaveChannel(ctx context.Context, channelID string, agent store.AgentRef) error {
	ctx, span := b.span(ctx, "broker.LeaveChannel")
	defer span.End()

	m, err := b.stores.Members.Get(ctx, channelID, agent)
	if err != nil {
		return err
	}
	if !m.CanLeave {
		return store.PermissionDeniedf("membership in %s cannot be left", channelID)
	}

	if m.IsFromDefault {
		err = b.stores.Members.OptOut(ctx, channelID, agent, time.Now())
	} else {
		err = b.stores.Members.Remove(ctx, channelID, agent)
	}
	if err != nil {
		return err
	}

	b.publish(protocol.EventMemberLeft, protocol.EntityMember, agent.ID(), channelID, agent)
	return nil
}

// InviteToChannel adds target to a channel on behalf of inviter, who
// must hold can_invite.
func (b *Broker) InviteToChannel(ctx context.Context, channelID string, inviter, target store.AgentRef) error {
	ctx, span := b.span(ctx, "broker.InviteToChannel")
	defer span.End()

	m, err := b.stores.Members.Get(ctx, channelID, inviter)
	if err != nil {
		return err
	}
	if !m.CanInvite || m.OptedOut {
		return store.PermissionDeniedf("agent %s cannot invite to %s", inviter.ID(), channelID)
	}

	err = b.stores.Members.Upsert(ctx, &store.ChannelMember{
		ChannelID: channelID,
		Agent:     target,
		CanLeave:  true,
		CanSend:   true,
		InvitedBy: inviter.ID(),
		Source:    store.SourceManual,
	})
	if err != nil {
		return err
	}

	b.publish(protocol.EventMemberJoined, protocol.EntityMember, target.ID(), channelID, target)
	return nil
}

// ListChannelsForAgent returns the channels visible to the agent along
// with their membership rows.
func (b *Broker) ListChannelsForAgent(ctx context.Context, agent store.AgentRef) ([]*store.ChannelWithMembership, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Permissions.VisibleChannels(ctx, agent)
}

// ChannelMembers lists a channel's membership rows.
func (b *Broker) ChannelMembers(ctx context.Context, channelID string) ([]*store.ChannelMember, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	if _, err := b.stores.Channels.Get(ctx, channelID); err != nil {
		return nil, err
	}
	return b.stores.Members.List(ctx, channelID)
}

// ArchiveChannel soft-archives a channel; by holds can_manage or the
// call is administrative (zero AgentRef).
func (b *Broker) ArchiveChannel(ctx context.Context, channelID string, by store.AgentRef) error {
	ctx, span := b.span(ctx, "broker.ArchiveChannel")
	defer span.End()

	if by != (store.AgentRef{}) {
		m, err := b.stores.Members.Get(ctx, channelID, by)
		if err != nil {
			return err
		}
		if !m.CanManage {
			return store.PermissionDeniedf("agent %s cannot manage %s", by.ID(), channelID)
		}
	}

	if err := retry(ctx, func() error {
		return b.stores.Channels.Archive(ctx, channelID, time.Now())
	}); err != nil {
		return err
	}

	b.publish(protocol.EventChannelArchived, protocol.EntityChannel, channelID, channelID, nil)
	return nil
}
