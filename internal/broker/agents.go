package broker

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// RegisterAgent creates or updates an agent, provisions its notes
// channel, and applies default channel memberships for its scope.
// Idempotent: re-registration refreshes the record and leaves opt-outs
// alone.
func (b *Broker) RegisterAgent(ctx context.Context, a *store.Agent) error {
	ctx, span := b.span(ctx, "broker.RegisterAgent")
	defer span.End()

	if err := store.ValidateName(a.Name); err != nil {
		return err
	}
	if a.ProjectID != "" {
		if _, err := b.stores.Projects.Get(ctx, a.ProjectID); err != nil {
			return err
		}
	}

	if err := retry(ctx, func() error { return b.stores.Agents.Upsert(ctx, a) }); err != nil {
		return err
	}

	if err := b.ensureNotesChannel(ctx, a.AgentRef); err != nil {
		return err
	}
	if err := b.applyDefaultMemberships(ctx, a.AgentRef); err != nil {
		return err
	}

	b.publish(protocol.EventAgentRegistered, protocol.EntityAgent, a.ID(), "", a)
	return nil
}

// ensureNotesChannel provisions notes:{agent}:{scope} with the owner as
// sole member. The owner can send and never leave.
func (b *Broker) ensureNotesChannel(ctx context.Context, owner store.AgentRef) error {
	id := store.NotesChannelID(owner)
	scope := store.ScopeGlobal
	if !owner.IsGlobal() {
		scope = store.ScopeProject
	}

	_, _, err := b.stores.Channels.Ensure(ctx, &store.Channel{
		ID:          id,
		ChannelType: store.TypeChannel,
		AccessType:  store.AccessPrivate,
		Scope:       scope,
		ProjectID:   owner.ProjectID,
		Name:        id,
		Owner:       &owner,
	})
	if err != nil {
		return err
	}

	return b.stores.Members.Upsert(ctx, &store.ChannelMember{
		ChannelID: id,
		Agent:     owner,
		CanLeave:  false,
		CanSend:   true,
		Source:    store.SourceSystem,
	})
}

// applyDefaultMemberships joins the agent to every is_default channel in
// its scope. Existing rows keep their opt-out flag, so a prior leave is
// honoured.
func (b *Broker) applyDefaultMemberships(ctx context.Context, agent store.AgentRef) error {
	defaults, err := b.stores.Channels.ListDefaults(ctx, store.ScopeGlobal, "")
	if err != nil {
		return err
	}
	if !agent.IsGlobal() {
		projectDefaults, err := b.stores.Channels.ListDefaults(ctx, store.ScopeProject, agent.ProjectID)
		if err != nil {
			return err
		}
		defaults = append(defaults, projectDefaults...)
	}

	for _, c := range defaults {
		err := b.stores.Members.Upsert(ctx, &store.ChannelMember{
			ChannelID:     c.ID,
			Agent:         agent,
			CanLeave:      true,
			CanSend:       true,
			Source:        store.SourceDefault,
			IsFromDefault: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ProvisionNotes ensures an agent's notes channel exists with the owner
// as sole member. Exposed for the reconciler, which registers agents in
// bulk without the default-membership pass.
func (b *Broker) ProvisionNotes(ctx context.Context, owner store.AgentRef) error {
	return b.ensureNotesChannel(ctx, owner)
}

// GetAgent fetches one agent record.
func (b *Broker) GetAgent(ctx context.Context, ref store.AgentRef) (*store.Agent, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Agents.Get(ctx, ref)
}

// ListAgents lists every agent, or one project's agents when projectID
// is set with onlyProject.
func (b *Broker) ListAgents(ctx context.Context, projectID string, onlyProject bool) ([]*store.Agent, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Agents.List(ctx, projectID, onlyProject)
}

// MessagableAgents lists the agents viewer may open a DM with: the
// discovery directory filtered through the pairwise DM check.
func (b *Broker) MessagableAgents(ctx context.Context, viewer store.AgentRef) ([]*store.DiscoveredAgent, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	visible, err := b.stores.Permissions.DiscoverableAgents(ctx, viewer)
	if err != nil {
		return nil, err
	}

	out := make([]*store.DiscoveredAgent, 0, len(visible))
	for _, a := range visible {
		if a.AgentRef == viewer {
			continue
		}
		ok, _, err := b.stores.Permissions.CanDM(ctx, viewer, a.AgentRef)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// RemoveAgent deletes an agent; memberships cascade in the schema.
func (b *Broker) RemoveAgent(ctx context.Context, ref store.AgentRef) error {
	ctx, span := b.span(ctx, "broker.RemoveAgent")
	defer span.End()
	return retry(ctx, func() error { return b.stores.Agents.Delete(ctx, ref) })
}

// RegisterProject registers (or refreshes) a project root. Idempotent by
// path.
func (b *Broker) RegisterProject(ctx context.Context, path, name string) (*store.Project, error) {
	ctx, span := b.span(ctx, "broker.RegisterProject")
	defer span.End()

	var p *store.Project
	err := retry(ctx, func() error {
		var err error
		p, err = b.stores.Projects.Ensure(ctx, path, name)
		return err
	})
	return p, err
}

// MarkRead advances the agent's read marker in a channel.
func (b *Broker) MarkRead(ctx context.Context, channelID string, agent store.AgentRef, messageID int64) error {
	return b.stores.Members.MarkRead(ctx, channelID, agent, messageID, time.Now())
}
