package broker

import (
	"context"

	"github.com/nextlevelbuilder/agentmesh/internal/search"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// WriteNote appends to the author's private notes channel, creating it
// on first use. Only the owner ever writes; peeking is read-only.
func (b *Broker) WriteNote(ctx context.Context, author store.AgentRef, in MessageInput) (*store.Message, error) {
	ctx, span := b.span(ctx, "broker.WriteNote")
	defer span.End()

	if err := b.ensureNotesChannel(ctx, author); err != nil {
		return nil, err
	}
	return b.send(ctx, store.NotesChannelID(author), author, in, protocol.EventNoteCreated)
}

// SearchNotes runs a hybrid search scoped to the owner's notes channel.
func (b *Broker) SearchNotes(ctx context.Context, owner store.AgentRef, req search.Request) ([]search.Result, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	req.ChannelIDs = []string{store.NotesChannelID(owner)}
	return b.engine.Search(ctx, req)
}

// RecentNotes returns the owner's newest notes.
func (b *Broker) RecentNotes(ctx context.Context, owner store.AgentRef, limit int) ([]*store.Message, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	return b.stores.Messages.Query(ctx, store.MessageQuery{
		ChannelIDs: []string{store.NotesChannelID(owner)},
		Limit:      limit,
	})
}

// PeekNotes reads another agent's notes. Allowed only when the viewer
// can discover the target; the result is read-only by construction since
// nothing grants the viewer membership.
func (b *Broker) PeekNotes(ctx context.Context, viewer, target store.AgentRef, limit int) ([]*store.Message, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	if viewer != target {
		visible, err := b.stores.Permissions.DiscoverableAgents(ctx, viewer)
		if err != nil {
			return nil, err
		}
		found := false
		for _, a := range visible {
			if a.AgentRef == target {
				found = true
				break
			}
		}
		if !found {
			return nil, store.PermissionDeniedf("agent %s is not visible to %s", target.ID(), viewer.ID())
		}
	}

	return b.stores.Messages.Query(ctx, store.MessageQuery{
		ChannelIDs: []string{store.NotesChannelID(target)},
		Limit:      limit,
	})
}
