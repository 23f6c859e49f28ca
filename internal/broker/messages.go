package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// MessageInput carries the caller-controlled fields of a new message.
type MessageInput struct {
	Content    string
	Confidence *float64
	Metadata   map[string]any
	ThreadID   string
}

// SendMessage appends a message to a channel. The store enforces, inside
// the write transaction, that the channel is live and the sender holds a
// can_send membership.
func (b *Broker) SendMessage(ctx context.Context, channelID string, sender store.AgentRef, in MessageInput) (*store.Message, error) {
	ctx, span := b.span(ctx, "broker.SendMessage")
	defer span.End()

	return b.send(ctx, channelID, sender, in, protocol.EventMessageCreated)
}

// send is the shared write path behind SendMessage, SendDM and WriteNote.
// The relational commit happens first; the vector write and the event tap
// follow, in that order.
func (b *Broker) send(ctx context.Context, channelID string, sender store.AgentRef, in MessageInput, kind string) (*store.Message, error) {
	m := &store.Message{
		ChannelID:  channelID,
		Sender:     sender,
		Content:    in.Content,
		Timestamp:  time.Now(),
		Confidence: in.Confidence,
		Metadata:   in.Metadata,
		ThreadID:   in.ThreadID,
	}

	err := retry(ctx, func() error {
		id, err := b.stores.Messages.Insert(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.indexMessage(ctx, m)
	b.publish(kind, protocol.EntityMessage, fmt.Sprint(m.ID), channelID, m)
	return m, nil
}

// indexMessage dual-writes the committed row into the vector index. A
// failure here is logged, not surfaced: the row is authoritative and
// Resync repairs the index.
func (b *Broker) indexMessage(ctx context.Context, m *store.Message) {
	if b.index == nil || b.embed == nil {
		return
	}

	vec, err := b.embed.Embed(ctx, m.Content)
	if err != nil {
		logIndexFailure("embed", m.ID, err)
		return
	}

	projectID := ""
	if ch, err := b.stores.Channels.Get(ctx, m.ChannelID); err == nil {
		projectID = ch.ProjectID
	}

	point := vector.Point{
		ID:      m.ID,
		Vector:  vec,
		Payload: vector.PayloadFromMessage(m, projectID, b.metadataKeys),
	}
	if err := b.index.Upsert(ctx, point); err != nil {
		logIndexFailure("upsert", m.ID, err)
	}
}

// GetMessages lists a channel's newest messages without permission
// scoping. Administrative surfaces only.
func (b *Broker) GetMessages(ctx context.Context, channelID string, limit int, beforeID int64) ([]*store.Message, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	return b.stores.Messages.Query(ctx, store.MessageQuery{
		ChannelIDs: []string{channelID},
		Limit:      limit,
		BeforeID:   beforeID,
	})
}

// GetMessagesForAgent lists the newest messages across every channel the
// agent can see. Invisible channels are filtered, never an error.
func (b *Broker) GetMessagesForAgent(ctx context.Context, agent store.AgentRef, limit int, beforeID int64) ([]*store.Message, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	channelIDs, err := b.visibleChannelIDs(ctx, agent)
	if err != nil {
		return nil, err
	}
	if len(channelIDs) == 0 {
		return nil, nil
	}

	return b.stores.Messages.Query(ctx, store.MessageQuery{
		ChannelIDs: channelIDs,
		Limit:      limit,
		BeforeID:   beforeID,
	})
}

// SendDM delivers a direct message, creating the deterministic DM
// channel on first contact. The dm.created event precedes
// message.created so subscribers see the channel before its first
// message.
func (b *Broker) SendDM(ctx context.Context, from, to store.AgentRef, in MessageInput) (*store.Message, error) {
	ctx, span := b.span(ctx, "broker.SendDM")
	defer span.End()

	ok, reason, err := b.stores.Permissions.CanDM(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.PolicyDeniedf("%s", reason)
	}

	channelID := store.DMChannelID(from, to)
	_, created, err := b.stores.Channels.Ensure(ctx, &store.Channel{
		ID:          channelID,
		ChannelType: store.TypeDirect,
		AccessType:  store.AccessPrivate,
		Scope:       store.ScopeGlobal,
		Name:        channelID,
	})
	if err != nil {
		return nil, err
	}

	for _, party := range []store.AgentRef{from, to} {
		err := b.stores.Members.Upsert(ctx, &store.ChannelMember{
			ChannelID: channelID,
			Agent:     party,
			CanLeave:  false,
			CanSend:   true,
			Source:    store.SourceSystem,
		})
		if err != nil {
			return nil, err
		}
	}

	if created {
		b.publish(protocol.EventDMCreated, protocol.EntityChannel, channelID, channelID, nil)
	}
	return b.send(ctx, channelID, from, in, protocol.EventMessageCreated)
}

// visibleChannelIDs resolves the permission scope for reads and search.
func (b *Broker) visibleChannelIDs(ctx context.Context, agent store.AgentRef) ([]string, error) {
	visible, err := b.stores.Permissions.VisibleChannels(ctx, agent)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(visible))
	for i, v := range visible {
		ids[i] = v.ID
	}
	return ids, nil
}
