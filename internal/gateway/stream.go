package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentmesh/internal/bus"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// stream is one subscriber connection: its identity, its bus
// subscription, and a cached set of visible channels used for routing.
// The cache is maintained by the connection's own goroutine; the
// publisher never blocks on it.
type stream struct {
	srv     *Server
	id      string
	agent   store.AgentRef
	sub     *bus.Subscription
	visible map[string]bool
	lastSeq uint64
}

// newStream parses the subscriber identity from the request: agent
// (required), project (optional), and the last observed sequence for
// duplicate elision on reconnect.
func newStream(srv *Server, r *http.Request) (*stream, error) {
	q := r.URL.Query()
	name := q.Get("agent")
	if name == "" {
		return nil, store.InvalidArgumentf("missing agent parameter")
	}
	agent := store.AgentRef{Name: name, ProjectID: q.Get("project")}

	var lastSeq uint64
	if v := q.Get("last_seq"); v != "" {
		lastSeq, _ = strconv.ParseUint(v, 10, 64)
	} else if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastSeq, _ = strconv.ParseUint(v, 10, 64)
	}

	return &stream{
		srv:     srv,
		id:      uuid.NewString(),
		agent:   agent,
		visible: make(map[string]bool),
		lastSeq: lastSeq,
	}, nil
}

// open builds the snapshot and attaches the bus subscription. The
// subscription is live before the snapshot reads, so events committed
// during snapshot assembly are queued, not lost.
func (st *stream) open(ctx context.Context) (*protocol.SnapshotFrame, error) {
	st.sub = st.srv.broker.Events().Subscribe(st.id, nil, 0)

	channels, err := st.srv.broker.ListChannelsForAgent(ctx, st.agent)
	if err != nil {
		st.close()
		return nil, err
	}
	for _, c := range channels {
		st.visible[c.ID] = true
	}

	messages, err := st.srv.broker.GetMessagesForAgent(ctx, st.agent,
		st.srv.cfg.Gateway.SnapshotMessages, 0)
	if err != nil {
		st.close()
		return nil, err
	}

	return &protocol.SnapshotFrame{
		Protocol: protocol.Version,
		Agent:    st.agent.ID(),
		Channels: channels,
		Messages: messages,
		Seq:      st.sub.Seq(),
	}, nil
}

func (st *stream) close() {
	st.srv.broker.Events().Unsubscribe(st.id)
}

// allow applies the routing rules for one delivered event. It runs on
// the connection's goroutine, so occasional store lookups are fine.
func (st *stream) allow(ctx context.Context, e bus.Event) bool {
	switch e.Kind {
	case protocol.EventGap:
		return true

	case protocol.EventAgentRegistered:
		return st.canDiscover(ctx, e)

	case protocol.EventMemberLeft:
		if e.EntityID == st.agent.ID() {
			delete(st.visible, e.ChannelID)
			return true
		}
		return st.visible[e.ChannelID]

	case protocol.EventChannelCreated, protocol.EventDMCreated, protocol.EventMemberJoined:
		if st.visible[e.ChannelID] {
			return true
		}
		// Visibility may have been granted by this very event; probe
		// the membership and refresh the cache.
		if _, err := st.srv.broker.Stores().Members.Get(ctx, e.ChannelID, st.agent); err == nil {
			st.visible[e.ChannelID] = true
			return true
		}
		return false

	default:
		return st.visible[e.ChannelID]
	}
}

// canDiscover checks the directory permission for an agent event.
func (st *stream) canDiscover(ctx context.Context, e bus.Event) bool {
	if e.EntityID == st.agent.ID() {
		return true
	}
	visible, err := st.srv.broker.Stores().Permissions.DiscoverableAgents(ctx, st.agent)
	if err != nil {
		return false
	}
	for _, a := range visible {
		if a.ID() == e.EntityID {
			return true
		}
	}
	return false
}

// frame converts a bus delivery to the wire shape.
func frame(d bus.Delivery) protocol.EventFrame {
	return protocol.EventFrame{
		Seq:        d.Seq,
		Kind:       d.Kind,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		ChannelID:  d.ChannelID,
		Payload:    d.Payload,
		Timestamp:  d.Timestamp,
	}
}
