// Package protocol defines the wire contract between the broker and its
// stream subscribers: event kinds, frame shapes, and the protocol version.
package protocol

// Version is the stream protocol version sent in snapshot frames.
const Version = "1"

// Event kinds pushed from server to subscribers.
const (
	EventMessageCreated  = "message.created"
	EventChannelCreated  = "channel.created"
	EventChannelArchived = "channel.archived"
	EventMemberJoined    = "channel.member.joined"
	EventMemberLeft      = "channel.member.left"
	EventAgentRegistered = "agent.registered"
	EventDMCreated       = "dm.created"
	EventNoteCreated     = "note.created"

	// EventGap signals dropped events on a slow subscriber; the payload
	// carries the dropped count.
	EventGap = "stream.gap"
)

// Entity types carried in event frames.
const (
	EntityMessage = "message"
	EntityChannel = "channel"
	EntityMember  = "member"
	EntityAgent   = "agent"
)
