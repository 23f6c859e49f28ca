package store

import (
	"context"
	"time"
)

// Stores is the top-level container for all storage backends. The broker
// façade owns one instance; the SQLite backend fills every field.
type Stores struct {
	Projects    ProjectStore
	Agents      AgentStore
	Channels    ChannelStore
	Members     MemberStore
	Messages    MessageStore
	DMs         DMPermissionStore
	Links       ProjectLinkStore
	Sessions    SessionStore
	Permissions PermissionStore
	Sync        SyncStore
}

// ProjectStore persists registered projects. Projects are never deleted.
type ProjectStore interface {
	// Ensure registers the project for path if absent and returns it.
	// The id is derived from the absolute path, so Ensure is idempotent.
	Ensure(ctx context.Context, path, name string) (*Project, error)
	Get(ctx context.Context, id string) (*Project, error)
	GetByPath(ctx context.Context, path string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	UpdateName(ctx context.Context, id, name string) error
}

// AgentStore persists agent identities keyed by (name, project_id).
type AgentStore interface {
	// Upsert creates or updates the agent record in one statement.
	Upsert(ctx context.Context, a *Agent) error
	Get(ctx context.Context, ref AgentRef) (*Agent, error)
	// List returns all agents, optionally restricted to one project
	// (empty projectID with onlyProject=true means global agents).
	List(ctx context.Context, projectID string, onlyProject bool) ([]*Agent, error)
	// Delete removes the agent; memberships cascade.
	Delete(ctx context.Context, ref AgentRef) error
}

// ChannelStore persists channels. Channels are soft-archived, not deleted.
type ChannelStore interface {
	Create(ctx context.Context, c *Channel) error
	// Ensure creates the channel if absent; reports whether it created it.
	Ensure(ctx context.Context, c *Channel) (*Channel, bool, error)
	Get(ctx context.Context, id string) (*Channel, error)
	List(ctx context.Context) ([]*Channel, error)
	// ListDefaults returns non-archived channels with is_default set for
	// the given scope (projectID ignored for global scope).
	ListDefaults(ctx context.Context, scope Scope, projectID string) ([]*Channel, error)
	Archive(ctx context.Context, id string, at time.Time) error
	UpdateDescription(ctx context.Context, id, description string) error
}

// MemberStore persists channel memberships, the sole carrier of access.
type MemberStore interface {
	// Upsert writes the membership row, replacing capability flags on
	// conflict. Idempotent by (channel_id, agent_name, agent_project_id).
	Upsert(ctx context.Context, m *ChannelMember) error
	Get(ctx context.Context, channelID string, agent AgentRef) (*ChannelMember, error)
	List(ctx context.Context, channelID string) ([]*ChannelMember, error)
	// Remove deletes the row outright (leave on a can_leave membership).
	Remove(ctx context.Context, channelID string, agent AgentRef) error
	// OptOut marks the row opted-out so default provisioning will not
	// re-add it.
	OptOut(ctx context.Context, channelID string, agent AgentRef, at time.Time) error
	MarkRead(ctx context.Context, channelID string, agent AgentRef, messageID int64, at time.Time) error
	SetMuted(ctx context.Context, channelID string, agent AgentRef, muted bool) error
}

// MessageQuery selects messages for listing or filter-only search.
// Where/Args carry a compiled filter fragment over the messages table.
type MessageQuery struct {
	ChannelIDs []string
	Where      string
	Args       []any
	BeforeID   int64
	Limit      int
	// IncludeDeleted lifts the is_deleted filter (admin surfaces only).
	IncludeDeleted bool
}

// MessageStore persists append-only messages.
type MessageStore interface {
	// Insert validates the channel is live and the sender can_send, then
	// inserts, all inside one writer transaction so permission changes
	// concurrent with the write are linearisable.
	Insert(ctx context.Context, m *Message) (int64, error)
	Get(ctx context.Context, id int64) (*Message, error)
	GetMany(ctx context.Context, ids []int64) ([]*Message, error)
	Query(ctx context.Context, q MessageQuery) ([]*Message, error)
	Count(ctx context.Context) (int64, error)
	// IDs returns all live message ids in ascending order (vector resync).
	IDs(ctx context.Context) ([]int64, error)
	SoftDelete(ctx context.Context, id int64) error
}

// DMPermissionStore persists explicit allow/block rows between agents.
type DMPermissionStore interface {
	Set(ctx context.Context, p *DMPermission) error
	Get(ctx context.Context, agent, other AgentRef) (*DMPermission, error)
	Remove(ctx context.Context, agent, other AgentRef) error
}

// ProjectLinkStore persists cross-project links, canonically ordered.
type ProjectLinkStore interface {
	Link(ctx context.Context, a, b string, linkType LinkType) error
	Unlink(ctx context.Context, a, b string) error
	Get(ctx context.Context, a, b string) (*ProjectLink, error)
	List(ctx context.Context) ([]*ProjectLink, error)
	SetEnabled(ctx context.Context, a, b string, enabled bool) error
}

// SessionStore persists sessions and tool calls; both are opaque to the
// core and purged on a schedule.
type SessionStore interface {
	PutSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	PutToolCall(ctx context.Context, tc *ToolCall) error
	ListToolCalls(ctx context.Context, sessionID string) ([]*ToolCall, error)
	// PurgeExpired removes sessions past expires_at (and their tool calls)
	// and returns how many sessions were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PermissionStore exposes the three permission primitives. Every
// higher-level operation composes these; nothing else answers access
// questions.
type PermissionStore interface {
	// VisibleChannels resolves "channels visible to agent" in one query
	// over the agent_channels view.
	VisibleChannels(ctx context.Context, agent AgentRef) ([]*ChannelWithMembership, error)
	// CanDM reports whether x may DM y, with the violated rule named when
	// not. Blocks on either side win; closed forbids; restricted needs an
	// allow from the restricted party.
	CanDM(ctx context.Context, x, y AgentRef) (bool, string, error)
	// DiscoverableAgents lists the directory visible to viewer.
	DiscoverableAgents(ctx context.Context, viewer AgentRef) ([]*DiscoveredAgent, error)
}

// SyncStore records reconciliation runs in config_sync_history.
type SyncStore interface {
	Record(ctx context.Context, r *SyncRecord) error
	Last(ctx context.Context) (*SyncRecord, error)
}
