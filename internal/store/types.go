// Package store defines the broker's entity model and the storage
// interfaces implemented by the SQLite backend in store/sqlite.
package store

import "time"

// DMPolicy controls who may open a direct-message channel with an agent.
type DMPolicy string

const (
	DMOpen       DMPolicy = "open"
	DMRestricted DMPolicy = "restricted"
	DMClosed     DMPolicy = "closed"
)

// Discoverability controls who can see an agent in the directory.
type Discoverability string

const (
	DiscoverPublic  Discoverability = "public"
	DiscoverProject Discoverability = "project"
	DiscoverPrivate Discoverability = "private"
)

// ChannelType distinguishes regular channels from direct-message channels.
type ChannelType string

const (
	TypeChannel ChannelType = "channel"
	TypeDirect  ChannelType = "direct"
)

// AccessType controls how agents gain membership in a channel.
type AccessType string

const (
	AccessOpen    AccessType = "open"
	AccessMembers AccessType = "members"
	AccessPrivate AccessType = "private"
)

// Scope is the namespace a channel or agent lives in.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// MemberSource records how a membership row came to exist.
type MemberSource string

const (
	SourceFrontmatter MemberSource = "frontmatter"
	SourceManual      MemberSource = "manual"
	SourceDefault     MemberSource = "default"
	SourceSystem      MemberSource = "system"
)

// LinkType is the directionality of a project link.
type LinkType string

const (
	LinkBidirectional LinkType = "bidirectional"
	LinkAToB          LinkType = "a_to_b"
	LinkBToA          LinkType = "b_to_a"
)

// DMPermissionKind is an explicit allow or block between two agents.
type DMPermissionKind string

const (
	PermAllow DMPermissionKind = "allow"
	PermBlock DMPermissionKind = "block"
)

// AgentRef is the composite identity of an agent. ProjectID is empty for
// global agents; the empty string (not NULL) is the storage sentinel so
// that unique keys behave.
type AgentRef struct {
	Name      string `json:"name"`
	ProjectID string `json:"project_id,omitempty"`
}

// IsGlobal reports whether the agent lives in the global scope.
func (r AgentRef) IsGlobal() bool { return r.ProjectID == "" }

// ID renders the identity as a single string: the bare name for global
// agents, "name:project" otherwise. This is the sender_id system field.
func (r AgentRef) ID() string {
	if r.ProjectID == "" {
		return r.Name
	}
	return r.Name + ":" + r.ProjectID
}

// Project is a registered project root. The id is a deterministic hash of
// the absolute path, so re-registering the same path is a no-op.
type Project struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Agent is a registered agent identity.
type Agent struct {
	AgentRef
	Description  string          `json:"description,omitempty"`
	DMPolicy     DMPolicy        `json:"dm_policy"`
	Discoverable Discoverability `json:"discoverable"`
	Status       string          `json:"status,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Channel is a conversation surface: a named channel, a DM, or a notes
// channel (single-member, owner set).
type Channel struct {
	ID          string         `json:"id"`
	ChannelType ChannelType    `json:"channel_type"`
	AccessType  AccessType     `json:"access_type"`
	Scope       Scope          `json:"scope"`
	ProjectID   string         `json:"project_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	IsDefault   bool           `json:"is_default"`
	IsArchived  bool           `json:"is_archived"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
	Owner       *AgentRef      `json:"owner,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ChannelMember is the sole carrier of channel access. There is no
// separate subscription table; a non-opted-out row means "can read".
type ChannelMember struct {
	ChannelID         string       `json:"channel_id"`
	Agent             AgentRef     `json:"agent"`
	CanLeave          bool         `json:"can_leave"`
	CanSend           bool         `json:"can_send"`
	CanInvite         bool         `json:"can_invite"`
	CanManage         bool         `json:"can_manage"`
	InvitedBy         string       `json:"invited_by,omitempty"`
	Source            MemberSource `json:"source"`
	IsFromDefault     bool         `json:"is_from_default"`
	OptedOut          bool         `json:"opted_out"`
	OptedOutAt        *time.Time   `json:"opted_out_at,omitempty"`
	LastReadAt        *time.Time   `json:"last_read_at,omitempty"`
	LastReadMessageID int64        `json:"last_read_message_id,omitempty"`
	IsMuted           bool         `json:"is_muted"`
	JoinedAt          time.Time    `json:"joined_at"`
}

// Message is an append-only channel message. Confidence is nil when the
// sender asserted none; ranking treats that as 0.5.
type Message struct {
	ID         int64          `json:"id"`
	ChannelID  string         `json:"channel_id"`
	Sender     AgentRef       `json:"sender"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	IsDeleted  bool           `json:"is_deleted"`
}

// DMPermission is an explicit allow/block from Agent toward Other.
// A block on either side forbids the DM regardless of policy.
type DMPermission struct {
	Agent     AgentRef         `json:"agent"`
	Other     AgentRef         `json:"other"`
	Kind      DMPermissionKind `json:"permission"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ProjectLink authorizes cross-project discovery. ProjectA < ProjectB
// canonically; directional types grant only one direction.
type ProjectLink struct {
	ProjectA  string    `json:"project_a"`
	ProjectB  string    `json:"project_b"`
	LinkType  LinkType  `json:"link_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Session attributes out-of-band tool invocations to a project context.
// The broker stores and TTL-purges these but never interprets them.
type Session struct {
	ID        string         `json:"id"`
	Agent     *AgentRef      `json:"agent,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// ToolCall is a single hook-originated tool invocation tied to a session.
type ToolCall struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	ToolName      string         `json:"tool_name"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	ResultSummary string         `json:"result_summary,omitempty"`
	CalledAt      time.Time      `json:"called_at"`
}

// SyncRecord is one row of config_sync_history: a reconciliation run.
type SyncRecord struct {
	ID         int64     `json:"id"`
	ConfigHash string    `json:"config_hash"`
	AppliedAt  time.Time `json:"applied_at"`
	Actions    int       `json:"actions"`
	Plan       string    `json:"plan"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// ChannelWithMembership pairs a channel with the asking agent's membership
// row, as returned by the agent_channels view.
type ChannelWithMembership struct {
	Channel
	Member ChannelMember `json:"member"`
}

// DiscoveredAgent is one row of the agent directory visible to a viewer.
type DiscoveredAgent struct {
	AgentRef
	Description  string          `json:"description,omitempty"`
	Status       string          `json:"status,omitempty"`
	Discoverable Discoverability `json:"discoverable"`
	DMPolicy     DMPolicy        `json:"dm_policy"`
}
