package sqlite

import (
	"encoding/json"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// NewStores wires every store interface onto one database.
func NewStores(db *DB) *store.Stores {
	return &store.Stores{
		Projects:    &ProjectStore{db: db},
		Agents:      &AgentStore{db: db},
		Channels:    &ChannelStore{db: db},
		Members:     &MemberStore{db: db},
		Messages:    &MessageStore{db: db},
		DMs:         &DMPermissionStore{db: db},
		Links:       &ProjectLinkStore{db: db},
		Sessions:    &SessionStore{db: db},
		Permissions: &PermissionStore{db: db},
		Sync:        &SyncStore{db: db},
	}
}

// marshalMeta renders a metadata tree for storage; nil becomes "{}".
func marshalMeta(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// unmarshalMeta parses stored metadata; malformed trees become nil rather
// than failing the read.
func unmarshalMeta(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
