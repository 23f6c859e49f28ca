package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Channel id grammar:
//
//	global:{name}
//	proj_{hash8}:{name}
//	dm:{a1}:{p1|global}:{a2}:{p2|global}   (a1,p1) < (a2,p2)
//	notes:{agent}:{global|hash8}
//
// All derivations are pure functions so ids can be recomputed anywhere.

const (
	// ProjectIDLen is the fixed length of a project id (hex chars).
	ProjectIDLen = 32

	// projectHashLen is the short prefix used inside channel ids.
	projectHashLen = 8

	globalTag = "global"
)

// ProjectID derives the deterministic id for a project path. The path is
// made absolute and cleaned first so equivalent spellings collide.
func ProjectID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:ProjectIDLen]
}

// ProjectHash8 is the 8-char prefix of a project id used in channel ids.
func ProjectHash8(projectID string) string {
	if len(projectID) < projectHashLen {
		return projectID
	}
	return projectID[:projectHashLen]
}

// GlobalChannelID returns "global:{name}".
func GlobalChannelID(name string) string {
	return "global:" + name
}

// ProjectChannelID returns "proj_{hash8}:{name}".
func ProjectChannelID(projectID, name string) string {
	return "proj_" + ProjectHash8(projectID) + ":" + name
}

// ChannelID derives the id for a regular channel in the given scope.
func ChannelID(scope Scope, projectID, name string) string {
	if scope == ScopeProject {
		return ProjectChannelID(projectID, name)
	}
	return GlobalChannelID(name)
}

// scopeTag renders an agent's project id for use in dm/notes ids.
func scopeTag(projectID string) string {
	if projectID == "" {
		return globalTag
	}
	return ProjectHash8(projectID)
}

// OrderPair sorts two agent identities lexicographically by (name, project).
func OrderPair(a, b AgentRef) (AgentRef, AgentRef) {
	if a.Name < b.Name || (a.Name == b.Name && a.ProjectID < b.ProjectID) {
		return a, b
	}
	return b, a
}

// DMChannelID is a pure function of the unordered pair of identities:
// "dm:{n1}:{p1|global}:{n2}:{p2|global}" with the pair sorted.
func DMChannelID(a, b AgentRef) string {
	first, second := OrderPair(a, b)
	return fmt.Sprintf("dm:%s:%s:%s:%s",
		first.Name, scopeTag(first.ProjectID),
		second.Name, scopeTag(second.ProjectID))
}

// NotesChannelID returns "notes:{agent}:{scope_tag}".
func NotesChannelID(agent AgentRef) string {
	return fmt.Sprintf("notes:%s:%s", agent.Name, scopeTag(agent.ProjectID))
}

// IsNotesChannel reports whether id follows the notes channel grammar.
func IsNotesChannel(id string) bool { return strings.HasPrefix(id, "notes:") }

// IsDMChannel reports whether id follows the dm channel grammar.
func IsDMChannel(id string) bool { return strings.HasPrefix(id, "dm:") }

// ValidateName rejects channel and agent names that would break the id
// grammar or the event stream framing.
func ValidateName(name string) error {
	if name == "" {
		return InvalidArgumentf("name must not be empty")
	}
	if len(name) > 128 {
		return InvalidArgumentf("name exceeds 128 characters")
	}
	if strings.ContainsAny(name, ":\n\r\t ") {
		return InvalidArgumentf("name %q contains reserved characters", name)
	}
	return nil
}
