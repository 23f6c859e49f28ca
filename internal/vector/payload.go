package vector

import (
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// breadcrumbKeys are the metadata keys callers use for structured
// breadcrumbs. Their presence is surfaced as a filterable facet.
var breadcrumbKeys = []string{"breadcrumbs", "files", "decisions", "patterns"}

// PayloadFromMessage flattens a message into a point payload. System
// fields keep their names; selected metadata keys and derived facets are
// stored under "metadata." so the filter compiler addresses them the
// same way on both backends. projectID is the channel's project scope,
// empty for global channels.
func PayloadFromMessage(m *store.Message, projectID string, keys []string) map[string]any {
	p := map[string]any{
		"channel_id": m.ChannelID,
		"sender_id":  m.Sender.ID(),
		"timestamp":  float64(m.Timestamp.UnixNano()) / float64(time.Second),
	}
	if projectID != "" {
		p["project_id"] = projectID
	}
	if m.Confidence != nil {
		p["confidence"] = *m.Confidence
	}

	for _, k := range keys {
		if v, ok := m.Metadata[k]; ok {
			p["metadata."+k] = v
		}
	}

	p["metadata.age_days"] = int64(time.Since(m.Timestamp).Hours() / 24)
	p["metadata.word_count"] = int64(len(strings.Fields(m.Content)))
	p["metadata.has_breadcrumbs"] = hasBreadcrumbs(m.Metadata)

	return p
}

func hasBreadcrumbs(meta map[string]any) bool {
	for _, k := range breadcrumbKeys {
		if _, ok := meta[k]; ok {
			return true
		}
	}
	return false
}
