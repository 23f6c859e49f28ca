package protocol

import "time"

// EventFrame is one stream event: a single JSON object per SSE data line
// or WebSocket text message. Seq is per-subscriber and monotonic;
// consumers dedupe on (kind, entity_id, seq) across reconnects.
type EventFrame struct {
	Seq        uint64    `json:"seq"`
	Kind       string    `json:"kind"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ChannelID  string    `json:"channel_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// GapPayload is the payload of an EventGap frame.
type GapPayload struct {
	Dropped uint64 `json:"dropped"`
}

// SnapshotFrame is the first frame of a stream: the subscriber's current
// visible state, before the switch to live events.
type SnapshotFrame struct {
	Protocol string `json:"protocol"`
	Agent    string `json:"agent"`
	Channels any    `json:"channels"`
	Messages any    `json:"messages"`
	Seq      uint64 `json:"seq"`
}
