// Package config holds the broker's runtime configuration: a JSON5 file
// overlaid with environment variables, immutable after load.
package config

import "fmt"

// Config is the root configuration for the agentmesh broker.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Vector    VectorConfig    `json:"vector,omitempty"`
	Embedder  EmbedderConfig  `json:"embedder,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Search    SearchConfig    `json:"search,omitempty"`
	Sessions  SessionsConfig  `json:"sessions,omitempty"`
	Reconcile ReconcileConfig `json:"reconcile,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path to the database file. Empty means in-memory (tests, doctor).
	Path string `json:"path"`

	// Readers sizes the read pool. 0 uses the store default of 10.
	Readers int `json:"readers,omitempty"`
}

// VectorConfig configures the vector index. An empty URL with no local
// path disables semantic search entirely.
type VectorConfig struct {
	// URL of the Qdrant endpoint, e.g. "localhost:6334" or
	// "https://host:6334". Scheme https enables TLS.
	URL string `json:"url,omitempty"`

	// APIKey for hosted Qdrant. Env only, never persisted.
	APIKey string `json:"-"`

	// Local switches to the in-process index (no external backend).
	Local bool `json:"local,omitempty"`

	Collection string `json:"collection,omitempty"`

	// MetadataKeys is the metadata subset mirrored into point payloads.
	MetadataKeys []string `json:"metadata_keys,omitempty"`
}

// EmbedderConfig configures embedding computation.
type EmbedderConfig struct {
	Provider          string  `json:"provider,omitempty"` // ollama | openai | hash
	BaseURL           string  `json:"base_url,omitempty"`
	APIKey            string  `json:"-"` // env only
	Model             string  `json:"model,omitempty"`
	Dimension         int     `json:"dimension,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
}

// GatewayConfig configures the SSE/WebSocket fan-out server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // env only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// RateLimitRPM limits stream opens per client key per minute.
	// 0 disables limiting.
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`

	// SnapshotMessages is how many recent messages the stream snapshot
	// carries per subscriber.
	SnapshotMessages int `json:"snapshot_messages,omitempty"`
}

// SearchConfig sets search defaults.
type SearchConfig struct {
	DefaultLimit   int    `json:"default_limit,omitempty"`
	DefaultProfile string `json:"default_profile,omitempty"`
}

// SessionsConfig controls session bookkeeping.
type SessionsConfig struct {
	// TTLHours is applied to sessions recorded without an explicit
	// expiry.
	TTLHours int `json:"ttl_hours,omitempty"`

	// PurgeSchedule is a cron expression for the expiry sweep.
	PurgeSchedule string `json:"purge_schedule,omitempty"`
}

// ReconcileConfig points at the declarative desired state.
type ReconcileConfig struct {
	// ConfigPath is the YAML desired-state file.
	ConfigPath string `json:"config_path,omitempty"`

	// AgentsDir is scanned for markdown agent files with frontmatter.
	AgentsDir string `json:"agents_dir,omitempty"`

	// Watch re-reconciles on agent-dir changes.
	Watch bool `json:"watch,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Addr renders the gateway listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}
