package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:    "~/.agentmesh/agentmesh.db",
			Readers: 10,
		},
		Embedder: EmbedderConfig{
			Provider: "ollama",
		},
		Gateway: GatewayConfig{
			Host:             "127.0.0.1",
			Port:             18990,
			RateLimitRPM:     60,
			SnapshotMessages: 50,
		},
		Search: SearchConfig{
			DefaultLimit:   20,
			DefaultProfile: "balanced",
		},
		Sessions: SessionsConfig{
			TTLHours:      24,
			PurgeSchedule: "*/15 * * * *",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentmesh",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("DB_PATH", &c.Database.Path)
	envStr("VECTOR_URL", &c.Vector.URL)
	envStr("VECTOR_API_KEY", &c.Vector.APIKey)
	if v := os.Getenv("VECTOR_PATH"); v != "" {
		c.Vector.Local = true
	}

	envStr("AGENTMESH_EMBEDDER", &c.Embedder.Provider)
	envStr("AGENTMESH_EMBEDDER_URL", &c.Embedder.BaseURL)
	envStr("AGENTMESH_EMBEDDER_API_KEY", &c.Embedder.APIKey)
	envStr("AGENTMESH_EMBEDDER_MODEL", &c.Embedder.Model)

	envStr("AGENTMESH_HOST", &c.Gateway.Host)
	if v := os.Getenv("AGENTMESH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	envStr("AGENTMESH_TOKEN", &c.Gateway.Token)

	envStr("AGENTMESH_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("AGENTMESH_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// validate rejects configurations the runtime would choke on later.
func (c *Config) validate() error {
	if c.Sessions.PurgeSchedule != "" {
		if !gronx.New().IsValid(c.Sessions.PurgeSchedule) {
			return fmt.Errorf("invalid sessions.purge_schedule %q", c.Sessions.PurgeSchedule)
		}
	}
	switch c.Embedder.Provider {
	case "", "ollama", "openai", "hash":
	default:
		return fmt.Errorf("unknown embedder.provider %q", c.Embedder.Provider)
	}
	if c.Vector.URL != "" {
		if _, _, _, err := ParseVectorURL(c.Vector.URL); err != nil {
			return err
		}
	}
	return nil
}

// ParseVectorURL splits a vector endpoint into host, port and TLS flag.
// Accepts "host", "host:port", and "scheme://host:port".
func ParseVectorURL(raw string) (host string, port int, useTLS bool, err error) {
	port = 6334
	s := raw
	if strings.Contains(s, "://") {
		u, parseErr := url.Parse(s)
		if parseErr != nil {
			return "", 0, false, fmt.Errorf("invalid vector.url %q: %w", raw, parseErr)
		}
		useTLS = u.Scheme == "https"
		s = u.Host
	}
	host = s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		host = s[:i]
		p, convErr := strconv.Atoi(s[i+1:])
		if convErr != nil || p <= 0 {
			return "", 0, false, fmt.Errorf("invalid vector.url port in %q", raw)
		}
		port = p
	}
	if host == "" {
		return "", 0, false, fmt.Errorf("invalid vector.url %q: empty host", raw)
	}
	return host, port, useTLS, nil
}

// ResolveConfigPath picks the config file: explicit flag, then
// AGENTMESH_CONFIG, then ~/.agentmesh/config.json.
func ResolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("AGENTMESH_CONFIG"); v != "" {
		return v
	}
	return ExpandHome("~/.agentmesh/config.json")
}

// DatabasePath returns the expanded database path.
func (c *Config) DatabasePath() string {
	return ExpandHome(c.Database.Path)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome expands a leading "~" to the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
