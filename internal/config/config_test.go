package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.Port != 18990 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Search.DefaultProfile != "balanced" {
		t.Errorf("profile = %q", cfg.Search.DefaultProfile)
	}
	if cfg.Sessions.PurgeSchedule == "" {
		t.Error("purge schedule should default on")
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 18990 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
	// broker listens here
	gateway: {host: "0.0.0.0", port: 9000},
	database: {path: "/tmp/mesh.db"},
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Host != "0.0.0.0" || cfg.Gateway.Port != 9000 {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Database.Path != "/tmp/mesh.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	// Unspecified sections keep defaults.
	if cfg.Search.DefaultLimit != 20 {
		t.Errorf("search limit = %d", cfg.Search.DefaultLimit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("VECTOR_URL", "https://qdrant.example:6334")
	t.Setenv("VECTOR_API_KEY", "secret")
	t.Setenv("VECTOR_PATH", "/tmp/vectors")
	t.Setenv("AGENTMESH_PORT", "7777")
	t.Setenv("AGENTMESH_TELEMETRY_ENABLED", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Vector.URL != "https://qdrant.example:6334" || cfg.Vector.APIKey != "secret" {
		t.Errorf("vector = %+v", cfg.Vector)
	}
	if !cfg.Vector.Local {
		t.Error("VECTOR_PATH should select the local index")
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("telemetry not enabled")
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	cfg := Default()
	cfg.Sessions.PurgeSchedule = "not a cron"
	if err := cfg.validate(); err == nil {
		t.Error("invalid cron accepted")
	}
}

func TestValidateRejectsUnknownEmbedder(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Provider = "carrier-pigeon"
	if err := cfg.validate(); err == nil {
		t.Error("unknown embedder accepted")
	}
}

func TestParseVectorURL(t *testing.T) {
	tests := []struct {
		in      string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{in: "localhost", host: "localhost", port: 6334},
		{in: "localhost:7000", host: "localhost", port: 7000},
		{in: "http://qdrant:6334", host: "qdrant", port: 6334},
		{in: "https://qdrant.example:6334", host: "qdrant.example", port: 6334, tls: true},
		{in: "host:notaport", wantErr: true},
		{in: "https://", wantErr: true},
	}
	for _, tc := range tests {
		host, port, tls, err := ParseVectorURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if host != tc.host || port != tc.port || tls != tc.tls {
			t.Errorf("%q = (%s, %d, %v)", tc.in, host, port, tls)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("/explicit.json"); got != "/explicit.json" {
		t.Errorf("flag = %q", got)
	}
	t.Setenv("AGENTMESH_CONFIG", "/from-env.json")
	if got := ResolveConfigPath(""); got != "/from-env.json" {
		t.Errorf("env = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Errorf("got %q", got)
	}
	if got := ExpandHome("/abs/x"); got != "/abs/x" {
		t.Errorf("got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Gateway.Port = 9999
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Gateway.Port != 9999 {
		t.Errorf("port = %d", loaded.Gateway.Port)
	}
}
