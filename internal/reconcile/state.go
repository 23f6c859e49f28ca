// Package reconcile converges the broker's stored state toward a
// declarative YAML description: default channels per scope, project
// links, and agents discovered from on-disk frontmatter. Plans are
// computed by diffing, applied in phases with per-phase rollback, and
// recorded in config_sync_history. A matching state yields an empty
// plan.
package reconcile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DesiredState is the parsed YAML desired-state file.
type DesiredState struct {
	Settings       Settings      `yaml:"settings"`
	GlobalChannels []ChannelSpec `yaml:"global_channels"`
	Projects       []ProjectSpec `yaml:"projects"`
	Links          []LinkSpec    `yaml:"project_links"`
}

// Settings holds provisioning-wide switches.
type Settings struct {
	// NeverDefault disables all default-membership provisioning.
	NeverDefault bool `yaml:"never_default"`

	// ExcludeAgents are agent names never joined to default channels.
	ExcludeAgents []string `yaml:"exclude_agents"`
}

// ChannelSpec describes one desired channel.
type ChannelSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	AccessType  string `yaml:"access_type"`
	IsDefault   bool   `yaml:"is_default"`
}

// ProjectSpec describes one desired project and its channels.
type ProjectSpec struct {
	Path     string        `yaml:"path"`
	Name     string        `yaml:"name"`
	Channels []ChannelSpec `yaml:"channels"`
}

// LinkSpec describes one desired cross-project link by path.
type LinkSpec struct {
	A    string `yaml:"a"`
	B    string `yaml:"b"`
	Type string `yaml:"type"`
}

// LoadState reads and parses the desired-state file. It also returns
// the raw bytes so the run can be recorded under a content hash.
func LoadState(path string) (*DesiredState, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read desired state: %w", err)
	}

	var ds DesiredState
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, nil, fmt.Errorf("parse desired state: %w", err)
	}
	return &ds, data, nil
}
