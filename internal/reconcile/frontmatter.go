package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentSpec is one agent discovered from a markdown file's YAML
// frontmatter. The file name (minus extension) is the fallback name.
type AgentSpec struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Project      string   `yaml:"project"` // project path; empty = global
	DMPolicy     string   `yaml:"dm_policy"`
	Discoverable string   `yaml:"discoverable"`
	Exclude      []string `yaml:"exclude"` // default channel names to skip
	NeverDefault bool     `yaml:"never_default"`
}

const frontmatterDelim = "---"

// ScanAgents walks dir for *.md files and parses their frontmatter.
// Files without frontmatter are skipped; malformed frontmatter is an
// error so a typo cannot silently drop an agent.
func ScanAgents(dir string) ([]AgentSpec, error) {
	var specs []AgentSpec

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read agent file %s: %w", path, err)
		}

		spec, ok, err := parseFrontmatter(data)
		if err != nil {
			return fmt.Errorf("agent file %s: %w", path, err)
		}
		if !ok {
			return nil
		}
		if spec.Name == "" {
			spec.Name = strings.TrimSuffix(d.Name(), ".md")
		}
		specs = append(specs, spec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// parseFrontmatter extracts the YAML block between leading "---" lines.
func parseFrontmatter(data []byte) (AgentSpec, bool, error) {
	var spec AgentSpec

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, frontmatterDelim+"\n") {
		return spec, false, nil
	}

	rest := text[len(frontmatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return spec, false, fmt.Errorf("unterminated frontmatter")
	}

	if err := yaml.Unmarshal([]byte(rest[:end]), &spec); err != nil {
		return spec, false, fmt.Errorf("parse frontmatter: %w", err)
	}
	return spec, true, nil
}
