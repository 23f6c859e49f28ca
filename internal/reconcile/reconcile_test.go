package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *broker.Broker) {
	t.Helper()
	b, err := broker.Open(broker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return New(b), b
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	agentsDir := filepath.Join(dir, "agents")
	if err := os.Mkdir(agentsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, statePath, `
global_channels:
  - name: general
    description: everyone
    is_default: true
  - name: announcements
    access_type: members
`)
	writeFile(t, filepath.Join(agentsDir, "alice.md"), `---
description: backend work
---
Alice's prompt body.
`)
	writeFile(t, filepath.Join(agentsDir, "bob.md"), `---
name: bob
description: frontend work
---
`)
	return statePath, agentsDir
}

func TestReconcileConverges(t *testing.T) {
	r, b := newTestReconciler(t)
	ctx := context.Background()
	statePath, agentsDir := testFixtures(t)

	rec, err := r.Reconcile(ctx, statePath, agentsDir)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "ok" || rec.Actions == 0 {
		t.Fatalf("record = %+v", rec)
	}

	// Channels exist with their declared shape.
	c, err := b.Stores().Channels.Get(ctx, "global:general")
	if err != nil || !c.IsDefault {
		t.Errorf("general = (%+v, %v)", c, err)
	}
	c, err = b.Stores().Channels.Get(ctx, "global:announcements")
	if err != nil || c.AccessType != store.AccessMembers {
		t.Errorf("announcements = (%+v, %v)", c, err)
	}

	// Agents exist; the filename supplied alice's name.
	a, err := b.Stores().Agents.Get(ctx, store.AgentRef{Name: "alice"})
	if err != nil || a.Description != "backend work" {
		t.Errorf("alice = (%+v, %v)", a, err)
	}
	if _, err := b.Stores().Agents.Get(ctx, store.AgentRef{Name: "bob"}); err != nil {
		t.Errorf("bob = %v", err)
	}

	// Default membership was provisioned for the default channel only.
	m, err := b.Stores().Members.Get(ctx, "global:general", store.AgentRef{Name: "alice"})
	if err != nil || !m.IsFromDefault {
		t.Errorf("default membership = (%+v, %v)", m, err)
	}
	_, err = b.Stores().Members.Get(ctx, "global:announcements", store.AgentRef{Name: "alice"})
	if err == nil {
		t.Error("non-default channel must not be auto-joined")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()
	statePath, agentsDir := testFixtures(t)

	if _, err := r.Reconcile(ctx, statePath, agentsDir); err != nil {
		t.Fatal(err)
	}
	rec, err := r.Reconcile(ctx, statePath, agentsDir)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Actions != 0 {
		t.Errorf("second run applied %d actions, want 0", rec.Actions)
	}
}

func TestReconcileHonorsOptOut(t *testing.T) {
	r, b := newTestReconciler(t)
	ctx := context.Background()
	statePath, agentsDir := testFixtures(t)
	alice := store.AgentRef{Name: "alice"}

	if _, err := r.Reconcile(ctx, statePath, agentsDir); err != nil {
		t.Fatal(err)
	}
	if err := b.LeaveChannel(ctx, "global:general", alice); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reconcile(ctx, statePath, agentsDir); err != nil {
		t.Fatal(err)
	}

	m, err := b.Stores().Members.Get(ctx, "global:general", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !m.OptedOut {
		t.Error("reconciliation re-added an opted-out membership")
	}
}

func TestReconcileExcludedAgent(t *testing.T) {
	r, b := newTestReconciler(t)
	ctx := context.Background()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")
	agentsDir := filepath.Join(dir, "agents")
	if err := os.Mkdir(agentsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, statePath, `
settings:
  exclude_agents: [loner]
global_channels:
  - name: general
    is_default: true
`)
	writeFile(t, filepath.Join(agentsDir, "loner.md"), `---
description: opted out by policy
---
`)

	if _, err := r.Reconcile(ctx, statePath, agentsDir); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Stores().Members.Get(ctx, "global:general", store.AgentRef{Name: "loner"}); err == nil {
		t.Error("excluded agent was joined to a default channel")
	}
}

func TestReconcileRecordsHistory(t *testing.T) {
	r, b := newTestReconciler(t)
	ctx := context.Background()
	statePath, agentsDir := testFixtures(t)

	rec, err := r.Reconcile(ctx, statePath, agentsDir)
	if err != nil {
		t.Fatal(err)
	}
	last, err := b.Stores().Sync.Last(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.ConfigHash != rec.ConfigHash || last.ConfigHash == "" {
		t.Errorf("history hash = %q, want %q", last.ConfigHash, rec.ConfigHash)
	}
}

func TestScanAgents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alice.md"), `---
description: has frontmatter
exclude: [general]
---
body
`)
	writeFile(t, filepath.Join(dir, "plain.md"), "no frontmatter here\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "---\nignored: file type\n---\n")

	specs, err := ScanAgents(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 {
		t.Fatalf("specs = %+v", specs)
	}
	if specs[0].Name != "alice" {
		t.Errorf("filename fallback failed: %q", specs[0].Name)
	}
	if len(specs[0].Exclude) != 1 || specs[0].Exclude[0] != "general" {
		t.Errorf("exclude = %v", specs[0].Exclude)
	}
}

func TestScanAgentsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.md"), "---\nname: unterminated\n")

	if _, err := ScanAgents(dir); err == nil {
		t.Error("unterminated frontmatter must fail the scan")
	}
}

func TestPlanForMissingStateFile(t *testing.T) {
	r, _ := newTestReconciler(t)
	_, err := r.Reconcile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err == nil {
		t.Error("missing state file should fail")
	}
}
