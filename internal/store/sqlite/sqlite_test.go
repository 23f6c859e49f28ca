package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

func newTestStores(t *testing.T) *store.Stores {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStores(db)
}

func mustRegister(t *testing.T, s *store.Stores, name, projectID string) store.AgentRef {
	t.Helper()
	ref := store.AgentRef{Name: name, ProjectID: projectID}
	err := s.Agents.Upsert(context.Background(), &store.Agent{AgentRef: ref})
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func mustChannel(t *testing.T, s *store.Stores, id string) {
	t.Helper()
	err := s.Channels.Create(context.Background(), &store.Channel{
		ID:          id,
		ChannelType: store.TypeChannel,
		AccessType:  store.AccessOpen,
		Scope:       store.ScopeGlobal,
		Name:        id,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func mustJoin(t *testing.T, s *store.Stores, channelID string, ref store.AgentRef) {
	t.Helper()
	err := s.Members.Upsert(context.Background(), &store.ChannelMember{
		ChannelID: channelID,
		Agent:     ref,
		CanLeave:  true,
		CanSend:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenMigratesSchema(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if dirty || version == 0 {
		t.Errorf("schema = (version %d, dirty %v) after open", version, dirty)
	}
	// A second migrate run finds nothing to do.
	if err := db.Migrate(); err != nil {
		t.Errorf("re-migrate: %v", err)
	}
}

func TestProjectEnsureIdempotent(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	p1, err := s.Projects.Ensure(ctx, "/tmp/proj", "proj")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Projects.Ensure(ctx, "/tmp/proj", "renamed")
	if err != nil {
		t.Fatal(err)
	}
	if p1.ID != p2.ID {
		t.Errorf("ids differ: %s vs %s", p1.ID, p2.ID)
	}
	if p2.Name != "proj" {
		t.Errorf("ensure must not rename an existing project, got %q", p2.Name)
	}

	got, err := s.Projects.GetByPath(ctx, "/tmp/proj")
	if err != nil || got.ID != p1.ID {
		t.Errorf("GetByPath = (%v, %v)", got, err)
	}
}

func TestAgentUpsertAppliesDefaults(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	ref := mustRegister(t, s, "alice", "")

	a, err := s.Agents.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if a.DMPolicy != store.DMOpen || a.Discoverable != store.DiscoverPublic || a.Status != "active" {
		t.Errorf("defaults not applied: %+v", a)
	}

	a.Description = "updated"
	a.DMPolicy = store.DMRestricted
	if err := s.Agents.Upsert(ctx, a); err != nil {
		t.Fatal(err)
	}
	again, err := s.Agents.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if again.Description != "updated" || again.DMPolicy != store.DMRestricted {
		t.Errorf("upsert did not update: %+v", again)
	}
}

func TestAgentNameValidation(t *testing.T) {
	s := newTestStores(t)
	err := s.Agents.Upsert(context.Background(), &store.Agent{
		AgentRef: store.AgentRef{Name: "bad name"},
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestChannelCreateConflict(t *testing.T) {
	s := newTestStores(t)
	mustChannel(t, s, "global:dev")

	err := s.Channels.Create(context.Background(), &store.Channel{
		ID:          "global:dev",
		ChannelType: store.TypeChannel,
		AccessType:  store.AccessOpen,
		Scope:       store.ScopeGlobal,
		Name:        "global:dev",
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestChannelValidation(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	tests := []struct {
		name string
		c    *store.Channel
	}{
		{"project scope without project", &store.Channel{
			ID: "proj_x:dev", ChannelType: store.TypeChannel,
			AccessType: store.AccessOpen, Scope: store.ScopeProject, Name: "dev",
		}},
		{"global scope with project", &store.Channel{
			ID: "global:dev", ChannelType: store.TypeChannel,
			AccessType: store.AccessOpen, Scope: store.ScopeGlobal,
			ProjectID: "abc", Name: "dev",
		}},
		{"direct channel not private", &store.Channel{
			ID: "dm:a:global:b:global", ChannelType: store.TypeDirect,
			AccessType: store.AccessOpen, Scope: store.ScopeGlobal, Name: "dm",
		}},
		{"notes channel without owner", &store.Channel{
			ID: "notes:alice:global", ChannelType: store.TypeChannel,
			AccessType: store.AccessPrivate, Scope: store.ScopeGlobal, Name: "notes",
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Channels.Create(ctx, tc.c); !errors.Is(err, store.ErrInvalidArgument) {
				t.Errorf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestChannelEnsure(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	c := &store.Channel{
		ID: "global:dev", ChannelType: store.TypeChannel,
		AccessType: store.AccessOpen, Scope: store.ScopeGlobal, Name: "dev",
	}
	_, created, err := s.Channels.Ensure(ctx, c)
	if err != nil || !created {
		t.Fatalf("first ensure = (created=%v, %v)", created, err)
	}
	_, created, err = s.Channels.Ensure(ctx, c)
	if err != nil || created {
		t.Errorf("second ensure = (created=%v, %v), want existing", created, err)
	}
}

func TestChannelArchive(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	mustChannel(t, s, "global:dev")

	if err := s.Channels.Archive(ctx, "global:dev", time.Now()); err != nil {
		t.Fatal(err)
	}
	c, err := s.Channels.Get(ctx, "global:dev")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsArchived || c.ArchivedAt == nil {
		t.Errorf("channel not archived: %+v", c)
	}
	// Archiving twice is a no-op, not an error.
	if err := s.Channels.Archive(ctx, "global:dev", time.Now()); err != nil {
		t.Errorf("re-archive: %v", err)
	}
	if err := s.Channels.Archive(ctx, "global:nope", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListDefaultsScoped(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	p, err := s.Projects.Ensure(ctx, "/tmp/proj", "")
	if err != nil {
		t.Fatal(err)
	}
	channels := []*store.Channel{
		{ID: "global:general", ChannelType: store.TypeChannel, AccessType: store.AccessOpen,
			Scope: store.ScopeGlobal, Name: "general", IsDefault: true},
		{ID: "global:random", ChannelType: store.TypeChannel, AccessType: store.AccessOpen,
			Scope: store.ScopeGlobal, Name: "random"},
		{ID: store.ProjectChannelID(p.ID, "dev"), ChannelType: store.TypeChannel,
			AccessType: store.AccessOpen, Scope: store.ScopeProject,
			ProjectID: p.ID, Name: "dev", IsDefault: true},
	}
	for _, c := range channels {
		if err := s.Channels.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	global, err := s.Channels.ListDefaults(ctx, store.ScopeGlobal, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(global) != 1 || global[0].ID != "global:general" {
		t.Errorf("global defaults = %v", global)
	}
	proj, err := s.Channels.ListDefaults(ctx, store.ScopeProject, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(proj) != 1 || proj[0].Name != "dev" {
		t.Errorf("project defaults = %v", proj)
	}
}

func TestMessageInsertRequiresMembership(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")

	_, err := s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "hi",
	})
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("expected permission denied for non-member, got %v", err)
	}

	mustJoin(t, s, "global:dev", alice)
	id, err := s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "hi",
	})
	if err != nil || id == 0 {
		t.Fatalf("insert after join = (%d, %v)", id, err)
	}
}

func TestMessageInsertDeniedWithoutCanSend(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")

	err := s.Members.Upsert(ctx, &store.ChannelMember{
		ChannelID: "global:dev", Agent: alice, CanLeave: true, CanSend: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "hi",
	})
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}
}

func TestMessageInsertArchivedChannel(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	if err := s.Channels.Archive(ctx, "global:dev", time.Now()); err != nil {
		t.Fatal(err)
	}
	_, err := s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "hi",
	})
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("expected permission denied on archived channel, got %v", err)
	}
}

func TestMessageInsertValidation(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	_, err := s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "",
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("empty content: got %v", err)
	}

	bad := 1.5
	_, err = s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "x", Confidence: &bad,
	})
	if !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("out-of-range confidence: got %v", err)
	}

	_, err = s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:missing", Sender: alice, Content: "x",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing channel: got %v", err)
	}
}

func TestMessageQueryWithFilterFragment(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	for _, m := range []*store.Message{
		{ChannelID: "global:dev", Sender: alice, Content: "a",
			Metadata: map[string]any{"type": "decision"}},
		{ChannelID: "global:dev", Sender: alice, Content: "b",
			Metadata: map[string]any{"type": "note"}},
	} {
		if _, err := s.Messages.Insert(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.Messages.Query(ctx, store.MessageQuery{
		ChannelIDs: []string{"global:dev"},
		Where:      `json_extract(m.metadata, '$.type') = ?`,
		Args:       []any{"decision"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Content != "a" {
		t.Errorf("filtered query = %v", rows)
	}
}

func TestMessageSoftDeleteHidesRow(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	id, err := s.Messages.Insert(ctx, &store.Message{
		ChannelID: "global:dev", Sender: alice, Content: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Messages.SoftDelete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Messages.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted message still visible: %v", err)
	}
	ids, err := s.Messages.IDs(ctx)
	if err != nil || len(ids) != 0 {
		t.Errorf("IDs = (%v, %v)", ids, err)
	}
}

func TestVisibleChannelsHonorsOptOut(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustChannel(t, s, "global:random")
	mustJoin(t, s, "global:dev", alice)
	mustJoin(t, s, "global:random", alice)

	if err := s.Members.OptOut(ctx, "global:random", alice, time.Now()); err != nil {
		t.Fatal(err)
	}
	visible, err := s.Permissions.VisibleChannels(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != "global:dev" {
		t.Errorf("visible = %v", visible)
	}
}

func TestCanDMMatrix(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	alice := mustRegister(t, s, "alice", "")
	open := mustRegister(t, s, "open", "")
	err := s.Agents.Upsert(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "closed"}, DMPolicy: store.DMClosed,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.Agents.Upsert(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "picky"}, DMPolicy: store.DMRestricted,
	})
	if err != nil {
		t.Fatal(err)
	}
	closed := store.AgentRef{Name: "closed"}
	picky := store.AgentRef{Name: "picky"}

	if ok, _, err := s.Permissions.CanDM(ctx, alice, open); err != nil || !ok {
		t.Errorf("open policy should allow: (%v, %v)", ok, err)
	}
	if ok, reason, _ := s.Permissions.CanDM(ctx, alice, closed); ok || reason == "" {
		t.Errorf("closed policy should deny with a reason: (%v, %q)", ok, reason)
	}
	if ok, reason, _ := s.Permissions.CanDM(ctx, alice, picky); ok || reason == "" {
		t.Errorf("restricted without allow should deny: (%v, %q)", ok, reason)
	}

	// The restricted party grants an allow toward alice.
	err = s.DMs.Set(ctx, &store.DMPermission{Agent: picky, Other: alice, Kind: store.PermAllow})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _, err := s.Permissions.CanDM(ctx, alice, picky); err != nil || !ok {
		t.Errorf("restricted with allow should pass: (%v, %v)", ok, err)
	}

	// A block from either side wins over everything.
	err = s.DMs.Set(ctx, &store.DMPermission{Agent: open, Other: alice, Kind: store.PermBlock})
	if err != nil {
		t.Fatal(err)
	}
	if ok, reason, _ := s.Permissions.CanDM(ctx, alice, open); ok || reason == "" {
		t.Errorf("block should deny: (%v, %q)", ok, reason)
	}
}

func TestDiscoveryScopes(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	p1, _ := s.Projects.Ensure(ctx, "/tmp/p1", "")
	p2, _ := s.Projects.Ensure(ctx, "/tmp/p2", "")

	viewer := mustRegister(t, s, "viewer", p1.ID)
	mustRegister(t, s, "pub", p2.ID)
	err := s.Agents.Upsert(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "proj", ProjectID: p2.ID}, Discoverable: store.DiscoverProject,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.Agents.Upsert(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "hidden", ProjectID: p2.ID}, Discoverable: store.DiscoverPrivate,
	})
	if err != nil {
		t.Fatal(err)
	}

	names := func() map[string]bool {
		out := make(map[string]bool)
		agents, err := s.Permissions.DiscoverableAgents(ctx, viewer)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range agents {
			out[a.Name] = true
		}
		return out
	}

	got := names()
	if !got["pub"] || got["proj"] || got["hidden"] {
		t.Errorf("before link: %v", got)
	}

	// Linking the projects exposes project-scoped agents.
	if err := s.Links.Link(ctx, p1.ID, p2.ID, store.LinkBidirectional); err != nil {
		t.Fatal(err)
	}
	got = names()
	if !got["proj"] {
		t.Errorf("after link: %v", got)
	}
	if got["hidden"] {
		t.Error("private agents must never be discoverable")
	}
}

func TestDirectionalLink(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	p1, _ := s.Projects.Ensure(ctx, "/tmp/p1", "")
	p2, _ := s.Projects.Ensure(ctx, "/tmp/p2", "")
	v1 := mustRegister(t, s, "v1", p1.ID)
	v2 := mustRegister(t, s, "v2", p2.ID)
	err := s.Agents.Upsert(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "t1", ProjectID: p1.ID}, Discoverable: store.DiscoverProject,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.Agents.Upsert(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "t2", ProjectID: p2.ID}, Discoverable: store.DiscoverProject,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Canonical order is (p1, p2) or (p2, p1) by id; express "p1 may see
	// p2" and verify the reverse stays hidden.
	lt := store.LinkAToB
	if p2.ID < p1.ID {
		lt = store.LinkBToA
	}
	if err := s.Links.Link(ctx, p1.ID, p2.ID, lt); err != nil {
		t.Fatal(err)
	}

	sees := func(viewer store.AgentRef, target string) bool {
		agents, err := s.Permissions.DiscoverableAgents(ctx, viewer)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range agents {
			if a.Name == target {
				return true
			}
		}
		return false
	}
	if !sees(v1, "t2") {
		t.Error("granted direction should see the target")
	}
	if sees(v2, "t1") {
		t.Error("reverse direction should stay hidden")
	}
}

func TestLinkCanonicalOrder(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	p1, _ := s.Projects.Ensure(ctx, "/tmp/p1", "")
	p2, _ := s.Projects.Ensure(ctx, "/tmp/p2", "")

	if err := s.Links.Link(ctx, p2.ID, p1.ID, store.LinkBidirectional); err != nil {
		t.Fatal(err)
	}
	// Lookup works in either order.
	if _, err := s.Links.Get(ctx, p1.ID, p2.ID); err != nil {
		t.Errorf("forward get: %v", err)
	}
	if _, err := s.Links.Get(ctx, p2.ID, p1.ID); err != nil {
		t.Errorf("reverse get: %v", err)
	}
	if err := s.Links.Link(ctx, p1.ID, p1.ID, store.LinkBidirectional); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("self link: %v", err)
	}
}

func TestMemberUpsertPreservesOptOut(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	if err := s.Members.OptOut(ctx, "global:dev", alice, time.Now()); err != nil {
		t.Fatal(err)
	}
	// Default provisioning re-upserts; the opt-out must survive.
	err := s.Members.Upsert(ctx, &store.ChannelMember{
		ChannelID: "global:dev", Agent: alice, CanLeave: true, CanSend: true,
		Source: store.SourceDefault, IsFromDefault: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	m, err := s.Members.Get(ctx, "global:dev", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !m.OptedOut {
		t.Error("upsert must not clear opted_out")
	}
}

func TestMarkReadMonotonic(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	if err := s.Members.MarkRead(ctx, "global:dev", alice, 10, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Members.MarkRead(ctx, "global:dev", alice, 5, time.Now()); err != nil {
		t.Fatal(err)
	}
	m, err := s.Members.Get(ctx, "global:dev", alice)
	if err != nil {
		t.Fatal(err)
	}
	if m.LastReadMessageID != 10 {
		t.Errorf("read marker regressed to %d", m.LastReadMessageID)
	}
}

func TestAgentDeleteCascadesMemberships(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	if err := s.Agents.Delete(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Members.Get(ctx, "global:dev", alice); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("membership should cascade, got %v", err)
	}
}

func TestSessionPurge(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	sessions := []*store.Session{
		{ID: "expired", ExpiresAt: &past},
		{ID: "live", ExpiresAt: &future},
		{ID: "forever"},
	}
	for _, sess := range sessions {
		if err := s.Sessions.PutSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	err := s.Sessions.PutToolCall(ctx, &store.ToolCall{
		ID: "tc1", SessionID: "expired", ToolName: "send_message",
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.Sessions.PurgeExpired(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := s.Sessions.GetSession(ctx, "expired"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired session survived: %v", err)
	}
	if _, err := s.Sessions.GetSession(ctx, "live"); err != nil {
		t.Errorf("live session purged: %v", err)
	}
	if _, err := s.Sessions.GetSession(ctx, "forever"); err != nil {
		t.Errorf("session without expiry purged: %v", err)
	}
	calls, err := s.Sessions.ListToolCalls(ctx, "expired")
	if err != nil || len(calls) != 0 {
		t.Errorf("tool calls should cascade: (%v, %v)", calls, err)
	}
}

func TestSyncHistory(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	records := []*store.SyncRecord{
		{ConfigHash: "aaa", AppliedAt: time.Now().Add(-time.Minute), Actions: 3, Plan: "[]", Status: "ok"},
		{ConfigHash: "bbb", AppliedAt: time.Now(), Actions: 0, Plan: "[]", Status: "ok"},
	}
	for _, r := range records {
		if err := s.Sync.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	last, err := s.Sync.Last(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.ConfigHash != "bbb" {
		t.Errorf("Last = %+v", last)
	}
}

func TestRegexpFunctionRegistered(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	for _, content := range []string{"fix-123 shipped", "plain note"} {
		_, err := s.Messages.Insert(ctx, &store.Message{
			ChannelID: "global:dev", Sender: alice, Content: content,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.Messages.Query(ctx, store.MessageQuery{
		Where: `m.content REGEXP ?`,
		Args:  []any{`fix-\d+`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Content != "fix-123 shipped" {
		t.Errorf("regexp query = %v", rows)
	}
}

func TestFullTextSearchIndex(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	alice := mustRegister(t, s, "alice", "")
	mustChannel(t, s, "global:dev")
	mustJoin(t, s, "global:dev", alice)

	for _, content := range []string{"race condition in the watcher", "unrelated"} {
		_, err := s.Messages.Insert(ctx, &store.Message{
			ChannelID: "global:dev", Sender: alice, Content: content,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.Messages.Query(ctx, store.MessageQuery{
		Where: `m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)`,
		Args:  []any{"race"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("fts query = %v", rows)
	}
}
