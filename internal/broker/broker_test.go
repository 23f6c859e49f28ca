package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/agentmesh/internal/embedder"
	"github.com/nextlevelbuilder/agentmesh/internal/search"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := Open(Options{
		Index: vector.NewMemory(),
		Embed: embedder.NewHash(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func register(t *testing.T, b *Broker, name, projectID string) store.AgentRef {
	t.Helper()
	ref := store.AgentRef{Name: name, ProjectID: projectID}
	if err := b.RegisterAgent(context.Background(), &store.Agent{AgentRef: ref}); err != nil {
		t.Fatal(err)
	}
	return ref
}

func TestRegisterAgentProvisionsNotes(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")

	notesID := store.NotesChannelID(alice)
	c, err := b.Stores().Channels.Get(ctx, notesID)
	if err != nil {
		t.Fatal(err)
	}
	if c.AccessType != store.AccessPrivate || c.Owner == nil || *c.Owner != alice {
		t.Errorf("notes channel misconfigured: %+v", c)
	}
	m, err := b.Stores().Members.Get(ctx, notesID, alice)
	if err != nil {
		t.Fatal(err)
	}
	if m.CanLeave {
		t.Error("notes owner must not be able to leave")
	}
}

func TestRegisterAgentJoinsDefaults(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	admin := register(t, b, "admin", "")

	_, err := b.CreateChannel(ctx, admin, ChannelInput{Name: "general", IsDefault: true})
	if err != nil {
		t.Fatal(err)
	}
	alice := register(t, b, "alice", "")

	m, err := b.Stores().Members.Get(ctx, "global:general", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsFromDefault || m.Source != store.SourceDefault {
		t.Errorf("default membership = %+v", m)
	}
}

func TestLeaveDefaultChannelOptsOut(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	admin := register(t, b, "admin", "")
	if _, err := b.CreateChannel(ctx, admin, ChannelInput{Name: "general", IsDefault: true}); err != nil {
		t.Fatal(err)
	}
	alice := register(t, b, "alice", "")

	if err := b.LeaveChannel(ctx, "global:general", alice); err != nil {
		t.Fatal(err)
	}
	m, err := b.Stores().Members.Get(ctx, "global:general", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !m.OptedOut {
		t.Error("leaving a default channel should opt out, not remove")
	}

	// Re-registration must honour the opt-out.
	register(t, b, "alice", "")
	m, err = b.Stores().Members.Get(ctx, "global:general", alice)
	if err != nil {
		t.Fatal(err)
	}
	if !m.OptedOut {
		t.Error("re-registration cleared the opt-out")
	}

	// An opted-out agent can no longer send there.
	_, err = b.SendMessage(ctx, "global:general", alice, MessageInput{Content: "hi"})
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("send after opt-out: %v", err)
	}
}

func TestSendMessagePublishesEvent(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	if _, err := b.CreateChannel(ctx, alice, ChannelInput{Name: "dev"}); err != nil {
		t.Fatal(err)
	}

	sub := b.Events().Subscribe("t", nil, 16)
	defer b.Events().Unsubscribe("t")

	m, err := b.SendMessage(ctx, "global:dev", alice, MessageInput{Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == 0 {
		t.Fatal("message id not assigned")
	}

	d := <-sub.C()
	if d.Kind != protocol.EventMessageCreated || d.ChannelID != "global:dev" {
		t.Errorf("event = %+v", d)
	}
}

func TestSendToArchivedChannel(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	if _, err := b.CreateChannel(ctx, alice, ChannelInput{Name: "dev"}); err != nil {
		t.Fatal(err)
	}
	if err := b.ArchiveChannel(ctx, "global:dev", alice); err != nil {
		t.Fatal(err)
	}
	_, err := b.SendMessage(ctx, "global:dev", alice, MessageInput{Content: "hi"})
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("send to archived channel: %v", err)
	}
	if err := b.JoinChannel(ctx, "global:dev", register(t, b, "bob", "")); !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("join archived channel: %v", err)
	}
}

func TestDMAutoCreatesChannel(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	bob := register(t, b, "bob", "")

	sub := b.Events().Subscribe("t", nil, 16)
	defer b.Events().Unsubscribe("t")

	m, err := b.SendDM(ctx, alice, bob, MessageInput{Content: "psst"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ChannelID != store.DMChannelID(alice, bob) {
		t.Errorf("channel = %s", m.ChannelID)
	}

	// dm.created must precede message.created on first contact.
	first := <-sub.C()
	second := <-sub.C()
	if first.Kind != protocol.EventDMCreated || second.Kind != protocol.EventMessageCreated {
		t.Errorf("event order = %s, %s", first.Kind, second.Kind)
	}

	// Second DM reuses the channel, no second dm.created.
	if _, err := b.SendDM(ctx, bob, alice, MessageInput{Content: "yes?"}); err != nil {
		t.Fatal(err)
	}
	d := <-sub.C()
	if d.Kind != protocol.EventMessageCreated {
		t.Errorf("repeat DM emitted %s", d.Kind)
	}

	// Neither party can leave a DM channel.
	err = b.LeaveChannel(ctx, m.ChannelID, alice)
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("leaving a DM: %v", err)
	}
}

func TestDMPolicyDenied(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")

	err := b.RegisterAgent(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "hermit"}, DMPolicy: store.DMClosed,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.SendDM(ctx, alice, store.AgentRef{Name: "hermit"}, MessageInput{Content: "hi"})
	if !errors.Is(err, store.ErrPolicyDenied) {
		t.Errorf("closed policy: %v", err)
	}
}

func TestDMBlock(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	bob := register(t, b, "bob", "")

	if err := b.SetDMPermission(ctx, bob, alice, store.PermBlock, "spam"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SendDM(ctx, alice, bob, MessageInput{Content: "hi"}); !errors.Is(err, store.ErrPolicyDenied) {
		t.Errorf("blocked DM: %v", err)
	}
	if err := b.ClearDMPermission(ctx, bob, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SendDM(ctx, alice, bob, MessageInput{Content: "hi"}); err != nil {
		t.Errorf("DM after unblock: %v", err)
	}
}

func TestNotesIsolation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	bob := register(t, b, "bob", "")

	if _, err := b.WriteNote(ctx, alice, MessageInput{Content: "remember the migration"}); err != nil {
		t.Fatal(err)
	}

	mine, err := b.RecentNotes(ctx, alice, 10)
	if err != nil || len(mine) != 1 {
		t.Fatalf("RecentNotes = (%v, %v)", mine, err)
	}
	theirs, err := b.RecentNotes(ctx, bob, 10)
	if err != nil || len(theirs) != 0 {
		t.Errorf("bob sees alice's notes: %v", theirs)
	}

	// Bob can peek because alice is publicly discoverable.
	peeked, err := b.PeekNotes(ctx, bob, alice, 10)
	if err != nil || len(peeked) != 1 {
		t.Errorf("PeekNotes = (%v, %v)", peeked, err)
	}

	// But nothing grants bob send access.
	_, err = b.SendMessage(ctx, store.NotesChannelID(alice), bob, MessageInput{Content: "graffiti"})
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("writing another agent's notes: %v", err)
	}
}

func TestPeekNotesRequiresDiscovery(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")

	err := b.RegisterAgent(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "ghost"}, Discoverable: store.DiscoverPrivate,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.PeekNotes(ctx, alice, store.AgentRef{Name: "ghost"}, 10)
	if !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("peeking an undiscoverable agent: %v", err)
	}
}

func TestSearchForAgentScoped(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	bob := register(t, b, "bob", "")

	if _, err := b.CreateChannel(ctx, alice, ChannelInput{Name: "mine"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.CreateChannel(ctx, bob, ChannelInput{Name: "theirs", AccessType: store.AccessPrivate}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SendMessage(ctx, "global:mine", alice, MessageInput{Content: "deploy checklist"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.SendMessage(ctx, "global:theirs", bob, MessageInput{Content: "deploy checklist"}); err != nil {
		t.Fatal(err)
	}

	results, err := b.SearchForAgent(ctx, alice, search.Request{Query: "deploy checklist"})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Message.ChannelID != "global:mine" {
			t.Errorf("invisible channel leaked into search: %v", r.Message)
		}
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSyncCheckRepairsIndex(t *testing.T) {
	idx := vector.NewMemory()
	b, err := Open(Options{Index: idx, Embed: embedder.NewHash(0)})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	if _, err := b.CreateChannel(ctx, alice, ChannelInput{Name: "dev"}); err != nil {
		t.Fatal(err)
	}

	m1, err := b.SendMessage(ctx, "global:dev", alice, MessageInput{Content: "one"})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := b.SendMessage(ctx, "global:dev", alice, MessageInput{Content: "two"})
	if err != nil {
		t.Fatal(err)
	}

	// Lose one point and orphan another.
	if err := idx.Delete(ctx, m1.ID); err != nil {
		t.Fatal(err)
	}
	if err := b.Stores().Messages.SoftDelete(ctx, m2.ID); err != nil {
		t.Fatal(err)
	}

	report, err := b.SyncCheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Reindexed != 1 || report.Removed != 1 {
		t.Errorf("report = %+v", report)
	}
	ids, err := idx.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != m1.ID {
		t.Errorf("index after repair = %v", ids)
	}
}

func TestMessagableAgentsFiltersPolicy(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	register(t, b, "bob", "")
	err := b.RegisterAgent(ctx, &store.Agent{
		AgentRef: store.AgentRef{Name: "hermit"}, DMPolicy: store.DMClosed,
	})
	if err != nil {
		t.Fatal(err)
	}

	agents, err := b.MessagableAgents(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, a := range agents {
		names[a.Name] = true
	}
	if names["alice"] {
		t.Error("the viewer should not list itself")
	}
	if !names["bob"] || names["hermit"] {
		t.Errorf("directory = %v", names)
	}
}

func TestInviteRequiresPermission(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	alice := register(t, b, "alice", "")
	bob := register(t, b, "bob", "")
	carol := register(t, b, "carol", "")

	if _, err := b.CreateChannel(ctx, alice, ChannelInput{Name: "sec", AccessType: store.AccessMembers}); err != nil {
		t.Fatal(err)
	}
	// Non-members cannot join a members-only channel directly.
	if err := b.JoinChannel(ctx, "global:sec", bob); !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("join members-only: %v", err)
	}
	// The creator can invite.
	if err := b.InviteToChannel(ctx, "global:sec", alice, bob); err != nil {
		t.Fatal(err)
	}
	// An invited member without can_invite cannot chain invites.
	if err := b.InviteToChannel(ctx, "global:sec", bob, carol); !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("invite without can_invite: %v", err)
	}
}

func TestSessionsLifecycle(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	alice := register(t, b, "alice", "")
	err := b.RecordSession(ctx, &store.Session{ID: "s1", Agent: &alice})
	if err != nil {
		t.Fatal(err)
	}
	err = b.RecordToolCall(ctx, &store.ToolCall{ID: "tc1", SessionID: "s1", ToolName: "send_message"})
	if err != nil {
		t.Fatal(err)
	}
	calls, err := b.ToolCalls(ctx, "s1")
	if err != nil || len(calls) != 1 {
		t.Errorf("ToolCalls = (%v, %v)", calls, err)
	}
}
