package bus

import (
	"testing"

	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

func drain(s *Subscription) []Delivery {
	var out []Delivery
	for {
		select {
		case d := <-s.C():
			out = append(out, d)
		default:
			return out
		}
	}
}

func TestPublishOrderAndSequence(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", nil, 16)
	defer b.Unsubscribe("s1")

	for i := 0; i < 3; i++ {
		b.Publish(Event{Kind: protocol.EventMessageCreated, EntityID: "m"})
	}

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("received %d deliveries", len(got))
	}
	for i, d := range got {
		if d.Seq != uint64(i+1) {
			t.Errorf("delivery %d has seq %d", i, d.Seq)
		}
	}
	if sub.Seq() != 3 {
		t.Errorf("Seq() = %d", sub.Seq())
	}
}

func TestMatchFilters(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", func(e Event) bool {
		return e.ChannelID == "global:dev"
	}, 16)
	defer b.Unsubscribe("s1")

	b.Publish(Event{Kind: protocol.EventMessageCreated, ChannelID: "global:dev"})
	b.Publish(Event{Kind: protocol.EventMessageCreated, ChannelID: "global:other"})

	got := drain(sub)
	if len(got) != 1 || got[0].ChannelID != "global:dev" {
		t.Errorf("got %v", got)
	}
}

func TestOverflowEmitsGap(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", nil, 2)
	defer b.Unsubscribe("s1")

	// Fill the queue, then overflow by three.
	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: protocol.EventMessageCreated})
	}
	// Make room so the next publish can land the gap marker first.
	first := <-sub.C()
	if first.Seq != 1 {
		t.Fatalf("first seq = %d", first.Seq)
	}
	b.Publish(Event{Kind: protocol.EventMessageCreated})

	got := drain(sub)
	var gap *Delivery
	for i := range got {
		if got[i].Kind == protocol.EventGap {
			gap = &got[i]
			break
		}
	}
	if gap == nil {
		t.Fatal("no gap marker delivered")
	}
	p, ok := gap.Payload.(protocol.GapPayload)
	if !ok || p.Dropped != 3 {
		t.Errorf("gap payload = %v, want 3 dropped", gap.Payload)
	}
}

func TestGapConsumesSequenceNumber(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", nil, 1)
	defer b.Unsubscribe("s1")

	b.Publish(Event{Kind: protocol.EventMessageCreated})
	b.Publish(Event{Kind: protocol.EventMessageCreated}) // dropped
	<-sub.C()                                     // seq 1
	b.Publish(Event{Kind: protocol.EventMessageCreated}) // gap lands, event dropped
	gap := <-sub.C()
	if gap.Kind != protocol.EventGap || gap.Seq != 2 {
		t.Fatalf("gap = %+v", gap)
	}
	b.Publish(Event{Kind: protocol.EventMessageCreated})
	next := <-sub.C()
	if next.Kind != protocol.EventGap && next.Seq != 3 {
		t.Errorf("delivery after gap = %+v", next)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", nil, 4)
	b.Unsubscribe("s1")

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}
	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d", b.Subscribers())
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: protocol.EventMessageCreated})
}

func TestResubscribeReplacesPrevious(t *testing.T) {
	b := New()
	old := b.Subscribe("s1", nil, 4)
	fresh := b.Subscribe("s1", nil, 4)
	defer b.Unsubscribe("s1")

	if _, ok := <-old.C(); ok {
		t.Error("old subscription should be closed")
	}
	b.Publish(Event{Kind: protocol.EventMessageCreated})
	if got := drain(fresh); len(got) != 1 {
		t.Errorf("fresh subscription got %d deliveries", len(got))
	}
	if b.Subscribers() != 1 {
		t.Errorf("Subscribers = %d", b.Subscribers())
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", nil, 4)
	defer b.Unsubscribe("s1")

	b.Publish(Event{Kind: protocol.EventMessageCreated})
	d := <-sub.C()
	if d.Timestamp.IsZero() {
		t.Error("timestamp should be stamped on publish")
	}
}
