package broker

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// SetDMPermission records an explicit allow or block from agent toward
// other. A block on either side forbids the DM regardless of policy.
func (b *Broker) SetDMPermission(ctx context.Context, agent, other store.AgentRef, kind store.DMPermissionKind, reason string) error {
	ctx, span := b.span(ctx, "broker.SetDMPermission")
	defer span.End()

	if agent == other {
		return store.InvalidArgumentf("cannot set a dm permission toward oneself")
	}
	return retry(ctx, func() error {
		return b.stores.DMs.Set(ctx, &store.DMPermission{
			Agent:     agent,
			Other:     other,
			Kind:      kind,
			Reason:    reason,
			CreatedAt: time.Now(),
		})
	})
}

// ClearDMPermission removes an explicit allow/block, restoring
// policy-only resolution.
func (b *Broker) ClearDMPermission(ctx context.Context, agent, other store.AgentRef) error {
	ctx, span := b.span(ctx, "broker.ClearDMPermission")
	defer span.End()
	return retry(ctx, func() error { return b.stores.DMs.Remove(ctx, agent, other) })
}

// CanDM reports whether from may DM to, with the violated rule named.
func (b *Broker) CanDM(ctx context.Context, from, to store.AgentRef) (bool, string, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Permissions.CanDM(ctx, from, to)
}
