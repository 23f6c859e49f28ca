package broker

import (
	"context"

	"github.com/nextlevelbuilder/agentmesh/internal/search"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// Search runs an unscoped hybrid search over every channel. This is the
// administrative variant; agent-facing callers use SearchForAgent.
func (b *Broker) Search(ctx context.Context, req search.Request) ([]search.Result, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	ctx, span := b.span(ctx, "broker.Search")
	defer span.End()

	return b.engine.Search(ctx, req)
}

// SearchForAgent intersects the request with the agent's visible
// channels before dispatch, so results never leak across permissions.
func (b *Broker) SearchForAgent(ctx context.Context, agent store.AgentRef, req search.Request) ([]search.Result, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()

	ctx, span := b.span(ctx, "broker.SearchForAgent")
	defer span.End()

	channelIDs, err := b.visibleChannelIDs(ctx, agent)
	if err != nil {
		return nil, err
	}
	if len(channelIDs) == 0 {
		return nil, nil
	}
	req.ChannelIDs = channelIDs

	return b.engine.Search(ctx, req)
}
