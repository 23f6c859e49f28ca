package broker

import (
	"context"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// LinkProjects authorizes cross-project discovery between two projects.
func (b *Broker) LinkProjects(ctx context.Context, a, bID string, linkType store.LinkType) error {
	ctx, span := b.span(ctx, "broker.LinkProjects")
	defer span.End()

	if a == bID {
		return store.InvalidArgumentf("cannot link a project to itself")
	}
	if _, err := b.stores.Projects.Get(ctx, a); err != nil {
		return err
	}
	if _, err := b.stores.Projects.Get(ctx, bID); err != nil {
		return err
	}
	return retry(ctx, func() error { return b.stores.Links.Link(ctx, a, bID, linkType) })
}

// UnlinkProjects removes a project link.
func (b *Broker) UnlinkProjects(ctx context.Context, a, bID string) error {
	ctx, span := b.span(ctx, "broker.UnlinkProjects")
	defer span.End()
	return retry(ctx, func() error { return b.stores.Links.Unlink(ctx, a, bID) })
}

// LinkStatus fetches one link, canonical order handled by the store.
func (b *Broker) LinkStatus(ctx context.Context, a, bID string) (*store.ProjectLink, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Links.Get(ctx, a, bID)
}

// ListLinks lists every project link.
func (b *Broker) ListLinks(ctx context.Context) ([]*store.ProjectLink, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Links.List(ctx)
}
