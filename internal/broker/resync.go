package broker

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
)

// resyncBatch bounds how many rows are embedded per round trip.
const resyncBatch = 100

// SyncReport summarizes one index repair run.
type SyncReport struct {
	Relational uint64 `json:"relational"`
	Indexed    uint64 `json:"indexed"`
	Reindexed  int    `json:"reindexed"`
	Removed    int    `json:"removed"`
}

// SyncCheck diffs the vector index against the relational store and
// repairs both directions: rows missing from the index are re-embedded
// and upserted, points without a backing row are deleted. Relational
// data is never touched.
func (b *Broker) SyncCheck(ctx context.Context) (*SyncReport, error) {
	ctx, span := b.span(ctx, "broker.SyncCheck")
	defer span.End()

	if b.index == nil || b.embed == nil {
		return nil, store.InvalidArgumentf("no vector index configured")
	}

	rowIDs, err := b.stores.Messages.IDs(ctx)
	if err != nil {
		return nil, err
	}
	indexIDs, err := b.index.IDs(ctx)
	if err != nil {
		return nil, err
	}

	indexed := make(map[int64]bool, len(indexIDs))
	for _, id := range indexIDs {
		indexed[id] = true
	}
	live := make(map[int64]bool, len(rowIDs))
	for _, id := range rowIDs {
		live[id] = true
	}

	var missing, orphaned []int64
	for _, id := range rowIDs {
		if !indexed[id] {
			missing = append(missing, id)
		}
	}
	for _, id := range indexIDs {
		if !live[id] {
			orphaned = append(orphaned, id)
		}
	}

	report := &SyncReport{
		Relational: uint64(len(rowIDs)),
		Indexed:    uint64(len(indexIDs)),
	}

	for start := 0; start < len(missing); start += resyncBatch {
		end := start + resyncBatch
		if end > len(missing) {
			end = len(missing)
		}
		n, err := b.reindex(ctx, missing[start:end])
		if err != nil {
			return report, err
		}
		report.Reindexed += n
	}

	if len(orphaned) > 0 {
		if err := b.index.Delete(ctx, orphaned...); err != nil {
			return report, err
		}
		report.Removed = len(orphaned)
	}

	slog.Info("vector.resync",
		"reindexed", report.Reindexed, "removed", report.Removed)
	return report, nil
}

// reindex re-embeds one batch of rows and upserts them.
func (b *Broker) reindex(ctx context.Context, ids []int64) (int, error) {
	rows, err := b.stores.Messages.GetMany(ctx, ids)
	if err != nil {
		return 0, err
	}

	projectOf := make(map[string]string)
	points := make([]vector.Point, 0, len(rows))
	for _, m := range rows {
		vec, err := b.embed.Embed(ctx, m.Content)
		if err != nil {
			return len(points), err
		}
		projectID, ok := projectOf[m.ChannelID]
		if !ok {
			if ch, err := b.stores.Channels.Get(ctx, m.ChannelID); err == nil {
				projectID = ch.ProjectID
			}
			projectOf[m.ChannelID] = projectID
		}
		points = append(points, vector.Point{
			ID:      m.ID,
			Vector:  vec,
			Payload: vector.PayloadFromMessage(m, projectID, b.metadataKeys),
		})
	}

	if err := b.index.Upsert(ctx, points...); err != nil {
		return 0, err
	}
	return len(points), nil
}
