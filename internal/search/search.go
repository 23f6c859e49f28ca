// Package search ranks messages with a weighted blend of semantic
// similarity, sender confidence and recency, under named or custom
// ranking profiles.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/embedder"
	"github.com/nextlevelbuilder/agentmesh/internal/filter"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
)

// DefaultLimit caps results when the caller does not.
const DefaultLimit = 20

// overfetchFactor: the vector index returns this many times the result
// cap so relational re-ranking has candidates to discard.
const overfetchFactor = 3

// Request is one search invocation. An empty Query selects the
// filter-only path; ChannelIDs, when set, scopes the search to those
// channels (the permission layer fills this in for agent-scoped calls).
type Request struct {
	Query      string
	Filter     filter.Node
	ChannelIDs []string
	Limit      int
	Profile    Profile
}

// Result is one ranked message with its score breakdown.
type Result struct {
	Message    *store.Message `json:"message"`
	Score      float64        `json:"score"`
	Similarity float64        `json:"similarity,omitempty"`
	Confidence float64        `json:"confidence"`
	Recency    float64        `json:"recency"`
}

// Engine executes hybrid searches over the relational store and the
// vector index. Index and Embed may be nil; the engine then degrades to
// filter-only execution.
type Engine struct {
	Messages store.MessageStore
	Embed    embedder.Embedder
	Index    vector.Index
}

// Search runs one request and returns ranked results.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.Profile == (Profile{}) {
		req.Profile, _ = ProfileByName("")
	}
	if err := req.Profile.Validate(); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	if req.Query == "" || e.Index == nil || e.Embed == nil {
		return e.filterOnly(ctx, req)
	}
	return e.semantic(ctx, req)
}

// filterOnly compiles the filter to SQL and returns the newest matches,
// annotated with the profile's recency score.
func (e *Engine) filterOnly(ctx context.Context, req Request) ([]Result, error) {
	where, args, err := filter.SQL(req.Filter)
	if err != nil {
		return nil, err
	}

	rows, err := e.Messages.Query(ctx, store.MessageQuery{
		ChannelIDs: req.ChannelIDs,
		Where:      where,
		Args:       args,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]Result, len(rows))
	for i, m := range rows {
		results[i] = Result{
			Message:    m,
			Confidence: confidenceOf(m),
			Recency:    req.Profile.Decay(now.Sub(m.Timestamp)),
		}
		results[i].Score = results[i].Recency
	}
	return results, nil
}

// semantic embeds the query, prefilters candidates in the vector index,
// re-ranks them with full relational rows and returns the top of the
// combined ordering.
func (e *Engine) semantic(ctx context.Context, req Request) ([]Result, error) {
	vec, err := e.Embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	pred := scopedFilter(req.Filter, req.ChannelIDs)
	hits, err := e.Index.Search(ctx, vec, pred, req.Limit*overfetchFactor)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	simByID := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		simByID[h.ID] = float64(h.Score)
	}

	rows, err := e.Messages.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	results := make([]Result, 0, len(rows))
	for _, m := range rows {
		r := Result{
			Message:    m,
			Similarity: simByID[m.ID],
			Confidence: confidenceOf(m),
			Recency:    req.Profile.Decay(now.Sub(m.Timestamp)),
		}
		r.Score = req.Profile.Score(r.Similarity, r.Confidence, r.Recency)
		results = append(results, r)
	}

	sortResults(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// sortResults orders by score descending; ties break on newer timestamp,
// then lower id, so repeated searches are stable.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Message.Timestamp.Equal(b.Message.Timestamp) {
			return a.Message.Timestamp.After(b.Message.Timestamp)
		}
		return a.Message.ID < b.Message.ID
	})
}

// scopedFilter intersects the caller's filter with a channel visibility
// scope for the vector backend.
func scopedFilter(f filter.Node, channelIDs []string) filter.Node {
	if len(channelIDs) == 0 {
		return f
	}
	ids := make([]any, len(channelIDs))
	for i, id := range channelIDs {
		ids[i] = id
	}
	scope := &filter.Condition{Field: "channel_id", Op: filter.OpIn, Value: ids}
	if f == nil {
		return scope
	}
	return &filter.Logical{Op: filter.OpAnd, Children: []filter.Node{scope, f}}
}

// confidenceOf applies the missing-confidence default of 0.5.
func confidenceOf(m *store.Message) float64 {
	if m.Confidence == nil {
		return 0.5
	}
	return *m.Confidence
}
