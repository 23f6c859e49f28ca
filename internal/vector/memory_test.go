package vector

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentmesh/internal/filter"
)

func mustFilter(t *testing.T, tree map[string]any) filter.Node {
	t.Helper()
	n, err := filter.Parse(tree)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func seedIndex(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	err := m.Upsert(context.Background(),
		Point{ID: 1, Vector: []float32{1, 0}, Payload: map[string]any{
			"channel_id": "global:dev", "confidence": 0.9,
			"metadata.type": "decision", "metadata.tags": []any{"api", "auth"},
		}},
		Point{ID: 2, Vector: []float32{0, 1}, Payload: map[string]any{
			"channel_id": "global:random", "confidence": 0.2,
			"metadata.type": "note",
		}},
		Point{ID: 3, Vector: []float32{1, 1}, Payload: map[string]any{
			"channel_id": "global:dev",
		}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMemorySearchCosineOrdering(t *testing.T) {
	m := seedIndex(t)
	hits, err := m.Search(context.Background(), []float32{1, 0}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits", len(hits))
	}
	if hits[0].ID != 1 {
		t.Errorf("best match = %d, want 1", hits[0].ID)
	}
	if hits[0].Score <= hits[1].Score || hits[1].Score <= hits[2].Score {
		t.Errorf("scores not descending: %v", hits)
	}
}

func TestMemorySearchLimit(t *testing.T) {
	m := seedIndex(t)
	hits, err := m.Search(context.Background(), []float32{1, 1}, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("limit ignored: %v", hits)
	}
}

func TestMemorySearchFiltered(t *testing.T) {
	m := seedIndex(t)
	tests := []struct {
		name string
		tree map[string]any
		want []int64
	}{
		{"eq system field", map[string]any{"channel_id": "global:dev"}, []int64{1, 3}},
		{"eq metadata", map[string]any{"type": "decision"}, []int64{1}},
		{"ne matches missing", map[string]any{"type": map[string]any{"$ne": "decision"}}, []int64{2, 3}},
		{"range", map[string]any{"confidence": map[string]any{"$gte": 0.5}}, []int64{1}},
		{"between", map[string]any{"confidence": map[string]any{"$between": []any{0.1, 0.5}}}, []int64{2}},
		{"in", map[string]any{"type": map[string]any{"$in": []any{"decision", "note"}}}, []int64{1, 2}},
		{"nin matches missing", map[string]any{"type": map[string]any{"$nin": []any{"note"}}}, []int64{1, 3}},
		{"contains", map[string]any{"tags": map[string]any{"$contains": "api"}}, []int64{1}},
		{"contains with prefixed path", map[string]any{"metadata.tags": map[string]any{"$contains": "api"}}, []int64{1}},
		{"eq with prefixed path", map[string]any{"metadata.type": "decision"}, []int64{1}},
		{"all", map[string]any{"tags": map[string]any{"$all": []any{"api", "auth"}}}, []int64{1}},
		{"size", map[string]any{"tags": map[string]any{"$size": 2}}, []int64{1}},
		{"exists", map[string]any{"type": map[string]any{"$exists": true}}, []int64{1, 2}},
		{"not exists", map[string]any{"type": map[string]any{"$exists": false}}, []int64{3}},
		{"regex", map[string]any{"type": map[string]any{"$regex": "^dec"}}, []int64{1}},
		{"text", map[string]any{"type": map[string]any{"$text": "NOTE"}}, []int64{2}},
		{"or", map[string]any{"$or": []any{
			map[string]any{"type": "note"},
			map[string]any{"confidence": map[string]any{"$gt": 0.8}},
		}}, []int64{1, 2}},
		{"not", map[string]any{"$not": map[string]any{"channel_id": "global:dev"}}, []int64{2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hits, err := m.Search(context.Background(), []float32{1, 1}, mustFilter(t, tc.tree), 0)
			if err != nil {
				t.Fatal(err)
			}
			got := make(map[int64]bool, len(hits))
			for _, h := range hits {
				got[h.ID] = true
			}
			if len(hits) != len(tc.want) {
				t.Fatalf("got %v, want ids %v", hits, tc.want)
			}
			for _, id := range tc.want {
				if !got[id] {
					t.Errorf("missing id %d in %v", id, hits)
				}
			}
		})
	}
}

func TestMemorySearchNumericCoercion(t *testing.T) {
	m := NewMemory()
	err := m.Upsert(context.Background(), Point{
		ID: 1, Vector: []float32{1}, Payload: map[string]any{"metadata.count": int64(3)},
	})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := m.Search(context.Background(), []float32{1},
		mustFilter(t, map[string]any{"count": 3.0}), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("int payload should match float query: %v", hits)
	}
}

func TestMemoryInvalidRegex(t *testing.T) {
	m := seedIndex(t)
	_, err := m.Search(context.Background(), []float32{1, 1},
		mustFilter(t, map[string]any{"type": map[string]any{"$regex": "("}}), 0)
	if err == nil {
		t.Error("invalid regex should fail the search")
	}
}

func TestMemoryDeleteAndIDs(t *testing.T) {
	m := seedIndex(t)
	ctx := context.Background()

	if err := m.Delete(ctx, 2); err != nil {
		t.Fatal(err)
	}
	ids, err := m.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("IDs = %v", ids)
	}
	n, err := m.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("Count = (%d, %v)", n, err)
	}
}

func TestCosineDegenerate(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched dimensions = %v", got)
	}
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector = %v", got)
	}
}
