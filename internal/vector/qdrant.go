package vector

import (
	"context"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/nextlevelbuilder/agentmesh/internal/filter"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

const defaultCollection = "agentmesh_messages"

// Qdrant implements Index over a Qdrant gRPC endpoint. Point ids are the
// relational message ids, so dual-write and resync need no id mapping.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant connects to Qdrant and ensures the collection exists with
// cosine distance and cfg.Dimension-sized vectors.
func NewQdrant(cfg Config) (*Qdrant, error) {
	if cfg.Dimension <= 0 {
		return nil, store.InvalidArgumentf("qdrant index requires a vector dimension")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, store.Unavailablef("qdrant connect: %v", err)
	}

	q := &Qdrant{client: client, collection: collection, dimension: cfg.Dimension}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return store.Unavailablef("qdrant collection check: %v", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return store.Unavailablef("qdrant create collection: %v", err)
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for key, value := range p.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return store.InvalidArgumentf("payload value for %s: %v", key, err)
			}
			payload[key] = val
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         structs,
	})
	if err != nil {
		return store.Unavailablef("qdrant upsert: %v", err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, vec []float32, f filter.Node, limit int) ([]Hit, error) {
	var pred *qdrant.Filter
	if f != nil {
		var err error
		pred, err = filter.Qdrant(f)
		if err != nil {
			return nil, err
		}
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Filter:         pred,
		Limit:          qdrant.PtrOf(uint64(limit)),
	})
	if err != nil {
		return nil, store.Unavailablef("qdrant search: %v", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		num, ok := r.Id.PointIdOptions.(*qdrant.PointId_Num)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: int64(num.Num), Score: r.Score})
	}
	return hits, nil
}

func (q *Qdrant) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDNum(uint64(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return store.Unavailablef("qdrant delete: %v", err)
	}
	return nil
}

func (q *Qdrant) Count(ctx context.Context) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, store.Unavailablef("qdrant count: %v", err)
	}
	return n, nil
}

// IDs scrolls the whole collection, payload and vectors excluded. Used
// by resync to diff the index against the relational table.
func (q *Qdrant) IDs(ctx context.Context) ([]int64, error) {
	var (
		ids    []int64
		offset *qdrant.PointId
	)
	points := q.client.GetPointsClient()

	for {
		resp, err := points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Limit:          qdrant.PtrOf(uint32(1000)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, store.Unavailablef("qdrant scroll: %v", err)
		}
		for _, p := range resp.Result {
			if num, ok := p.Id.PointIdOptions.(*qdrant.PointId_Num); ok {
				ids = append(ids, int64(num.Num))
			}
		}
		if resp.NextPageOffset == nil {
			return ids, nil
		}
		offset = resp.NextPageOffset
	}
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func errUnknownBackend(name string) error {
	return store.InvalidArgumentf("unknown vector backend %q", name)
}
