// Package broker is the unified façade over stores, permissions, the
// filter compiler, the vector index and the event bus. Every public
// operation validates input, resolves permission through the store
// primitives, commits, and only then touches the index and the bus, so
// observers never see state the database does not have.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentmesh/internal/bus"
	"github.com/nextlevelbuilder/agentmesh/internal/embedder"
	"github.com/nextlevelbuilder/agentmesh/internal/search"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
	"github.com/nextlevelbuilder/agentmesh/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
)

// defaultQueryTimeout bounds queries whose caller supplied no deadline.
// Event streams are exempt.
const defaultQueryTimeout = 30 * time.Second

// retry policy for ErrUnavailable (busy writer, index hiccup).
const (
	retryAttempts = 3
	retryBase     = 100 * time.Millisecond
)

// Options configures a Broker.
type Options struct {
	// DBPath is the SQLite database file. Empty means in-memory.
	DBPath string

	// Readers sizes the read pool; 0 uses the store default.
	Readers int

	// Index is the vector backend; nil disables semantic search.
	Index vector.Index

	// Embed computes embeddings; nil disables semantic search.
	Embed embedder.Embedder

	// MetadataKeys is the metadata subset copied into vector payloads.
	MetadataKeys []string
}

// Broker is the façade. Safe for concurrent use.
type Broker struct {
	db     *sqlite.DB
	stores *store.Stores
	index  vector.Index
	embed  embedder.Embedder
	engine *search.Engine
	events *bus.Bus
	tracer trace.Tracer

	metadataKeys []string
}

// Open assembles a ready broker. The store migrates itself on open.
func Open(opts Options) (*Broker, error) {
	var (
		db  *sqlite.DB
		err error
	)
	if opts.DBPath == "" {
		db, err = sqlite.OpenMemory()
	} else {
		db, err = sqlite.Open(opts.DBPath, opts.Readers)
	}
	if err != nil {
		return nil, err
	}

	stores := sqlite.NewStores(db)
	b := &Broker{
		db:           db,
		stores:       stores,
		index:        opts.Index,
		embed:        opts.Embed,
		events:       bus.New(),
		tracer:       otel.Tracer("agentmesh/broker"),
		metadataKeys: opts.MetadataKeys,
	}
	b.engine = &search.Engine{
		Messages: stores.Messages,
		Embed:    opts.Embed,
		Index:    opts.Index,
	}
	return b, nil
}

// Close releases the database and the vector client.
func (b *Broker) Close() error {
	var firstErr error
	if b.index != nil {
		if err := b.index.Close(); err != nil {
			firstErr = err
		}
	}
	if err := b.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stores exposes the raw store container for administrative callers
// (reconciler, CLI). Permission checks are bypassed at this level.
func (b *Broker) Stores() *store.Stores { return b.stores }

// Events exposes the bus for stream subscribers.
func (b *Broker) Events() *bus.Bus { return b.events }

// queryCtx applies the default deadline when the caller supplied none.
func queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// retry runs fn, retrying ErrUnavailable with jittered exponential
// backoff. Everything else surfaces immediately.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		delay := retryBase<<attempt + time.Duration(rand.Int63n(int64(retryBase)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// publish taps one event onto the bus after commit.
func (b *Broker) publish(kind, entityType, entityID, channelID string, payload any) {
	b.events.Publish(bus.Event{
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		ChannelID:  channelID,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

func (b *Broker) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name)
}

func logIndexFailure(op string, id int64, err error) {
	slog.Warn("vector.write_failed", "op", op, "message_id", id, "error", err)
}
