package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// RecordSession stores (or refreshes) a session. Sessions are opaque to
// the broker: they exist to attribute hook-originated tool calls to a
// project context, nothing reads them on the hot path.
func (b *Broker) RecordSession(ctx context.Context, s *store.Session) error {
	return retry(ctx, func() error { return b.stores.Sessions.PutSession(ctx, s) })
}

// RecordToolCall stores one tool invocation under its session.
func (b *Broker) RecordToolCall(ctx context.Context, tc *store.ToolCall) error {
	return retry(ctx, func() error { return b.stores.Sessions.PutToolCall(ctx, tc) })
}

// Session fetches one session.
func (b *Broker) Session(ctx context.Context, id string) (*store.Session, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Sessions.GetSession(ctx, id)
}

// ToolCalls lists a session's recorded invocations.
func (b *Broker) ToolCalls(ctx context.Context, sessionID string) ([]*store.ToolCall, error) {
	ctx, cancel := queryCtx(ctx)
	defer cancel()
	return b.stores.Sessions.ListToolCalls(ctx, sessionID)
}

// PurgeSessions removes expired sessions and their tool calls.
func (b *Broker) PurgeSessions(ctx context.Context) (int64, error) {
	return b.stores.Sessions.PurgeExpired(ctx, time.Now())
}

// RunSessionPurge blocks, purging on the given cron schedule until the
// context is cancelled. The schedule is validated by config load.
func (b *Broker) RunSessionPurge(ctx context.Context, schedule string) error {
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return store.InvalidArgumentf("invalid purge schedule %q", schedule)
	}

	for {
		next, err := gronx.NextTick(schedule, false)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		n, err := b.PurgeSessions(ctx)
		if err != nil {
			slog.Warn("sessions.purge_failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("sessions.purged", "count", n)
		}
	}
}
