package history

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Sink] and makes Insert non-fatal. If the underlying sink
// fails, the error is logged and swallowed so that a database outage never
// disturbs the request path. The IsDegraded method reports whether the sink
// is currently experiencing failures.
//
// All methods are safe for concurrent use.
type Guard struct {
	sink     Sink
	degraded atomic.Bool
}

// Compile-time interface check.
var _ Sink = (*Guard)(nil)

// NewGuard creates a [Guard] wrapping the given sink.
func NewGuard(sink Sink) *Guard {
	return &Guard{sink: sink}
}

// Insert attempts to persist the attempt. On failure the error is logged and
// swallowed; the sink is marked as degraded. On success the degraded flag is
// cleared.
func (g *Guard) Insert(ctx context.Context, a Attempt) error {
	if err := g.sink.Insert(ctx, a); err != nil {
		g.degraded.Store(true)
		slog.Warn("history guard: Insert failed, swallowing error",
			"to_key", a.ToConfig.Key(),
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent Insert on the underlying sink
// failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
