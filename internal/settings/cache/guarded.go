package cache

import (
	"context"
	"log/slog"

	"setman/pkg/platform/circuit"
)

// Guarded wraps a shared cache with a circuit breaker. While the circuit is
// open reads report a miss and fills are dropped, so callers go straight to
// the record store. Deletes always reach the primary: a skipped invalidation
// would leave a stale entry behind once it recovers.
type Guarded struct {
	primary Cache
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(primary Cache, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guarded{primary: primary, breaker: breaker, logger: logger}
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !g.breaker.Allow() {
		return nil, false, nil
	}
	v, ok, err := g.primary.Get(ctx, key)
	g.record(ctx, err)
	return v, ok, err
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte) error {
	if !g.breaker.Allow() {
		return nil
	}
	err := g.primary.Set(ctx, key, value)
	g.record(ctx, err)
	return err
}

func (g *Guarded) Delete(ctx context.Context, key string) error {
	err := g.primary.Delete(ctx, key)
	g.record(ctx, err)
	return err
}

func (g *Guarded) Contains(ctx context.Context, key string) (bool, error) {
	if !g.breaker.Allow() {
		return false, nil
	}
	ok, err := g.primary.Contains(ctx, key)
	g.record(ctx, err)
	return ok, err
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "resolution cache circuit opened", "breaker", g.breaker.Name(), "error", err)
		}
		return
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "resolution cache circuit closed", "breaker", g.breaker.Name())
	}
}
