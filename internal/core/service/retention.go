package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/pkg/logger"
)

// Retention garbage-collects entities whose AddedAt fell out of the
// configured window. It works from the authoritative static partition, not
// the mirror, so a freshly started process sweeps correctly.
type Retention struct {
	engine *Engine
	log    *logger.Logger
	window time.Duration
}

func NewRetention(engine *Engine, log *logger.Logger, window time.Duration) *Retention {
	if log == nil {
		log = logger.Nop()
	}
	return &Retention{engine: engine, log: log, window: window}
}

// Sweep removes every expired entity and returns how many were removed.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	if r.window <= 0 {
		return 0, nil
	}
	now, err := r.engine.store.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-r.window)

	statics, err := r.engine.store.ReadChildren(ctx, staticPartitionPath)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}

	removed := 0
	for id, raw := range statics {
		var static domain.StaticFields
		if err := json.Unmarshal(raw, &static); err != nil {
			r.log.Error(ctx, "retention sweep: undecodable static record "+id, err)
			continue
		}
		if static.AddedAt.IsZero() || !static.AddedAt.Before(cutoff) {
			continue
		}
		if err := r.engine.Unregister(ctx, id); err != nil {
			r.log.Error(r.log.WithEntityID(ctx, id), "retention sweep: remove failed", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.log.Info(ctx, fmt.Sprintf("retention sweep removed %d expired entities", removed))
	}
	return removed, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Retention) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error(ctx, "retention sweep failed", err)
			}
		}
	}
}
