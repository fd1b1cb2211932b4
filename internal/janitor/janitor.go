package janitor

import (
	"context"
	"log/slog"
	"time"

	"async-task-api/internal/ratelimit"
	"async-task-api/internal/store"
	"async-task-api/internal/telemetry"
)

// Janitor periodically evicts terminal tasks past the retention window and
// reclaims idle rate-limiter buckets. It is best-effort grooming: a late pass
// only delays memory reclamation.
type Janitor struct {
	store     *store.Store
	limiter   *ratelimit.SlidingWindow
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func New(st *store.Store, limiter *ratelimit.SlidingWindow, interval, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:     st,
		limiter:   limiter,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep performs one grooming pass.
func (j *Janitor) Sweep() {
	evicted := j.store.Sweep(j.retention)
	stale := j.limiter.Sweep()
	telemetry.TrackedGauge.Set(float64(j.store.Len()))
	if evicted > 0 || stale > 0 {
		j.logger.Info("janitor sweep",
			"evicted_tasks", evicted,
			"stale_rate_buckets", stale)
	}
}
