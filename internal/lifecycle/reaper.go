package lifecycle

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/config"
)

// Reaper periodically deletes jobs older than the configured retention age.
type Reaper struct {
	svc      *Service
	maxAge   time.Duration
	interval time.Duration
}

// NewReaper creates a Reaper for svc.
func NewReaper(svc *Service, cfg config.RetentionConfig) *Reaper {
	return &Reaper{svc: svc, maxAge: cfg.MaxAge, interval: cfg.Interval}
}

// Sweep deletes every job created more than maxAge ago.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.svc.now().UTC().Add(-r.maxAge)
	return r.svc.DeleteAllJobsCreatedBeforeDate(ctx, cutoff)
}

// Run sweeps once immediately and then on every interval until ctx is done.
// Sweep failures are logged; the next tick tries again.
func (r *Reaper) Run(ctx context.Context) {
	r.svc.logger.Info("retention reaper started", "max_age", r.maxAge, "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if n, err := r.Sweep(ctx); err != nil {
			r.svc.logger.Error("retention sweep failed", "deleted", n, "error", err)
		}

		select {
		case <-ctx.Done():
			r.svc.logger.Info("retention reaper stopped")
			return
		case <-ticker.C:
		}
	}
}
