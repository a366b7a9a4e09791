// Package retention runs the periodic purge jobs: per-contributor
// expiry of TripUpdates (and their VehicleJourney/
// StopTimeUpdate rows), and per-connector expiry of RealTimeUpdates that
// were never associated with any TripUpdate.
package retention

import (
	"context"
	"time"

	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/storage"
	"github.com/hove-io/kirin-go/telemetry"
)

// DefaultInterval is how often the retention loop wakes up to check
// whether any contributor's TripUpdates have aged out.
const DefaultInterval = 1 * time.Hour

// Runner periodically purges aged TripUpdates and unassociated
// RealTimeUpdates, one tick per Interval, until its context is done.
type Runner struct {
	Storage      storage.Storage
	Contributors []config.ContributorConfig
	Connectors   []model.ConnectorType

	// UnassociatedRetention bounds how long an unassociated
	// RealTimeUpdate survives, per connector.
	UnassociatedRetention time.Duration

	Interval time.Duration
	Log      telemetry.Logger
}

// Run blocks, purging on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	interval := r.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.purgeOnce(ctx)
		}
	}
}

// RunOnce purges once and returns, for one-shot CLI invocation (e.g. a
// "purge" subcommand run from cron rather than this package's own
// ticker loop).
func (r *Runner) RunOnce(ctx context.Context) {
	r.purgeOnce(ctx)
}

func (r *Runner) purgeOnce(ctx context.Context) {
	now := time.Now().UTC()

	for _, c := range r.Contributors {
		retention := c.RetentionPeriod
		if retention == 0 {
			continue
		}
		n, err := r.Storage.DeleteTripUpdatesOlderThan(ctx, c.ID, now.Add(-retention))
		if err != nil {
			r.Log.Error("purging trip updates failed", err, "contributor", c.ID)
			continue
		}
		if n > 0 {
			r.Log.Info("purged trip updates", "contributor", c.ID, "count", n)
		}
	}

	if r.UnassociatedRetention <= 0 {
		return
	}
	for _, connector := range r.Connectors {
		n, err := r.Storage.DeleteUnassociatedRealTimeUpdatesOlderThan(ctx, connector, now.Add(-r.UnassociatedRetention))
		if err != nil {
			r.Log.Error("purging unassociated real time updates failed", err, "connector", connector)
			continue
		}
		if n > 0 {
			r.Log.Info("purged unassociated real time updates", "connector", connector, "count", n)
		}
	}
}
