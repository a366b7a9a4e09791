// Package storage persists the core entities: contributor,
// vehicle_journey, trip_update, stop_time_update, real_time_update, and
// their association table, behind a Storage interface with Postgres,
// SQLite and in-memory backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hove-io/kirin-go/model"
)

// ErrNotFound is returned by lookups that find nothing, distinct from a
// genuine storage failure.
var ErrNotFound = errors.New("storage: not found")

// IsNotFound reports whether err (or its wrapped chain) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Storage is the persistence contract the merger and probe/retention
// jobs depend on.
type Storage interface {
	// GetTripUpdate loads the current persisted TripUpdate for a dated
	// trip, or ErrNotFound if none exists yet.
	GetTripUpdate(ctx context.Context, navitiaTripID string, startTimestamp time.Time) (*model.TripUpdate, error)

	// SaveTripUpdate inserts or replaces a TripUpdate and its
	// StopTimeUpdates and VehicleJourney, all under one transaction.
	SaveTripUpdate(ctx context.Context, tu *model.TripUpdate) error

	// ListTripUpdates returns every currently persisted TripUpdate, used
	// by the publisher to build a full differential FeedMessage.
	ListTripUpdates(ctx context.Context) ([]*model.TripUpdate, error)

	// DeleteTripUpdatesOlderThan purges TripUpdates (cascading to their
	// VehicleJourney and StopTimeUpdates) for contributor older than
	// before.
	DeleteTripUpdatesOlderThan(ctx context.Context, contributor string, before time.Time) (int, error)

	// SaveRealTimeUpdate inserts a new RealTimeUpdate receipt.
	SaveRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error

	// UpdateRealTimeUpdate updates an existing RealTimeUpdate's mutable
	// fields (status, error).
	UpdateRealTimeUpdate(ctx context.Context, ru *model.RealTimeUpdate) error

	// FindRecentErrorReceipt looks up an existing KO RealTimeUpdate for
	// contributor received within window of now, used for error-receipt
	// deduplication. Returns ErrNotFound if none.
	FindRecentErrorReceipt(ctx context.Context, contributor string, errMessage string, now time.Time, window time.Duration) (*model.RealTimeUpdate, error)

	// AssociateRealTimeUpdate records that ru produced/touched the
	// TripUpdate identified by vjID.
	AssociateRealTimeUpdate(ctx context.Context, realTimeUpdateID, vjID string) error

	// DeleteUnassociatedRealTimeUpdatesOlderThan purges RealTimeUpdates
	// for connector that were never associated with any TripUpdate and
	// predate before.
	DeleteUnassociatedRealTimeUpdatesOlderThan(ctx context.Context, connector model.ConnectorType, before time.Time) (int, error)

	// ContributorProbe reports the per-contributor probe fields.
	ContributorProbe(ctx context.Context, contributor string) (ProbeReport, error)
}

// ProbeReport is the per-contributor health summary the probe endpoint
// exposes.
type ProbeReport struct {
	Contributor     string
	LastUpdate      time.Time
	LastValidUpdate time.Time
	LastUpdateError string
}
