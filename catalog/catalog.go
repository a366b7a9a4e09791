// Package catalog is the thin contract over the external navitia-like
// timetable service that the model builders resolve base schedules
// against: given a trip code and a UTC window, it returns zero or more
// baseline vehicle journeys.
package catalog

import (
	"context"
	"time"
)

// ExternalCode is a (type, value) pair a stop point carries, e.g.
// ("source", "StopR1"). The gtfsrt builder validates feed stop ids
// against the code of the contributor's configured key.
type ExternalCode struct {
	Type  string
	Value string
}

// StopTime is one ordered stop visit within a baseline VehicleJourney.
type StopTime struct {
	// StopPointID is the navitia stop point id.
	StopPointID string

	// Codes are the external codes carried by the stop point, keyed by
	// Type for lookup (e.g. the "source" code the gtfsrt builder
	// matches feed stop ids against).
	Codes []ExternalCode

	// Timezone is the stop area's IANA timezone name, used to resolve
	// the stop's local arrival/departure wall-clock time to UTC.
	Timezone string

	// ArrivalTime/DepartureTime are local wall-clock times of day
	// (hour/min/sec only matter; date is resolved against the
	// VehicleJourney's circulation day).
	ArrivalTime   time.Duration
	DepartureTime time.Duration

	// ArrivalIsSet/DepartureIsSet tell apart "no arrival at this stop"
	// (first stop of a trip, typically) from a zero time of day.
	ArrivalIsSet   bool
	DepartureIsSet bool
}

// Code returns the value of the external code of the given type, and
// whether one was present.
func (st StopTime) Code(codeType string) (string, bool) {
	for _, c := range st.Codes {
		if c.Type == codeType {
			return c.Value, true
		}
	}
	return "", false
}

// VehicleJourney is a baseline schedule run as returned by the catalog:
// an id and its ordered stop times. Distinct from model.VehicleJourney,
// which is the dated instance the core builds from one of these.
type VehicleJourney struct {
	ID        string
	StopTimes []StopTime
}

// FirstStopTime returns the arrival time of the first stop, falling back
// to its departure time if no arrival is set; this is the anchor for a
// dated journey's start timestamp.
func (vj VehicleJourney) FirstStopTime() (time.Duration, bool) {
	if len(vj.StopTimes) == 0 {
		return 0, false
	}
	first := vj.StopTimes[0]
	if first.ArrivalIsSet {
		return first.ArrivalTime, true
	}
	if first.DepartureIsSet {
		return first.DepartureTime, true
	}
	return 0, false
}

// Client resolves trip codes to baseline vehicle journeys.
type Client interface {
	// FindVehicleJourneys returns the baseline VJs whose first stop
	// time falls in [sinceUTC, untilUTC], matched by external code.
	FindVehicleJourneys(ctx context.Context, codeType, code string, sinceUTC, untilUTC time.Time) ([]VehicleJourney, error)

	// PublicationDate returns an opaque string used as a cache key for
	// memoization; it changes whenever the catalog's underlying data
	// publication changes.
	PublicationDate(ctx context.Context) (string, error)
}
