// Package model holds the canonical per-trip disruption entities that every
// connector (gtfsrt, cots) builds and that merge persists and republishes.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ModificationType is the persisted modification_type enum. It describes how
// a single stop event (arrival or departure) or an entire trip differs from
// base schedule.
type ModificationType string

const (
	ModificationNone             ModificationType = "none"
	ModificationUpdate           ModificationType = "update"
	ModificationAdd              ModificationType = "add"
	ModificationAddedForDetour   ModificationType = "added_for_detour"
	ModificationDelete           ModificationType = "delete"
	ModificationDeletedForDetour ModificationType = "deleted_for_detour"
)

// statusRank orders ModificationType by severity, used to track the
// highest-severity stop status seen while building a trip update.
var statusRank = map[ModificationType]int{
	ModificationNone:             0,
	ModificationUpdate:           1,
	ModificationAdd:              2,
	ModificationAddedForDetour:   2,
	ModificationDeletedForDetour: 3,
	ModificationDelete:           4,
}

// HigherStatus returns whichever of a, b ranks as more severe.
func HigherStatus(a, b ModificationType) ModificationType {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// TripEffect is the persisted trip_effect enum, the GTFS-RT Alert.Effect
// vocabulary used to describe what a disruption does to a trip overall.
type TripEffect string

const (
	EffectNoService          TripEffect = "NO_SERVICE"
	EffectReducedService     TripEffect = "REDUCED_SERVICE"
	EffectSignificantDelays  TripEffect = "SIGNIFICANT_DELAYS"
	EffectDetour             TripEffect = "DETOUR"
	EffectAdditionalService  TripEffect = "ADDITIONAL_SERVICE"
	EffectModifiedService    TripEffect = "MODIFIED_SERVICE"
	EffectOtherEffect        TripEffect = "OTHER_EFFECT"
	EffectUnknownEffect      TripEffect = "UNKNOWN_EFFECT"
	EffectStopMoved          TripEffect = "STOP_MOVED"
)

// EffectByStopStatus maps the highest ModificationType observed across a
// trip's stop events to the TripEffect that gets published for it.
func EffectByStopStatus(highest ModificationType) TripEffect {
	switch highest {
	case ModificationDelete:
		return EffectNoService
	case ModificationDeletedForDetour, ModificationAddedForDetour:
		return EffectDetour
	case ModificationAdd:
		return EffectAdditionalService
	case ModificationUpdate:
		return EffectSignificantDelays
	default:
		return EffectUnknownEffect
	}
}

// ConnectorType names the feed dialect that produced a RealTimeUpdate.
type ConnectorType string

const (
	ConnectorCOTS    ConnectorType = "cots"
	ConnectorGTFSRT  ConnectorType = "gtfs-rt"
)

// RTStatus is the lifecycle status of a RealTimeUpdate receipt.
type RTStatus string

const (
	RTStatusOK      RTStatus = "OK"
	RTStatusKO      RTStatus = "KO"
	RTStatusPending RTStatus = "pending"
)

// Contributor models a feeder for a specific navitia coverage.
type Contributor struct {
	ID              string
	NavitiaCoverage string
	NavitiaToken    string
	FeedURL         string
	ConnectorType   ConnectorType
	StopCodeKey     string
}

// VehicleJourney is a base-schedule vehicle journey dated to a specific
// circulation day: a navitia trip id plus the UTC timestamp of its first
// stop. All timestamps are naive UTC (no location attached) by contract.
type VehicleJourney struct {
	ID             string
	NavitiaTripID  string
	StartTimestamp time.Time
}

// NewVehicleJourney resolves the dated circulation implied by a navitia trip
// id and a first-stop time, choosing the occurrence closest to (and after)
// since.
func NewVehicleJourney(navitiaTripID string, since, until time.Time, firstStopLocalTime time.Time) (*VehicleJourney, error) {
	if since.Location().String() != "UTC" {
		return nil, errNotNaiveUTC
	}
	if until.Location().String() != "UTC" {
		return nil, errNotNaiveUTC
	}

	start := time.Date(since.Year(), since.Month(), since.Day(),
		firstStopLocalTime.Hour(), firstStopLocalTime.Minute(), firstStopLocalTime.Second(), 0, time.UTC)
	if start.Before(since) {
		start = start.AddDate(0, 0, 1)
	}
	if start.After(until) {
		return nil, errOutsideWindow
	}

	return &VehicleJourney{
		ID:             uuid.NewString(),
		NavitiaTripID:  navitiaTripID,
		StartTimestamp: start,
	}, nil
}

// NewAddedVehicleJourney builds a VehicleJourney for a trip that has no base
// schedule (an ADDED trip), where the feed itself supplies the start time.
func NewAddedVehicleJourney(navitiaTripID string, start time.Time) *VehicleJourney {
	return &VehicleJourney{
		ID:             uuid.NewString(),
		NavitiaTripID:  navitiaTripID,
		StartTimestamp: start,
	}
}

// UTCCirculationDate is the calendar date (in UTC) the vehicle journey is
// considered to run on, used for the GTFS-RT trip.start_date field.
func (vj *VehicleJourney) UTCCirculationDate() time.Time {
	return time.Date(vj.StartTimestamp.Year(), vj.StartTimestamp.Month(), vj.StartTimestamp.Day(), 0, 0, 0, 0, time.UTC)
}

// StopEvent holds one side (arrival or departure) of a stop time update.
type StopEvent struct {
	Time   time.Time
	Delay  time.Duration
	Status ModificationType
}

// StopTimeUpdate is one stop visit within a TripUpdate.
type StopTimeUpdate struct {
	ID        string
	Order     int
	StopID    string
	Message   string
	Departure StopEvent
	Arrival   StopEvent
}

// IsNotEqual reports whether st differs from other in any field that
// matters for no-op detection.
func (st *StopTimeUpdate) IsNotEqual(other *StopTimeUpdate) bool {
	if other == nil {
		return true
	}
	return st.StopID != other.StopID ||
		st.Message != other.Message ||
		st.Order != other.Order ||
		!st.Departure.Time.Equal(other.Departure.Time) ||
		st.Departure.Delay != other.Departure.Delay ||
		st.Departure.Status != other.Departure.Status ||
		!st.Arrival.Time.Equal(other.Arrival.Time) ||
		st.Arrival.Delay != other.Arrival.Delay ||
		st.Arrival.Status != other.Arrival.Status
}

// IsStopEventDeleted reports whether the given event's status marks it as
// removed from the trip (delete or deleted_for_detour).
func IsStopEventDeleted(status ModificationType) bool {
	return status == ModificationDelete || status == ModificationDeletedForDetour
}

// IsStopEventAdded reports whether the given event's status marks it as
// newly introduced (add or added_for_detour).
func IsStopEventAdded(status ModificationType) bool {
	return status == ModificationAdd || status == ModificationAddedForDetour
}

// TripUpdate holds the complete merged real-time picture for one dated
// vehicle journey: the base VJ plus every stop time update accumulated from
// all feeds seen for it so far.
type TripUpdate struct {
	VJID            string
	VJ              *VehicleJourney
	Status          ModificationType
	Message         string
	Contributor     string
	CompanyID       string
	Effect          TripEffect
	PhysicalModeID  string
	Headsign        string
	StopTimeUpdates []*StopTimeUpdate
}

// NewTripUpdate starts a fresh TripUpdate for a vehicle journey.
func NewTripUpdate(vj *VehicleJourney, contributor string) *TripUpdate {
	return &TripUpdate{
		VJID:        vj.ID,
		VJ:          vj,
		Status:      ModificationNone,
		Contributor: contributor,
	}
}

// FindStop looks up a stop_time_update by stop id, preferring the entry at
// the given order but falling back to the first matching stop id -- the
// "lollipop" lookup used when a trip visits a stop more than once.
func (tu *TripUpdate) FindStop(stopID string, order *int) *StopTimeUpdate {
	if order != nil {
		for _, st := range tu.StopTimeUpdates {
			if st.StopID == stopID && st.Order == *order {
				return st
			}
		}
	}
	for _, st := range tu.StopTimeUpdates {
		if st.StopID == stopID {
			return st
		}
	}
	return nil
}

// RealTimeUpdate records one raw feed receipt: what was received, from
// which connector/contributor, and whether it decoded cleanly.
type RealTimeUpdate struct {
	ID          string
	ReceivedAt  time.Time
	Connector   ConnectorType
	Status      RTStatus
	Error       string
	RawData     []byte
	Contributor string
}

// NewRealTimeUpdate builds a RealTimeUpdate receipt for freshly-received raw
// feed data, not yet persisted or associated with any TripUpdate.
func NewRealTimeUpdate(raw []byte, connector ConnectorType, contributor string) *RealTimeUpdate {
	return &RealTimeUpdate{
		ID:          uuid.NewString(),
		RawData:     raw,
		Connector:   connector,
		Status:      RTStatusOK,
		Contributor: contributor,
		ReceivedAt:  time.Now().UTC(),
	}
}
