// Package publish serialises merged TripUpdates into a GTFS-RT
// FeedMessage and republishes it to the downstream bus.
package publish

import (
	"context"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/timeutil"
)

// Publisher fire-and-forgets a serialised Message to the downstream bus.
type Publisher interface {
	Publish(ctx context.Context, tripUpdates []*model.TripUpdate) error
}

// Message is what actually goes out over the bus: the standard GTFS-RT
// FeedMessage (trip_id, start_date, per-stop time/delay -- the fields a
// generic GTFS-RT consumer understands) plus the navitia-specific
// fields to propagate alongside (effect, message, company_id,
// physical_mode_id, headsign, contributor_id, and the per-stop legacy
// status fields). The navitia ecosystem carries the latter as custom
// protobuf extensions on a forked gtfs-realtime.proto; without the
// fork's generated Go extension types available as a fetchable module,
// they travel alongside the standard feed as a parallel, index-aligned
// slice instead of literal wire extensions (see DESIGN.md).
type Message struct {
	Feed       *gtfsproto.FeedMessage
	TripExtras []TripExtension
}

// TripExtension carries one TripUpdate's navitia-specific fields;
// EntityID is the same vj_id FeedEntity.Id was built with.
type TripExtension struct {
	EntityID       string
	Effect         string
	Message        string
	CompanyID      string
	PhysicalModeID string
	Headsign       string
	ContributorID  string
	Stops          []StopExtension
}

// StopExtension carries one StopTimeUpdate's legacy
// stop_time_event_relationship/stop_time_event_status extension fields.
type StopExtension struct {
	Order                 int
	ArrivalRelationship   string
	ArrivalStatus         string
	DepartureRelationship string
	DepartureStatus       string
}

// scheduleRelationshipFor maps a TripUpdate's overall status to the
// GTFS-RT trip-level schedule relationship.
func scheduleRelationshipFor(status model.ModificationType) gtfsproto.TripDescriptor_ScheduleRelationship {
	if status == model.ModificationDelete {
		return gtfsproto.TripDescriptor_CANCELED
	}
	return gtfsproto.TripDescriptor_SCHEDULED
}

// stopTimeEventRelationshipFor maps a per-event ModificationType to the
// legacy GTFS-RT stop_time_event_relationship extension vocabulary.
func stopTimeEventRelationshipFor(status model.ModificationType) string {
	switch status {
	case model.ModificationDelete, model.ModificationDeletedForDetour:
		return "SKIPPED"
	case model.ModificationAdd, model.ModificationAddedForDetour:
		return "ADDED"
	default:
		return "SCHEDULED"
	}
}

// Serialize builds the outgoing GTFS-RT FeedMessage:
// DIFFERENTIAL incrementality, one entity per TripUpdate keyed by
// vj_id, with its core fields (trip_id, start_date, schedule
// relationship, per-stop time/delay) natively populated and the
// navitia-specific fields carried in the companion TripExtras.
func Serialize(tripUpdates []*model.TripUpdate, nowUTCPosix int64) Message {
	version := "1"
	incrementality := gtfsproto.FeedHeader_DIFFERENTIAL
	timestamp := uint64(nowUTCPosix)

	feed := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: &version,
			Incrementality:      &incrementality,
			Timestamp:           &timestamp,
		},
	}

	msg := Message{Feed: feed}

	for _, tu := range tripUpdates {
		entity, extra := entityFor(tu)
		feed.Entity = append(feed.Entity, entity)
		msg.TripExtras = append(msg.TripExtras, extra)
	}

	return msg
}

func entityFor(tu *model.TripUpdate) (*gtfsproto.FeedEntity, TripExtension) {
	id := tu.VJID
	tripID := tu.VJ.NavitiaTripID
	startDate := tu.VJ.UTCCirculationDate().Format("20060102")
	scheduleRelationship := scheduleRelationshipFor(tu.Status)

	pb := &gtfsproto.TripUpdate{
		Trip: &gtfsproto.TripDescriptor{
			TripId:               &tripID,
			StartDate:            &startDate,
			ScheduleRelationship: &scheduleRelationship,
		},
	}

	extra := TripExtension{
		EntityID:       id,
		Effect:         string(tu.Effect),
		Message:        tu.Message,
		CompanyID:      tu.CompanyID,
		PhysicalModeID: tu.PhysicalModeID,
		Headsign:       tu.Headsign,
		ContributorID:  tu.Contributor,
	}

	for _, st := range tu.StopTimeUpdates {
		pb.StopTimeUpdate = append(pb.StopTimeUpdate, stopTimeUpdateFor(st))
		extra.Stops = append(extra.Stops, StopExtension{
			Order:                 st.Order,
			ArrivalRelationship:   stopTimeEventRelationshipFor(st.Arrival.Status),
			ArrivalStatus:         string(st.Arrival.Status),
			DepartureRelationship: stopTimeEventRelationshipFor(st.Departure.Status),
			DepartureStatus:       string(st.Departure.Status),
		})
	}

	return &gtfsproto.FeedEntity{Id: &id, TripUpdate: pb}, extra
}

func stopTimeUpdateFor(st *model.StopTimeUpdate) *gtfsproto.TripUpdate_StopTimeUpdate {
	order := uint32(st.Order)
	stopID := st.StopID

	pb := &gtfsproto.TripUpdate_StopTimeUpdate{
		StopSequence: &order,
		StopId:       &stopID,
	}
	if st.Arrival.Status != model.ModificationNone || !st.Arrival.Time.IsZero() {
		pb.Arrival = eventFor(st.Arrival)
	}
	if st.Departure.Status != model.ModificationNone || !st.Departure.Time.IsZero() {
		pb.Departure = eventFor(st.Departure)
	}

	return pb
}

func eventFor(ev model.StopEvent) *gtfsproto.TripUpdate_StopTimeEvent {
	t := timeutil.ToPosixTime(ev.Time)
	delay := int32(ev.Delay.Seconds())
	return &gtfsproto.TripUpdate_StopTimeEvent{
		Time:  &t,
		Delay: &delay,
	}
}
