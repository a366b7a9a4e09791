package publish

import (
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/hove-io/kirin-go/model"
)

func publishedTripUpdate() *model.TripUpdate {
	// Baseline start 23:30 UTC on June 15th: the dated trip spans two
	// civil days, but start_date must stay on the 15th.
	vj := model.NewAddedVehicleJourney("R:vj1", time.Date(2012, 6, 15, 23, 30, 0, 0, time.UTC))
	tu := model.NewTripUpdate(vj, "realtime.test")
	tu.Status = model.ModificationUpdate
	tu.Effect = model.EffectSignificantDelays
	tu.Headsign = "Montreal"
	tu.StopTimeUpdates = []*model.StopTimeUpdate{
		{
			Order:  0,
			StopID: "sp:R1",
			Arrival: model.StopEvent{
				Time:   time.Date(2012, 6, 15, 23, 31, 0, 0, time.UTC),
				Delay:  60 * time.Second,
				Status: model.ModificationUpdate,
			},
			Departure: model.StopEvent{
				Time:   time.Date(2012, 6, 15, 23, 31, 0, 0, time.UTC),
				Delay:  60 * time.Second,
				Status: model.ModificationUpdate,
			},
		},
		{
			Order:  1,
			StopID: "sp:R2",
			Arrival: model.StopEvent{
				Time:   time.Date(2012, 6, 16, 0, 2, 30, 0, time.UTC),
				Delay:  150 * time.Second,
				Status: model.ModificationUpdate,
			},
			Departure: model.StopEvent{
				Time:   time.Date(2012, 6, 16, 0, 2, 30, 0, time.UTC),
				Delay:  150 * time.Second,
				Status: model.ModificationUpdate,
			},
		},
	}
	return tu
}

func TestSerializeRoundTrip(t *testing.T) {
	tu := publishedTripUpdate()
	now := time.Date(2012, 6, 16, 1, 0, 0, 0, time.UTC).Unix()

	msg := Serialize([]*model.TripUpdate{tu}, now)

	raw, err := proto.Marshal(msg.Feed)
	require.NoError(t, err)

	parsed := &gtfsproto.FeedMessage{}
	require.NoError(t, proto.Unmarshal(raw, parsed))

	assert.Equal(t, "1", parsed.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(t, gtfsproto.FeedHeader_DIFFERENTIAL, parsed.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(now), parsed.GetHeader().GetTimestamp())

	require.Len(t, parsed.GetEntity(), 1)
	entity := parsed.GetEntity()[0]
	assert.Equal(t, tu.VJID, entity.GetId())

	trip := entity.GetTripUpdate().GetTrip()
	assert.Equal(t, "R:vj1", trip.GetTripId())
	assert.Equal(t, "20120615", trip.GetStartDate())
	assert.Equal(t, gtfsproto.TripDescriptor_SCHEDULED, trip.GetScheduleRelationship())

	stops := entity.GetTripUpdate().GetStopTimeUpdate()
	require.Len(t, stops, 2)
	assert.Equal(t, "sp:R1", stops[0].GetStopId())
	assert.Equal(t, time.Date(2012, 6, 15, 23, 31, 0, 0, time.UTC).Unix(), stops[0].GetArrival().GetTime())
	assert.Equal(t, int32(60), stops[0].GetArrival().GetDelay())
	assert.Equal(t, int32(150), stops[1].GetArrival().GetDelay())
	assert.Equal(t, time.Date(2012, 6, 16, 0, 2, 30, 0, time.UTC).Unix(), stops[1].GetDeparture().GetTime())
}

func TestSerializeCancelledTrip(t *testing.T) {
	vj := model.NewAddedVehicleJourney("R:vj1", time.Date(2012, 6, 15, 14, 0, 0, 0, time.UTC))
	tu := model.NewTripUpdate(vj, "realtime.test")
	tu.Status = model.ModificationDelete
	tu.Effect = model.EffectNoService
	del := model.StopEvent{Status: model.ModificationDelete}
	tu.StopTimeUpdates = []*model.StopTimeUpdate{
		{Order: 0, StopID: "sp:R1", Arrival: del, Departure: del},
	}

	msg := Serialize([]*model.TripUpdate{tu}, time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix())

	trip := msg.Feed.GetEntity()[0].GetTripUpdate().GetTrip()
	assert.Equal(t, gtfsproto.TripDescriptor_CANCELED, trip.GetScheduleRelationship())

	require.Len(t, msg.TripExtras, 1)
	extra := msg.TripExtras[0]
	assert.Equal(t, tu.VJID, extra.EntityID)
	assert.Equal(t, "NO_SERVICE", extra.Effect)
	require.Len(t, extra.Stops, 1)
	assert.Equal(t, "SKIPPED", extra.Stops[0].ArrivalRelationship)
	assert.Equal(t, "delete", extra.Stops[0].ArrivalStatus)
}

func TestSerializeExtensionFields(t *testing.T) {
	tu := publishedTripUpdate()
	tu.CompanyID = "company:sncf"
	tu.PhysicalModeID = "physical_mode:LongDistanceTrain"
	tu.Message = "holiday schedule"

	msg := Serialize([]*model.TripUpdate{tu}, time.Date(2012, 6, 16, 1, 0, 0, 0, time.UTC).Unix())

	require.Len(t, msg.TripExtras, 1)
	extra := msg.TripExtras[0]
	assert.Equal(t, "SIGNIFICANT_DELAYS", extra.Effect)
	assert.Equal(t, "realtime.test", extra.ContributorID)
	assert.Equal(t, "company:sncf", extra.CompanyID)
	assert.Equal(t, "physical_mode:LongDistanceTrain", extra.PhysicalModeID)
	assert.Equal(t, "Montreal", extra.Headsign)
	assert.Equal(t, "holiday schedule", extra.Message)
	assert.Equal(t, "SCHEDULED", extra.Stops[0].ArrivalRelationship)
	assert.Equal(t, "update", extra.Stops[0].ArrivalStatus)
}

func TestStopTimeEventRelationshipMapping(t *testing.T) {
	assert.Equal(t, "SKIPPED", stopTimeEventRelationshipFor(model.ModificationDelete))
	assert.Equal(t, "SKIPPED", stopTimeEventRelationshipFor(model.ModificationDeletedForDetour))
	assert.Equal(t, "ADDED", stopTimeEventRelationshipFor(model.ModificationAdd))
	assert.Equal(t, "ADDED", stopTimeEventRelationshipFor(model.ModificationAddedForDetour))
	assert.Equal(t, "SCHEDULED", stopTimeEventRelationshipFor(model.ModificationNone))
	assert.Equal(t, "SCHEDULED", stopTimeEventRelationshipFor(model.ModificationUpdate))
}
