// Package gtfsrt builds candidate TripUpdates from GTFS-RT FeedMessages,
// matching feed stop sequences against the catalog's baseline schedule.
// It never persists anything; merge.Handle takes its
// output and reconciles it with the stored state.
package gtfsrt

import (
	"context"
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/merge"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/telemetry"
	"github.com/hove-io/kirin-go/timeutil"
)

// DefaultStopCodeKey is the navitia external-code key the builder
// validates feed stop ids against when a contributor leaves StopCodeKey
// unset.
const DefaultStopCodeKey = "source"

// DefaultLookBehind/DefaultLookAhead are the asymmetric tolerance window
// around a feed's timestamp: 3h behind, 4h ahead.
const (
	DefaultLookBehind = 3 * time.Hour
	DefaultLookAhead  = 4 * time.Hour
)

// NoInformationError formats the receipt error recorded when a feed
// produces zero candidates.
func NoInformationError(timestamp uint64) string {
	return fmt.Sprintf("No information for this gtfs-rt with timestamp: %d", timestamp)
}

// Build turns a parsed FeedMessage into candidate TripUpdates. Individual
// entities that can't be matched (ambiguous/missing VJ, sublist mismatch)
// are dropped and recorded as internal failures via log rather than
// failing the whole feed. Decoding happens before Build, so the returned
// error is always nil.
func Build(ctx context.Context, feed *gtfsproto.FeedMessage, contributor model.Contributor, cfg config.ContributorConfig, cat catalog.Client, log telemetry.Logger) ([]merge.Candidate, error) {
	header := feed.GetHeader()
	t := timeutil.FromPosixTime(int64(header.GetTimestamp()))

	var candidates []merge.Candidate

	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		cand, err := buildOne(ctx, tu, t, contributor, cfg, cat)
		if err != nil {
			telemetry.RecordInternalFailure(log, err.Error(), contributor.ID,
				"trip_id", tu.GetTrip().GetTripId(), "timestamp", header.GetTimestamp())
			continue
		}

		candidates = append(candidates, *cand)
	}

	return candidates, nil
}

func buildOne(ctx context.Context, tu *gtfsproto.TripUpdate, t time.Time, contributor model.Contributor, cfg config.ContributorConfig, cat catalog.Client) (*merge.Candidate, error) {
	tripID := tu.GetTrip().GetTripId()
	if tripID == "" {
		return nil, fmt.Errorf("trip_update missing trip_id")
	}

	lookBehind, lookAhead := cfg.LookBehind, cfg.LookAhead
	if lookBehind == 0 {
		lookBehind = DefaultLookBehind
	}
	if lookAhead == 0 {
		lookAhead = DefaultLookAhead
	}
	since := timeutil.FloorDatetime(t.Add(-lookBehind))
	until := timeutil.FloorDatetime(t.Add(lookAhead))

	codeKey := cfg.StopCodeKey
	if codeKey == "" {
		codeKey = DefaultStopCodeKey
	}

	vjs, err := cat.FindVehicleJourneys(ctx, codeKey, tripID, since, until)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for trip %s: %w", tripID, err)
	}
	if len(vjs) != 1 {
		return nil, fmt.Errorf("ambiguous VJ for trip %s: found %d matches", tripID, len(vjs))
	}
	baseline := vjs[0]

	vj, err := materializeVJ(tripID, since, until, baseline)
	if err != nil {
		return nil, fmt.Errorf("materializing vehicle journey for trip %s: %w", tripID, err)
	}

	stopTimeUpdates, err := alignStops(tu.GetStopTimeUpdate(), baseline.StopTimes, codeKey)
	if err != nil {
		return nil, fmt.Errorf("trip %s: %w", tripID, err)
	}

	tripUpdate := model.NewTripUpdate(vj, contributor.ID)
	tripUpdate.StopTimeUpdates = stopTimeUpdates

	highest := model.ModificationNone
	for _, st := range stopTimeUpdates {
		highest = model.HigherStatus(highest, st.Arrival.Status)
		highest = model.HigherStatus(highest, st.Departure.Status)
	}
	tripUpdate.Effect = model.EffectByStopStatus(highest)
	if highest == model.ModificationDelete {
		tripUpdate.Status = model.ModificationDelete
	} else {
		tripUpdate.Status = model.ModificationUpdate
	}

	return &merge.Candidate{TripUpdate: tripUpdate, Baseline: baseline, FeedIsComplete: true}, nil
}

// materializeVJ resolves the dated VehicleJourney for baseline, anchoring
// the circulation day on since (the search window's lower bound).
func materializeVJ(tripID string, since, until time.Time, baseline catalog.VehicleJourney) (*model.VehicleJourney, error) {
	if len(baseline.StopTimes) == 0 {
		return nil, fmt.Errorf("baseline VJ %s has no stop times", baseline.ID)
	}

	firstOffset, ok := baseline.FirstStopTime()
	if !ok {
		return nil, fmt.Errorf("baseline VJ %s has no usable first stop time", baseline.ID)
	}

	tz := baseline.StopTimes[0].Timezone
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	sinceLocal := since.In(loc)
	localMidnight := time.Date(sinceLocal.Year(), sinceLocal.Month(), sinceLocal.Day(), 0, 0, 0, 0, loc)
	firstStopInstant := localMidnight.Add(firstOffset).UTC()
	firstStopTimeOfDay := time.Date(0, 1, 1, firstStopInstant.Hour(), firstStopInstant.Minute(), firstStopInstant.Second(), 0, time.UTC)

	return model.NewVehicleJourney(tripID, since, until, firstStopTimeOfDay)
}

// alignStops validates that the feed's stop list, read tail first,
// aligns against baseline's tail, then emits one StopTimeUpdate per
// baseline stop in ascending order.
func alignStops(feedStops []*gtfsproto.TripUpdate_StopTimeUpdate, baseline []catalog.StopTime, codeKey string) ([]*model.StopTimeUpdate, error) {
	n, m := len(feedStops), len(baseline)
	if n > m {
		return nil, fmt.Errorf("stop_time_update do not match with stops in navitia")
	}

	offset := m - n
	for i := 0; i < n; i++ {
		baseCode, ok := baseline[offset+i].Code(codeKey)
		if !ok || baseCode != feedStops[i].GetStopId() {
			return nil, fmt.Errorf("stop_time_update do not match with stops in navitia")
		}
	}

	out := make([]*model.StopTimeUpdate, m)
	for k := 0; k < offset; k++ {
		out[k] = &model.StopTimeUpdate{
			Order:     k,
			StopID:    baseline[k].StopPointID,
			Arrival:   model.StopEvent{Status: model.ModificationNone},
			Departure: model.StopEvent{Status: model.ModificationNone},
		}
	}
	for i := 0; i < n; i++ {
		order := offset + i
		out[order] = stopTimeUpdateFor(order, baseline[order], feedStops[i])
	}

	return out, nil
}

func stopTimeUpdateFor(order int, baseline catalog.StopTime, feed *gtfsproto.TripUpdate_StopTimeUpdate) *model.StopTimeUpdate {
	st := &model.StopTimeUpdate{
		Order:  order,
		StopID: baseline.StopPointID,
	}

	deleted := feed.GetScheduleRelationship() == gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED

	st.Arrival = eventFor(feed.GetArrival(), deleted)
	st.Departure = eventFor(feed.GetDeparture(), deleted)

	return st
}

func eventFor(ev *gtfsproto.TripUpdate_StopTimeEvent, deleted bool) model.StopEvent {
	if deleted {
		return model.StopEvent{Status: model.ModificationDelete}
	}
	// Delay is a pointer: its mere presence (even zero or negative)
	// marks the event as updated.
	if ev == nil || ev.Delay == nil {
		return model.StopEvent{Status: model.ModificationNone}
	}
	return model.StopEvent{
		Delay:  time.Duration(ev.GetDelay()) * time.Second,
		Status: model.ModificationUpdate,
	}
}
