package gtfsrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/kirintest"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/telemetry"
)

var testContributor = model.Contributor{ID: "realtime.test", ConnectorType: model.ConnectorGTFSRT}

// baselineR is the four-stop journey every builder test works against:
// StopR1..StopR4 at 10:00/10:30/11:00/11:30 local, New York time (UTC-4
// in June).
func baselineR() catalog.VehicleJourney {
	return kirintest.BaselineVJ("vj:R:1", []kirintest.StopFixture{
		{StopPointID: "sp:R1", SourceCode: "StopR1", Timezone: "America/New_York", ArrivalSecs: 36000, DepartureSecs: 36000},
		{StopPointID: "sp:R2", SourceCode: "StopR2", Timezone: "America/New_York", ArrivalSecs: 37800, DepartureSecs: 37800},
		{StopPointID: "sp:R3", SourceCode: "StopR3", Timezone: "America/New_York", ArrivalSecs: 39600, DepartureSecs: 39600},
		{StopPointID: "sp:R4", SourceCode: "StopR4", Timezone: "America/New_York", ArrivalSecs: 41400, DepartureSecs: 41400},
	})
}

func TestBuildSimpleDelay(t *testing.T) {
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:vj1", baselineR())

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR2", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR3", ArrivalDelay: kirintest.Delay(0)},
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(180)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	cand := candidates[0]
	assert.True(t, cand.FeedIsComplete)

	tu := cand.TripUpdate
	assert.Equal(t, model.ModificationUpdate, tu.Status)
	assert.Equal(t, model.EffectSignificantDelays, tu.Effect)
	assert.Equal(t, "R:vj1", tu.VJ.NavitiaTripID)
	// 10:00 New York is 14:00 UTC in June.
	assert.Equal(t, time.Date(2012, 6, 15, 14, 0, 0, 0, time.UTC), tu.VJ.StartTimestamp)

	require.Len(t, tu.StopTimeUpdates, 4)
	for i, st := range tu.StopTimeUpdates {
		assert.Equal(t, i, st.Order)
	}

	assert.Equal(t, model.ModificationNone, tu.StopTimeUpdates[0].Arrival.Status)
	assert.Equal(t, model.ModificationNone, tu.StopTimeUpdates[0].Departure.Status)

	assert.Equal(t, model.ModificationUpdate, tu.StopTimeUpdates[1].Arrival.Status)
	assert.Equal(t, 60*time.Second, tu.StopTimeUpdates[1].Arrival.Delay)
	assert.Equal(t, model.ModificationNone, tu.StopTimeUpdates[1].Departure.Status)

	// A delay of zero still counts as "updated": the feed carried a value.
	assert.Equal(t, model.ModificationUpdate, tu.StopTimeUpdates[2].Arrival.Status)
	assert.Equal(t, time.Duration(0), tu.StopTimeUpdates[2].Arrival.Delay)

	assert.Equal(t, model.ModificationUpdate, tu.StopTimeUpdates[3].Arrival.Status)
	assert.Equal(t, 180*time.Second, tu.StopTimeUpdates[3].Arrival.Delay)
}

func TestBuildNegativeDelayIsStillAnUpdate(t *testing.T) {
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:vj1", baselineR())

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(-30)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	st := candidates[0].TripUpdate.StopTimeUpdates[3]
	assert.Equal(t, model.ModificationUpdate, st.Arrival.Status)
	assert.Equal(t, -30*time.Second, st.Arrival.Delay)
}

// recordingCatalog captures the last search window Build passed through.
type recordingCatalog struct {
	catalog.Client
	since, until time.Time
}

func (r *recordingCatalog) FindVehicleJourneys(ctx context.Context, codeType, code string, since, until time.Time) ([]catalog.VehicleJourney, error) {
	r.since, r.until = since, until
	return r.Client.FindVehicleJourneys(ctx, codeType, code, since, until)
}

func TestBuildSearchWindowIsAsymmetricAndFloored(t *testing.T) {
	fake := catalog.NewFakeClient()
	fake.Add("source", "R:vj1", baselineR())
	rec := &recordingCatalog{Client: fake}

	ts := time.Date(2012, 6, 15, 15, 42, 11, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(60)},
	})

	_, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, rec, telemetry.NewFake())
	require.NoError(t, err)

	// 3h behind, 4h ahead, both truncated to the hour.
	assert.Equal(t, time.Date(2012, 6, 15, 12, 0, 0, 0, time.UTC), rec.since)
	assert.Equal(t, time.Date(2012, 6, 15, 19, 0, 0, 0, time.UTC), rec.until)
}

func TestBuildSublistMismatchDropsCandidate(t *testing.T) {
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:vj1", baselineR())

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR2", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopElsewhere", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(60)},
	})

	log := telemetry.NewFake()
	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, log)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	require.NotEmpty(t, *log.Records)
	failure := (*log.Records)[0]
	assert.Equal(t, "kirin_internal_failure", failure.Msg)
	assert.Contains(t, failure.KV, "message")
}

func TestBuildFeedLongerThanBaselineDropsCandidate(t *testing.T) {
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:vj1", baselineR())

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR0", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR1", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR2", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR3", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(60)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestBuildAmbiguousVehicleJourneyDropsCandidate(t *testing.T) {
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:vj1", baselineR(), baselineR())

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(60)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestBuildLollipopKeepsBothPasses(t *testing.T) {
	lollipop := kirintest.BaselineVJ("vj:R:loop", []kirintest.StopFixture{
		{StopPointID: "sp:R1", SourceCode: "StopR1", Timezone: "America/New_York", ArrivalSecs: 36000, DepartureSecs: 36000},
		{StopPointID: "sp:R2", SourceCode: "StopR2", Timezone: "America/New_York", ArrivalSecs: 37800, DepartureSecs: 37800},
		{StopPointID: "sp:R3", SourceCode: "StopR3", Timezone: "America/New_York", ArrivalSecs: 39600, DepartureSecs: 39600},
		{StopPointID: "sp:R2", SourceCode: "StopR2", Timezone: "America/New_York", ArrivalSecs: 41400, DepartureSecs: 41400},
		{StopPointID: "sp:R4", SourceCode: "StopR4", Timezone: "America/New_York", ArrivalSecs: 43200, DepartureSecs: 43200},
	})
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:loop", lollipop)

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:loop", ts, []kirintest.StopDelay{
		{StopID: "StopR1", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR2", ArrivalDelay: kirintest.Delay(120)},
		{StopID: "StopR3", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopR2", ArrivalDelay: kirintest.Delay(0)},
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(0)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	stops := candidates[0].TripUpdate.StopTimeUpdates
	require.Len(t, stops, 5)
	for i, st := range stops {
		assert.Equal(t, i, st.Order)
	}

	// The two passes through StopR2 stay distinct rows with their own delays.
	assert.Equal(t, "sp:R2", stops[1].StopID)
	assert.Equal(t, 120*time.Second, stops[1].Arrival.Delay)
	assert.Equal(t, "sp:R2", stops[3].StopID)
	assert.Equal(t, time.Duration(0), stops[3].Arrival.Delay)
}

func TestBuildPassMidnightUTCKeepsStartDate(t *testing.T) {
	// First stop at 19:30 New York = 23:30 UTC; later stops land past
	// UTC midnight, but the circulation date stays June 15th.
	night := kirintest.BaselineVJ("vj:R:night", []kirintest.StopFixture{
		{StopPointID: "sp:N1", SourceCode: "StopN1", Timezone: "America/New_York", ArrivalSecs: 70200, DepartureSecs: 70200},
		{StopPointID: "sp:N2", SourceCode: "StopN2", Timezone: "America/New_York", ArrivalSecs: 73800, DepartureSecs: 73800},
		{StopPointID: "sp:N3", SourceCode: "StopN3", Timezone: "America/New_York", ArrivalSecs: 75600, DepartureSecs: 75600},
		{StopPointID: "sp:N4", SourceCode: "StopN4", Timezone: "America/New_York", ArrivalSecs: 77400, DepartureSecs: 77400},
		{StopPointID: "sp:N5", SourceCode: "StopN5", Timezone: "America/New_York", ArrivalSecs: 79200, DepartureSecs: 79200},
	})
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:night", night)

	ts := time.Date(2012, 6, 16, 1, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:night", ts, []kirintest.StopDelay{
		{StopID: "StopN1", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopN2", ArrivalDelay: kirintest.Delay(60)},
		{StopID: "StopN3", ArrivalDelay: kirintest.Delay(150)},
		{StopID: "StopN4", ArrivalDelay: kirintest.Delay(180)},
		{StopID: "StopN5", ArrivalDelay: kirintest.Delay(240)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	vj := candidates[0].TripUpdate.VJ
	assert.Equal(t, time.Date(2012, 6, 15, 23, 30, 0, 0, time.UTC), vj.StartTimestamp)
	assert.Equal(t, time.Date(2012, 6, 15, 0, 0, 0, 0, time.UTC), vj.UTCCirculationDate())
	assert.Len(t, candidates[0].TripUpdate.StopTimeUpdates, 5)
}

func TestBuildSkippedStopBecomesDelete(t *testing.T) {
	cat := catalog.NewFakeClient()
	cat.Add("source", "R:vj1", baselineR())

	ts := time.Date(2012, 6, 15, 15, 0, 0, 0, time.UTC).Unix()
	feed := kirintest.GTFSRTFeed("R:vj1", ts, []kirintest.StopDelay{
		{StopID: "StopR3", Skipped: true},
		{StopID: "StopR4", ArrivalDelay: kirintest.Delay(60)},
	})

	candidates, err := Build(context.Background(), feed, testContributor, config.ContributorConfig{}, cat, telemetry.NewFake())
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	tu := candidates[0].TripUpdate
	assert.Equal(t, model.ModificationDelete, tu.StopTimeUpdates[2].Arrival.Status)
	assert.Equal(t, model.ModificationDelete, tu.StopTimeUpdates[2].Departure.Status)
	assert.Equal(t, model.ModificationDelete, tu.Status)
}
