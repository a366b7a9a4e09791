package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVehicleJourneyRollsToNextDay(t *testing.T) {
	since := time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)
	until := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)
	firstStop := time.Date(0, 1, 1, 2, 0, 0, 0, time.UTC)

	vj, err := NewVehicleJourney("trip:1", since, until, firstStop)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 3, 2, 0, 0, 0, time.UTC), vj.StartTimestamp)
}

func TestNewVehicleJourneyRejectsOutsideWindow(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	firstStop := time.Date(0, 1, 1, 23, 0, 0, 0, time.UTC)

	_, err := NewVehicleJourney("trip:1", since, until, firstStop)
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestNewVehicleJourneyRejectsZonedInput(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	since := time.Date(2026, 1, 2, 23, 0, 0, 0, loc)
	until := time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)
	firstStop := time.Date(0, 1, 1, 2, 0, 0, 0, time.UTC)

	_, err = NewVehicleJourney("trip:1", since, until, firstStop)
	assert.ErrorIs(t, err, ErrNotNaiveUTC)
}

func TestStopTimeUpdateIsNotEqual(t *testing.T) {
	base := &StopTimeUpdate{
		StopID: "stop:1",
		Order:  2,
		Departure: StopEvent{
			Time:   time.Date(2026, 1, 3, 2, 5, 0, 0, time.UTC),
			Status: ModificationUpdate,
		},
	}
	same := &StopTimeUpdate{
		StopID: "stop:1",
		Order:  2,
		Departure: StopEvent{
			Time:   time.Date(2026, 1, 3, 2, 5, 0, 0, time.UTC),
			Status: ModificationUpdate,
		},
	}
	assert.False(t, base.IsNotEqual(same))

	changed := &StopTimeUpdate{
		StopID: "stop:1",
		Order:  2,
		Departure: StopEvent{
			Time:   time.Date(2026, 1, 3, 2, 6, 0, 0, time.UTC),
			Status: ModificationUpdate,
		},
	}
	assert.True(t, base.IsNotEqual(changed))
	assert.True(t, base.IsNotEqual(nil))
}

func TestFindStopPrefersOrderThenFallsBackToStopID(t *testing.T) {
	order0, order1 := 0, 1
	tu := &TripUpdate{
		StopTimeUpdates: []*StopTimeUpdate{
			{StopID: "loop", Order: 0},
			{StopID: "mid", Order: 1},
			{StopID: "loop", Order: 2},
		},
	}

	got := tu.FindStop("loop", &order1)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.Order) // no exact (stop,order) match -> falls back to first stop_id match

	got = tu.FindStop("loop", &order0)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.Order)

	got = tu.FindStop("unknown", nil)
	assert.Nil(t, got)
}

func TestHigherStatusRanking(t *testing.T) {
	assert.Equal(t, ModificationDelete, HigherStatus(ModificationNone, ModificationDelete))
	assert.Equal(t, ModificationUpdate, HigherStatus(ModificationUpdate, ModificationNone))
	assert.Equal(t, ModificationDeletedForDetour, HigherStatus(ModificationAdd, ModificationDeletedForDetour))
}

func TestEffectByStopStatus(t *testing.T) {
	assert.Equal(t, EffectNoService, EffectByStopStatus(ModificationDelete))
	assert.Equal(t, EffectDetour, EffectByStopStatus(ModificationDeletedForDetour))
	assert.Equal(t, EffectAdditionalService, EffectByStopStatus(ModificationAdd))
	assert.Equal(t, EffectSignificantDelays, EffectByStopStatus(ModificationUpdate))
	assert.Equal(t, EffectUnknownEffect, EffectByStopStatus(ModificationNone))
}
