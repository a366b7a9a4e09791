// Package merge implements the merger/handle step: under a
// per-dated-trip lock, it loads the persisted TripUpdate (if any),
// reconciles a candidate produced by a connector builder into it,
// recomputes the aggregate effect, persists, associates the owning
// RealTimeUpdate, and republishes.
package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/kirinerr"
	"github.com/hove-io/kirin-go/lock"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/publish"
	"github.com/hove-io/kirin-go/storage"
	"github.com/hove-io/kirin-go/telemetry"
	"github.com/hove-io/kirin-go/timeutil"
)

// Candidate is one not-yet-persisted TripUpdate produced by a connector
// builder (gtfsrt, cots), paired with the baseline VJ it was matched
// against -- merge needs the baseline to compute absolute stop times
// without a second catalog round trip.
type Candidate struct {
	TripUpdate *model.TripUpdate
	Baseline   catalog.VehicleJourney

	// FeedIsComplete marks a connector-level semantic: a feed
	// whose absence of a stop means "back to normal" rather than "no
	// information". GTFS-RT sets this true; COTS always sends a full
	// snapshot and also sets it true; a hypothetical partial-update
	// connector would set it false.
	FeedIsComplete bool
}

// ErrNoNewInformation is the sentinel no-op outcome: the merged state
// is byte-equal to the pre-merge state.
var ErrNoNewInformation = fmt.Errorf("No new information destinated to navitia for this gtfs-rt")

const lockPrefix = "kirin"

// Retry tuning for transient connection errors against the lock service
// and the database: a fixed wait between attempts, bounded by a total
// delay.
const (
	retryWait     = 500 * time.Millisecond
	retryMaxDelay = 10 * time.Second
)

// withConnRetry runs fn, retrying with a fixed wait for as long as it
// fails with a transient connection error (kirinerr.IsRetryable). Every
// other error surfaces immediately.
func withConnRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(retryMaxDelay)
	for {
		err := fn()
		if err == nil || !kirinerr.IsRetryable(err) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryWait):
		}
	}
}

// Handler owns the collaborators merge needs: storage, the per-trip
// lock, and the publisher it republishes through after a successful
// merge.
type Handler struct {
	Storage   storage.Storage
	Locker    lock.Locker
	Publisher publish.Publisher
	Log       telemetry.Logger
	LockTTL   time.Duration
}

// Handle runs the merger over every candidate in candidates, in order.
// It never returns an error for a single candidate's
// lock contention or no-op outcome -- those are recorded against ru
// (lock contention is also logged); it only returns an error for a
// lock-service or storage failure that should fail the whole intake. A
// publish failure is logged and does not fail the intake.
func (h *Handler) Handle(ctx context.Context, ru *model.RealTimeUpdate, contributor model.Contributor, candidates []Candidate) error {
	anyMerged := false
	var lastSkipReason string

	for _, cand := range candidates {
		merged, skipReason, err := h.handleOne(ctx, contributor, cand)
		if err != nil {
			return fmt.Errorf("handling candidate for trip %s: %w", cand.TripUpdate.VJ.NavitiaTripID, err)
		}
		if merged != nil {
			anyMerged = true
			if err := h.Storage.AssociateRealTimeUpdate(ctx, ru.ID, merged.VJID); err != nil {
				return fmt.Errorf("associating real time update: %w", err)
			}
		} else {
			lastSkipReason = skipReason
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	if !anyMerged {
		ru.Status = model.RTStatusKO
		ru.Error = lastSkipReason
	} else {
		ru.Status = model.RTStatusOK
	}

	if err := h.Storage.UpdateRealTimeUpdate(ctx, ru); err != nil {
		return fmt.Errorf("updating real time update: %w", err)
	}

	return nil
}

// handleOne runs the lock/load/merge/persist/publish steps for a
// single candidate. It
// returns the persisted TripUpdate when the candidate produced new
// information, or nil plus the reason it was skipped.
func (h *Handler) handleOne(ctx context.Context, contributor model.Contributor, cand Candidate) (merged *model.TripUpdate, skipReason string, err error) {
	vj := cand.TripUpdate.VJ
	lockName := lock.Name(lockPrefix, "handle", contributor.ID, vj.NavitiaTripID, timeutil.ToNavitiaCompact(vj.StartTimestamp))

	ttl := h.LockTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}

	var handle lock.Handle
	err = withConnRetry(ctx, func() error {
		var acquireErr error
		handle, acquireErr = h.Locker.Acquire(ctx, lockName, ttl)
		return acquireErr
	})
	if err != nil {
		if err == lock.ErrAlreadyHeld {
			h.Log.Warn("trip locked, skipping candidate this round", "trip_id", vj.NavitiaTripID, "contributor", contributor.ID)
			return nil, "trip is locked by another in-flight update", nil
		}
		return nil, "", fmt.Errorf("acquiring lock: %w", err)
	}
	defer handle.Release(ctx)

	existing, err := h.Storage.GetTripUpdate(ctx, vj.NavitiaTripID, vj.StartTimestamp)
	if err != nil && !storage.IsNotFound(err) {
		return nil, "", fmt.Errorf("loading existing trip update: %w", err)
	}

	var before *model.TripUpdate
	var result *model.TripUpdate

	if existing == nil {
		result = cand.TripUpdate
		computeAbsoluteTimes(result, cand.Baseline)
		result.Effect = recomputeEffect(result)
	} else {
		before = cloneTripUpdate(existing)
		result = mergeInto(existing, cand.TripUpdate, cand.FeedIsComplete)
		computeAbsoluteTimes(result, cand.Baseline)
		result.Effect = recomputeEffect(result)
	}

	if before != nil && !isChanged(before, result) {
		return nil, ErrNoNewInformation.Error(), nil
	}

	if err := withConnRetry(ctx, func() error { return h.Storage.SaveTripUpdate(ctx, result) }); err != nil {
		return nil, "", fmt.Errorf("saving trip update: %w", err)
	}

	if h.Publisher != nil {
		all, err := h.Storage.ListTripUpdates(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("listing trip updates for publish: %w", err)
		}
		if err := h.Publisher.Publish(ctx, all); err != nil {
			h.Log.Error("publishing feed message failed", err, "contributor", contributor.ID)
		}
	}

	return result, "", nil
}

// mergeInto reconciles candidate into existing: keyed
// by order, falling back to stop_id when order is absent; non-none
// statuses and non-nil delays overwrite, but a none-status candidate
// stop does not overwrite a previously delayed stop unless the feed
// declares itself complete.
func mergeInto(existing, candidate *model.TripUpdate, feedIsComplete bool) *model.TripUpdate {
	merged := cloneTripUpdate(existing)
	merged.Message = candidate.Message
	merged.CompanyID = candidate.CompanyID
	merged.PhysicalModeID = candidate.PhysicalModeID
	merged.Headsign = candidate.Headsign

	for _, candStop := range candidate.StopTimeUpdates {
		order := candStop.Order
		existingStop := merged.FindStop(candStop.StopID, &order)

		if existingStop == nil {
			merged.StopTimeUpdates = append(merged.StopTimeUpdates, cloneStop(candStop))
			continue
		}

		mergeStopEvent(&existingStop.Arrival, candStop.Arrival, feedIsComplete)
		mergeStopEvent(&existingStop.Departure, candStop.Departure, feedIsComplete)
		if candStop.Message != "" {
			existingStop.Message = candStop.Message
		}
	}

	normalizeOrder(merged)

	highest := model.ModificationNone
	for _, st := range merged.StopTimeUpdates {
		highest = model.HigherStatus(highest, st.Arrival.Status)
		highest = model.HigherStatus(highest, st.Departure.Status)
	}
	if highest == model.ModificationDelete {
		merged.Status = model.ModificationDelete
	} else {
		merged.Status = model.ModificationUpdate
	}

	return merged
}

func mergeStopEvent(existing *model.StopEvent, candidate model.StopEvent, feedIsComplete bool) {
	if candidate.Status != model.ModificationNone {
		*existing = candidate
		return
	}
	// candidate.Status == none: only overwrite a previously delayed
	// stop back to normal if this feed is declared complete.
	if feedIsComplete {
		*existing = candidate
	}
}

// normalizeOrder keeps StopTimeUpdates sorted and densely numbered
// 0..N-1. Existing orders are preserved
// relative to each other; this only matters after an append of a
// candidate stop with no prior counterpart (an "add").
func normalizeOrder(tu *model.TripUpdate) {
	sorted := append([]*model.StopTimeUpdate{}, tu.StopTimeUpdates...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Order < sorted[j-1].Order; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for i, st := range sorted {
		st.Order = i
	}
	tu.StopTimeUpdates = sorted
}

// recomputeEffect derives the aggregate trip effect from a fully merged
// stop list.
func recomputeEffect(tu *model.TripUpdate) model.TripEffect {
	total := len(tu.StopTimeUpdates)
	if total == 0 {
		return model.EffectUnknownEffect
	}

	var deleted, added, updatedNonZero int
	anyAddedForDetour := false

	for _, st := range tu.StopTimeUpdates {
		for _, ev := range []model.StopEvent{st.Arrival, st.Departure} {
			switch ev.Status {
			case model.ModificationDelete, model.ModificationDeletedForDetour:
				deleted++
			case model.ModificationAdd:
				added++
			case model.ModificationAddedForDetour:
				added++
				anyAddedForDetour = true
			case model.ModificationUpdate:
				if ev.Delay != 0 {
					updatedNonZero++
				}
			}
		}
	}

	switch {
	case deleted > 0 && deleted == total*2:
		return model.EffectNoService
	case deleted > 0 && anyAddedForDetour:
		return model.EffectDetour
	case deleted > 0 && added > 0:
		return model.EffectModifiedService
	case deleted > 0:
		return model.EffectReducedService
	case added > 0 && added == total*2:
		return model.EffectAdditionalService
	case updatedNonZero > 0:
		return model.EffectSignificantDelays
	default:
		return model.EffectUnknownEffect
	}
}

// computeAbsoluteTimes resolves absolute stop times: for every event whose
// status is update, resolve baseline_local_time_for_this_day + delay via
// the stop-area timezone; for none, set absolute time to baseline and
// delay to zero.
func computeAbsoluteTimes(tu *model.TripUpdate, baseline catalog.VehicleJourney) {
	for _, st := range tu.StopTimeUpdates {
		if st.Order < 0 || st.Order >= len(baseline.StopTimes) {
			continue
		}
		baseStop := baseline.StopTimes[st.Order]

		loc := time.UTC
		if baseStop.Timezone != "" {
			if l, err := time.LoadLocation(baseStop.Timezone); err == nil {
				loc = l
			}
		}

		circulationDay := tu.VJ.UTCCirculationDate()

		if baseStop.ArrivalIsSet {
			resolveEvent(&st.Arrival, loc, circulationDay, baseStop.ArrivalTime)
		}
		if baseStop.DepartureIsSet {
			resolveEvent(&st.Departure, loc, circulationDay, baseStop.DepartureTime)
		}
	}
}

func resolveEvent(ev *model.StopEvent, loc *time.Location, circulationDay time.Time, baselineOffset time.Duration) {
	baseLocal := time.Date(circulationDay.Year(), circulationDay.Month(), circulationDay.Day(), 0, 0, 0, 0, loc).Add(baselineOffset)
	baseUTC := baseLocal.UTC()

	switch ev.Status {
	case model.ModificationUpdate:
		ev.Time = baseUTC.Add(ev.Delay)
	case model.ModificationNone:
		ev.Time = baseUTC
		ev.Delay = 0
	}
}

// isChanged implements the no-op detection for resent feeds.
func isChanged(before, after *model.TripUpdate) bool {
	if len(before.StopTimeUpdates) != len(after.StopTimeUpdates) {
		return true
	}
	for i := range before.StopTimeUpdates {
		if before.StopTimeUpdates[i].IsNotEqual(after.StopTimeUpdates[i]) {
			return true
		}
	}
	return before.Message != after.Message
}

func cloneTripUpdate(tu *model.TripUpdate) *model.TripUpdate {
	clone := *tu
	clone.StopTimeUpdates = make([]*model.StopTimeUpdate, len(tu.StopTimeUpdates))
	for i, st := range tu.StopTimeUpdates {
		clone.StopTimeUpdates[i] = cloneStop(st)
	}
	return &clone
}

func cloneStop(st *model.StopTimeUpdate) *model.StopTimeUpdate {
	clone := *st
	return &clone
}
