// Package cots builds candidate TripUpdates from the COTS/IRE feed, the
// national rail operator's JSON disruption dialect. Unlike the GTFS-RT
// connector, a COTS event is a whole-trip snapshot: every stop point of
// the train's current run is always present in the payload, so this
// builder marks its candidates "complete": an absent stop is
// back-to-normal, not unknown.
package cots

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/kirinerr"
	"github.com/hove-io/kirin-go/merge"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/telemetry"
)

// DefaultCodeKey is the navitia external-code type COTS train numbers
// are looked up under when a contributor leaves StopCodeKey unset.
const DefaultCodeKey = "source"

// DefaultLookBehind/DefaultLookAhead mirror gtfsrt's window defaults;
// COTS events carry their own dated trip reference but still need a
// bounded window to disambiguate the catalog lookup.
const (
	DefaultLookBehind = 3 * time.Hour
	DefaultLookAhead  = 4 * time.Hour
)

// typeActionSuppression is the COTS trip-level action meaning the
// entire run is cancelled: the candidate carries no stops at all.
const typeActionSuppression = "SUPPRESSION"

// payload mirrors the relevant shape of a COTS "nouvelleVersion" event:
// one train run (numeroCourse) and its ordered list of points de
// parcours (pdp), each carrying scheduled vs. projected times.
type payload struct {
	NouvelleVersion version `json:"nouvelleVersion"`
}

type version struct {
	NumeroCourse         string `json:"numeroCourse"`
	TypeAction           string `json:"typeAction"`
	ListePointDeParcours []pdp  `json:"listePointDeParcours"`
}

type pdp struct {
	Message                    string    `json:"texteLibre"`
	ListeHoraireProjeteArrivee []horaire `json:"listeHoraireProjeteArrivee"`
	ListeHoraireProjeteDepart  []horaire `json:"listeHoraireProjeteDepart"`
}

type horaire struct {
	DateHeure string `json:"dateHeure"`
	Nature    string `json:"nature"` // "Prevue" (scheduled) or "Realisee" (projected)
}

// Build decodes a raw COTS JSON payload into zero or one merge
// candidates (a COTS event always describes a single train run).
func Build(ctx context.Context, raw []byte, contributor model.Contributor, cfg config.ContributorConfig, cat catalog.Client, log telemetry.Logger) ([]merge.Candidate, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, kirinerr.DecodeError(err, "decoding cots payload")
	}

	codeKey := cfg.StopCodeKey
	if codeKey == "" {
		codeKey = DefaultCodeKey
	}
	lookBehind, lookAhead := cfg.LookBehind, cfg.LookAhead
	if lookBehind == 0 {
		lookBehind = DefaultLookBehind
	}
	if lookAhead == 0 {
		lookAhead = DefaultLookAhead
	}

	now := time.Now().UTC()
	since := now.Add(-lookBehind)
	until := now.Add(lookAhead)

	vjs, err := cat.FindVehicleJourneys(ctx, codeKey, p.NouvelleVersion.NumeroCourse, since, until)
	if err != nil {
		return nil, kirinerr.Wrap(kirinerr.KindInternal, err, "looking up vehicle journey for cots train")
	}
	if len(vjs) != 1 {
		return nil, kirinerr.InvalidArguments("expected exactly one vehicle journey for train %s, got %d", p.NouvelleVersion.NumeroCourse, len(vjs))
	}
	baseline := vjs[0]

	vj, err := materializeVJ(baseline, since, until)
	if err != nil {
		return nil, err
	}
	tu := model.NewTripUpdate(vj, contributor.ID)

	if p.NouvelleVersion.TypeAction == typeActionSuppression {
		tu.Status = model.ModificationDelete
		tu.Effect = model.EffectByStopStatus(model.ModificationDelete)
		return []merge.Candidate{{TripUpdate: tu, Baseline: baseline, FeedIsComplete: true}}, nil
	}

	for order, stop := range p.NouvelleVersion.ListePointDeParcours {
		if order >= len(baseline.StopTimes) {
			log.Warn("cots pdp has no matching baseline stop", "order", order, "train", p.NouvelleVersion.NumeroCourse)
			continue
		}
		bst := baseline.StopTimes[order]

		st := &model.StopTimeUpdate{
			Order:   order,
			StopID:  bst.StopPointID,
			Message: stop.Message,
		}
		st.Arrival = eventFor(stop.ListeHoraireProjeteArrivee)
		st.Departure = eventFor(stop.ListeHoraireProjeteDepart)

		tu.StopTimeUpdates = append(tu.StopTimeUpdates, st)
		tu.Status = model.HigherStatus(tu.Status, model.HigherStatus(st.Arrival.Status, st.Departure.Status))
	}

	tu.Effect = model.EffectByStopStatus(tu.Status)

	return []merge.Candidate{{TripUpdate: tu, Baseline: baseline, FeedIsComplete: true}}, nil
}

// eventFor derives a StopEvent's delay from the gap between COTS'
// "Prevue" (scheduled) and "Realisee" (projected) horaire entries. No
// projected entry at all means the event is unaffected ("none").
func eventFor(horaires []horaire) model.StopEvent {
	var scheduled, projected time.Time
	for _, h := range horaires {
		t, err := time.Parse(time.RFC3339, h.DateHeure)
		if err != nil {
			continue
		}
		switch h.Nature {
		case "Prevue":
			scheduled = t
		case "Realisee":
			projected = t
		}
	}

	if projected.IsZero() {
		return model.StopEvent{Status: model.ModificationNone}
	}

	delay := projected.Sub(scheduled)
	return model.StopEvent{
		Time:   projected.UTC(),
		Delay:  delay,
		Status: model.ModificationUpdate,
	}
}

// materializeVJ resolves the dated VehicleJourney for baseline, anchoring
// the circulation day on since, mirroring gtfsrt.materializeVJ.
func materializeVJ(baseline catalog.VehicleJourney, since, until time.Time) (*model.VehicleJourney, error) {
	if len(baseline.StopTimes) == 0 {
		return nil, kirinerr.InvalidArguments("vehicle journey %s has no stop times", baseline.ID)
	}

	firstOffset, ok := baseline.FirstStopTime()
	if !ok {
		return nil, kirinerr.InvalidArguments("vehicle journey %s has no usable first stop time", baseline.ID)
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

	vj, err := model.NewVehicleJourney(baseline.ID, since, until, firstStopTimeOfDay)
	if err != nil {
		return nil, kirinerr.Internal(err, "resolving circulation day for vehicle journey %s", baseline.ID)
	}
	return vj, nil
}
