// Package timeutil collects the naive-UTC calendar arithmetic the merge and
// connector packages need: floor-to-hour windowing, POSIX conversion, the
// compact navitia timestamp format, and local-time-to-UTC resolution against
// a stop's timezone.
package timeutil

import (
	"fmt"
	"time"
)

// NavitiaCompactLayout is the 15-character UTC timestamp format navitia's
// catalog API expects for "since"/"until" query parameters, e.g.
// "20260129T083000".
const NavitiaCompactLayout = "20060102T150405"

// FloorDatetime truncates t down to the start of its hour, in UTC. Used to
// build the catalog lookup window so repeated calls within the same hour
// memoize identically.
func FloorDatetime(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// ToPosixTime converts a naive UTC time to a GTFS-RT POSIX timestamp.
// The zero time converts to 0.
func ToPosixTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}

// FromPosixTime is the inverse of ToPosixTime.
func FromPosixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// ToNavitiaCompact formats a naive UTC time in the compact form the catalog
// HTTP client sends as since/until query parameters.
func ToNavitiaCompact(t time.Time) string {
	return t.UTC().Format(NavitiaCompactLayout)
}

// ParseNavitiaCompact parses the compact navitia timestamp format back into
// a UTC time.
func ParseNavitiaCompact(s string) (time.Time, error) {
	t, err := time.Parse(NavitiaCompactLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing navitia compact timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ResolveLocalTime converts a stop's local wall-clock time of day, on the
// calendar date implied by anchor (also interpreted in loc), to a naive UTC
// instant. If the resulting local time would be on an earlier "day" than
// midnight in loc relative to the anchor (can happen crossing midnight on a
// trip with a multi-day circulation), the day is rolled forward so the
// result never precedes anchor by more than 12 hours -- a trip's arrival
// time is never more than a few hours behind its dispatch time.
func ResolveLocalTime(loc *time.Location, anchorUTC time.Time, hour, min, sec int) time.Time {
	anchorLocal := anchorUTC.In(loc)
	candidate := time.Date(anchorLocal.Year(), anchorLocal.Month(), anchorLocal.Day(), hour, min, sec, 0, loc)

	if candidate.Before(anchorLocal.Add(-12 * time.Hour)) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate.UTC()
}
