package model

import "errors"

var (
	// errNotNaiveUTC is returned when a caller passes a zoned time where
	// the domain requires naive UTC (kirin raises InternalException here).
	errNotNaiveUTC = errors.New("model: datetime must be naive UTC")

	// errOutsideWindow is returned when a resolved VJ start falls after
	// the search window's upper bound (kirin raises ObjectNotFound here).
	errOutsideWindow = errors.New("model: resolved circulation date falls outside search window")
)

// ErrNotNaiveUTC and ErrOutsideWindow let callers use errors.Is against the
// sentinels above without reaching into unexported state.
var (
	ErrNotNaiveUTC   = errNotNaiveUTC
	ErrOutsideWindow = errOutsideWindow
)
