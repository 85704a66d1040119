package action

import (
	"time"
)

// windowStart computes the start of window index in the definition's zone.
//
// Intervals that are whole multiples of 24h are applied as local calendar
// days: "every 1 day" lands on the same wall-clock time the next day even
// when a DST transition makes that day 23 or 25 physical hours long.
// Naive epoch-second addition would drift the local start time by an hour
// at every transition, which is exactly the bug class this function exists
// to avoid. Sub-day intervals are fixed physical durations; "every 3h"
// means every 3 physical hours regardless of zone transitions.
func windowStart(d Definition, loc *time.Location, index int) time.Time {
	anchor := d.StartAt.In(loc)
	total := time.Duration(index) * d.ScheduleInterval

	if d.ScheduleInterval%(24*time.Hour) == 0 {
		days := int(total / (24 * time.Hour))
		return time.Date(anchor.Year(), anchor.Month(), anchor.Day()+days,
			anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), loc)
	}
	return anchor.Add(total)
}

// windowAt materializes the window for a given index.
func windowAt(d Definition, loc *time.Location, index int) Window {
	return Window{
		Index: index,
		Start: windowStart(d, loc, index),
		End:   windowStart(d, loc, index+1),
	}
}

// WindowAtIndex materializes the window for a known ordinal, e.g. when
// re-deriving the window a stored instance covers.
func WindowAtIndex(d Definition, index int) (Window, error) {
	if index < 0 {
		return Window{}, &ValidationError{Field: "window_index", Reason: "must be non-negative"}
	}
	if d.ScheduleInterval <= 0 {
		return Window{}, &ValidationError{Field: "schedule_interval", Reason: "must be positive"}
	}
	loc, err := d.Location()
	if err != nil {
		return Window{}, err
	}
	return windowAt(d, loc, index), nil
}

// WindowContaining returns the window enclosing at.
//
// Instants before StartAt clamp to window 0 rather than failing; callers
// that need strict pre-anchor rejection use StrictWindowContaining. The
// clamp matches the observed behavior of always resolving a current
// window for any live schedule.
func WindowContaining(d Definition, at time.Time) (Window, error) {
	if d.ScheduleInterval <= 0 {
		return Window{}, &ValidationError{Field: "schedule_interval", Reason: "must be positive"}
	}
	loc, err := d.Location()
	if err != nil {
		return Window{}, err
	}

	if at.Before(d.StartAt) {
		return windowAt(d, loc, 0), nil
	}

	// Estimate by physical elapsed time, then walk to the enclosing
	// window. Calendar-day intervals can differ from the estimate by a
	// DST hour per transition, so the walk is bounded but not always zero.
	index := int(at.Sub(d.StartAt) / d.ScheduleInterval)
	for index > 0 && windowStart(d, loc, index).After(at) {
		index--
	}
	for !windowStart(d, loc, index+1).After(at) {
		index++
	}
	return windowAt(d, loc, index), nil
}

// StrictWindowContaining is WindowContaining with pre-anchor instants
// rejected with ErrOutOfRange instead of clamped to window 0.
func StrictWindowContaining(d Definition, at time.Time) (Window, error) {
	if at.Before(d.StartAt) {
		return Window{}, ErrOutOfRange
	}
	return WindowContaining(d, at)
}

// CurrentWindow returns the window enclosing now. It fails with
// ErrInactiveSchedule for inactive definitions so that callers never
// materialize instances for a disabled schedule.
func CurrentWindow(d Definition, now time.Time) (Window, error) {
	if !d.Active {
		return Window{}, ErrInactiveSchedule
	}
	return WindowContaining(d, now)
}

// NextWindow returns the window immediately after the current one.
// NextWindow(d, now).Start always equals CurrentWindow(d, now).End.
func NextWindow(d Definition, now time.Time) (Window, error) {
	cur, err := CurrentWindow(d, now)
	if err != nil {
		return Window{}, err
	}
	loc, err := d.Location()
	if err != nil {
		return Window{}, err
	}
	return windowAt(d, loc, cur.Index+1), nil
}
