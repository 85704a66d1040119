package action

import (
	"time"
)

// Definition describes one recurring timed action.
//
// StartAt anchors window index 0. Together with Timezone and
// ScheduleInterval it fully determines every window, so those three
// fields are immutable after creation; editing them would retroactively
// renumber historical windows. Create a new definition instead.
type Definition struct {
	ID          string
	Name        string
	Description string

	// Active gates window computation. Inactive definitions produce no
	// windows and therefore no instances.
	Active bool

	// Visible is a display-only flag; scheduling ignores it.
	Visible bool

	StartAt  time.Time
	Timezone string // IANA zone name, e.g. "America/New_York"

	// ScheduleInterval is the spacing between consecutive window starts.
	// Whole-day multiples are applied in the definition's local calendar
	// (see windowStart); sub-day intervals are fixed physical durations.
	ScheduleInterval time.Duration

	// CompletionLatency is how long after a window's start a completion
	// still counts as on time.
	CompletionLatency time.Duration

	// GroupID is an optional grouping reference, opaque to scheduling.
	GroupID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the definition's IANA zone.
func (d Definition) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Reason: "unknown IANA zone " + d.Timezone}
	}
	return loc, nil
}

// Window is one occurrence slot, the half-open interval [Start, End).
// Windows are derived on demand and never persisted: the same
// (definition, index) always yields the same window.
type Window struct {
	Index int
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Instance is the persisted record of what happened (or didn't) during
// one window. There is at most one instance per (ScheduleID, WindowIndex);
// the store enforces that pair as a unique key.
type Instance struct {
	ID          string
	ScheduleID  string
	WindowIndex int

	// CompletedAt is nil until a completion is recorded.
	CompletedAt *time.Time
	Message     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Completed reports whether a completion has been recorded.
func (i Instance) Completed() bool { return i.CompletedAt != nil }

// Status is the derived state of an instance relative to its window.
// It is never stored; it is recomputed from the instance, the window,
// and the reference instant every time it is asked for.
type Status string

const (
	// StatusPending: not completed, still inside the grace period.
	StatusPending Status = "pending"
	// StatusOnTime: completed within CompletionLatency of the window start.
	StatusOnTime Status = "on_time"
	// StatusLate: completed, but after the grace period elapsed.
	StatusLate Status = "late"
	// StatusMissed: not completed and the grace period has elapsed.
	StatusMissed Status = "missed"
)
