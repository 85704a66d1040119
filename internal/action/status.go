package action

import "time"

// Evaluate derives the status of an instance from its window, the
// definition's completion latency, and a reference instant.
//
// The boundary is deadline = window.Start + latency: an incomplete
// instance is pending strictly before the deadline and missed at or
// after it; a completion at or before the deadline is on time, after it
// late. Completions recorded before the window even starts are accepted
// and count as on time.
func Evaluate(inst Instance, w Window, latency time.Duration, now time.Time) Status {
	deadline := w.Start.Add(latency)

	if inst.CompletedAt == nil {
		if now.Before(deadline) {
			return StatusPending
		}
		return StatusMissed
	}
	if inst.CompletedAt.After(deadline) {
		return StatusLate
	}
	return StatusOnTime
}
