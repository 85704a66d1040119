package action

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func dailyDef(t *testing.T, tz string, start time.Time) Definition {
	t.Helper()
	return Definition{
		ID:                "def-1",
		Name:              "nightly backup",
		Active:            true,
		StartAt:           start,
		Timezone:          tz,
		ScheduleInterval:  24 * time.Hour,
		CompletionLatency: time.Hour,
	}
}

func TestWindowContainingDeterministic(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	def := dailyDef(t, "America/New_York", time.Date(2024, 3, 1, 8, 0, 0, 0, loc))

	at := time.Date(2024, 3, 5, 17, 30, 0, 0, loc)
	w1, err := WindowContaining(def, at)
	if err != nil {
		t.Fatalf("WindowContaining: %v", err)
	}
	w2, err := WindowContaining(def, at)
	if err != nil {
		t.Fatalf("WindowContaining (second call): %v", err)
	}
	if w1.Index != w2.Index || !w1.Start.Equal(w2.Start) || !w1.End.Equal(w2.End) {
		t.Fatalf("non-deterministic windows: %+v vs %+v", w1, w2)
	}
	if w1.Index != 4 {
		t.Fatalf("Index = %d, want 4", w1.Index)
	}
}

func TestWindowPartition(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	def := dailyDef(t, "America/New_York", time.Date(2024, 3, 1, 8, 0, 0, 0, loc))

	// Walk a stretch covering the 2024-03-10 spring-forward transition in
	// half-hour steps; every instant must land in exactly one window and
	// indexes must be non-decreasing.
	prevIndex := -1
	for at := def.StartAt; at.Before(def.StartAt.Add(15 * 24 * time.Hour)); at = at.Add(30 * time.Minute) {
		w, err := WindowContaining(def, at)
		if err != nil {
			t.Fatalf("WindowContaining(%v): %v", at, err)
		}
		if !w.Contains(at) {
			t.Fatalf("window %d [%v, %v) does not contain %v", w.Index, w.Start, w.End, at)
		}
		if w.Index < prevIndex {
			t.Fatalf("index went backwards: %d after %d at %v", w.Index, prevIndex, at)
		}
		prevIndex = w.Index
	}
}

func TestWindowStartsSurviveSpringForward(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	// Anchor the day before the 2024-03-10 spring-forward transition.
	def := dailyDef(t, "America/New_York", time.Date(2024, 3, 9, 8, 0, 0, 0, loc))

	w0, err := WindowContaining(def, def.StartAt)
	if err != nil {
		t.Fatalf("WindowContaining: %v", err)
	}
	w1, err := WindowContaining(def, def.StartAt.Add(26*time.Hour))
	if err != nil {
		t.Fatalf("WindowContaining: %v", err)
	}
	if w1.Index != 1 {
		t.Fatalf("Index = %d, want 1", w1.Index)
	}
	// Same local wall-clock time on both sides of the transition.
	if got := w0.Start.In(loc).Hour(); got != 8 {
		t.Fatalf("window 0 local hour = %d, want 8", got)
	}
	if got := w1.Start.In(loc).Hour(); got != 8 {
		t.Fatalf("window 1 local hour = %d, want 8", got)
	}
	// The transition day is physically 23 hours long.
	if d := w1.Start.Sub(w0.Start); d != 23*time.Hour {
		t.Fatalf("physical spacing across spring-forward = %v, want 23h", d)
	}
}

func TestWindowStartsSurviveFallBack(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	// Anchor the day before the 2024-11-03 fall-back transition.
	def := dailyDef(t, "America/New_York", time.Date(2024, 11, 2, 8, 0, 0, 0, loc))

	w1, err := WindowAtIndex(def, 1)
	if err != nil {
		t.Fatalf("WindowAtIndex: %v", err)
	}
	if got := w1.Start.In(loc).Hour(); got != 8 {
		t.Fatalf("window 1 local hour = %d, want 8", got)
	}
	if d := w1.Start.Sub(def.StartAt); d != 25*time.Hour {
		t.Fatalf("physical spacing across fall-back = %v, want 25h", d)
	}
}

func TestSubDayIntervalIsPhysical(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	def := dailyDef(t, "America/New_York", time.Date(2024, 3, 9, 20, 0, 0, 0, loc))
	def.ScheduleInterval = 3 * time.Hour

	// Crossing spring-forward: sub-day intervals stay 3 physical hours.
	w, err := WindowAtIndex(def, 3)
	if err != nil {
		t.Fatalf("WindowAtIndex: %v", err)
	}
	if d := w.Start.Sub(def.StartAt); d != 9*time.Hour {
		t.Fatalf("start offset = %v, want 9h", d)
	}
}

func TestNextWindowContinuity(t *testing.T) {
	t.Parallel()
	loc := mustLoc(t, "America/New_York")
	def := dailyDef(t, "America/New_York", time.Date(2024, 3, 9, 8, 0, 0, 0, loc))

	for _, at := range []time.Time{
		def.StartAt,
		def.StartAt.Add(30 * time.Hour), // past spring-forward
		def.StartAt.Add(99 * time.Hour),
	} {
		cur, err := CurrentWindow(def, at)
		if err != nil {
			t.Fatalf("CurrentWindow(%v): %v", at, err)
		}
		next, err := NextWindow(def, at)
		if err != nil {
			t.Fatalf("NextWindow(%v): %v", at, err)
		}
		if !next.Start.Equal(cur.End) {
			t.Fatalf("next.Start = %v, want cur.End = %v", next.Start, cur.End)
		}
		if next.Index != cur.Index+1 {
			t.Fatalf("next.Index = %d, want %d", next.Index, cur.Index+1)
		}
	}
}

func TestPreAnchorClampsToFirstWindow(t *testing.T) {
	t.Parallel()
	def := dailyDef(t, "UTC", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	w, err := WindowContaining(def, def.StartAt.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("WindowContaining: %v", err)
	}
	if w.Index != 0 || !w.Start.Equal(def.StartAt) {
		t.Fatalf("pre-anchor window = %+v, want index 0 at anchor", w)
	}
}

func TestStrictPreAnchorRejected(t *testing.T) {
	t.Parallel()
	def := dailyDef(t, "UTC", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	if _, err := StrictWindowContaining(def, def.StartAt.Add(-time.Second)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if _, err := StrictWindowContaining(def, def.StartAt); err != nil {
		t.Fatalf("anchor itself must be in range, got %v", err)
	}
}

func TestInactiveScheduleRejected(t *testing.T) {
	t.Parallel()
	def := dailyDef(t, "UTC", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	def.Active = false

	if _, err := CurrentWindow(def, def.StartAt); !errors.Is(err, ErrInactiveSchedule) {
		t.Fatalf("CurrentWindow err = %v, want ErrInactiveSchedule", err)
	}
	if _, err := NextWindow(def, def.StartAt); !errors.Is(err, ErrInactiveSchedule) {
		t.Fatalf("NextWindow err = %v, want ErrInactiveSchedule", err)
	}
}

func TestWindowInvalidInputs(t *testing.T) {
	t.Parallel()
	def := dailyDef(t, "UTC", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	bad := def
	bad.ScheduleInterval = 0
	if _, err := WindowContaining(bad, def.StartAt); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero interval err = %v, want ErrValidation", err)
	}

	bad = def
	bad.Timezone = "Not/AZone"
	if _, err := WindowContaining(bad, def.StartAt); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad zone err = %v, want ErrValidation", err)
	}

	if _, err := WindowAtIndex(def, -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative index err = %v, want ErrValidation", err)
	}
}
