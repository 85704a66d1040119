package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"actionwatch/internal/action"
	logx "actionwatch/pkg/logx"
)

// openTestStores returns every backend under test; each test runs
// against all of them so the memory and SQLite semantics cannot drift.
func openTestStores(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	sq, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "actionwatch.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = mem.Close()
		_ = sq.Close()
	})
	return map[string]Store{"memory": mem, "sqlite": sq}
}

func testDefinition(id string) action.Definition {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return action.Definition{
		ID:                id,
		Name:              "nightly backup",
		Description:       "verify the backup job ran",
		Active:            true,
		Visible:           true,
		StartAt:           time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC),
		Timezone:          "UTC",
		ScheduleInterval:  24 * time.Hour,
		CompletionLatency: time.Hour,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func windowN(def action.Definition, index int) action.Window {
	return action.Window{
		Index: index,
		Start: def.StartAt.Add(time.Duration(index) * def.ScheduleInterval),
		End:   def.StartAt.Add(time.Duration(index+1) * def.ScheduleInterval),
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-rt")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}

			got, err := st.GetDefinition(ctx, def.ID)
			if err != nil {
				t.Fatalf("GetDefinition: %v", err)
			}
			if got.Name != def.Name || got.Timezone != def.Timezone ||
				got.ScheduleInterval != def.ScheduleInterval ||
				got.CompletionLatency != def.CompletionLatency ||
				!got.StartAt.Equal(def.StartAt) {
				t.Fatalf("round trip mismatch: got %+v", got)
			}

			if _, err := st.GetDefinition(ctx, "nope"); !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("unknown id err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestUpdateDefinitionKeepsAnchor(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-anchor")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}

			tampered := def
			tampered.Name = "renamed"
			tampered.Active = false
			tampered.StartAt = def.StartAt.Add(48 * time.Hour)
			tampered.ScheduleInterval = time.Minute
			tampered.Timezone = "America/New_York"
			if err := st.UpdateDefinition(ctx, tampered); err != nil {
				t.Fatalf("UpdateDefinition: %v", err)
			}

			got, err := st.GetDefinition(ctx, def.ID)
			if err != nil {
				t.Fatalf("GetDefinition: %v", err)
			}
			if got.Name != "renamed" || got.Active {
				t.Fatalf("mutable fields not updated: %+v", got)
			}
			if !got.StartAt.Equal(def.StartAt) || got.ScheduleInterval != def.ScheduleInterval || got.Timezone != def.Timezone {
				t.Fatalf("anchor fields mutated: %+v", got)
			}

			if err := st.UpdateDefinition(ctx, testDefinition("missing")); !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("update missing err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestGetOrCreateInstanceIdempotent(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-idem")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}
			w := windowN(def, 3)

			first, err := st.GetOrCreateInstance(ctx, def.ID, w)
			if err != nil {
				t.Fatalf("GetOrCreateInstance: %v", err)
			}
			if first.ScheduleID != def.ID || first.WindowIndex != 3 || first.Completed() {
				t.Fatalf("fresh instance = %+v", first)
			}

			// Record a completion, then look the window up again: lookup
			// must return the existing row untouched.
			if _, err := st.SetInstanceCompletion(ctx, first.ID, w.Start.Add(10*time.Minute), "done"); err != nil {
				t.Fatalf("SetInstanceCompletion: %v", err)
			}
			again, err := st.GetOrCreateInstance(ctx, def.ID, w)
			if err != nil {
				t.Fatalf("GetOrCreateInstance (lookup): %v", err)
			}
			if again.ID != first.ID {
				t.Fatalf("lookup created a second instance: %s vs %s", again.ID, first.ID)
			}
			if !again.Completed() || again.Message != "done" {
				t.Fatalf("lookup mutated the instance: %+v", again)
			}
		})
	}
}

func TestGetOrCreateInstanceConcurrent(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-race")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}
			w := windowN(def, 0)

			const callers = 16
			var (
				wg  sync.WaitGroup
				mu  sync.Mutex
				ids = make(map[string]struct{})
			)
			errs := make(chan error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					inst, err := st.GetOrCreateInstance(ctx, def.ID, w)
					if err != nil {
						errs <- err
						return
					}
					mu.Lock()
					ids[inst.ID] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent GetOrCreateInstance: %v", err)
			}
			if len(ids) != 1 {
				t.Fatalf("got %d distinct instance ids, want exactly 1", len(ids))
			}

			_, total, err := st.ListInstances(ctx, def.ID, InstanceQuery{})
			if err != nil {
				t.Fatalf("ListInstances: %v", err)
			}
			if total != 1 {
				t.Fatalf("stored %d instances, want 1", total)
			}
		})
	}
}

func TestGetOrCreateInstanceUnknownSchedule(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			def := testDefinition("ghost")
			_, err := st.GetOrCreateInstance(context.Background(), def.ID, windowN(def, 0))
			if !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDeleteDefinitionCascades(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-cascade")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}
			inst, err := st.GetOrCreateInstance(ctx, def.ID, windowN(def, 0))
			if err != nil {
				t.Fatalf("GetOrCreateInstance: %v", err)
			}

			if err := st.DeleteDefinition(ctx, def.ID); err != nil {
				t.Fatalf("DeleteDefinition: %v", err)
			}
			if _, err := st.GetDefinition(ctx, def.ID); !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("definition survived delete: %v", err)
			}
			if _, err := st.GetInstance(ctx, inst.ID); !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("instance survived cascade: %v", err)
			}
			if err := st.DeleteDefinition(ctx, def.ID); !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("second delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSetInstanceCompletion(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-complete")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}
			w := windowN(def, 0)
			inst, err := st.GetOrCreateInstance(ctx, def.ID, w)
			if err != nil {
				t.Fatalf("GetOrCreateInstance: %v", err)
			}

			at := w.Start.Add(20 * time.Minute)
			got, err := st.SetInstanceCompletion(ctx, inst.ID, at, "ran fine")
			if err != nil {
				t.Fatalf("SetInstanceCompletion: %v", err)
			}
			if got.CompletedAt == nil || !got.CompletedAt.Equal(at) || got.Message != "ran fine" {
				t.Fatalf("completion not recorded: %+v", got)
			}

			// The store itself always overwrites; the service enforces the
			// overwrite policy.
			at2 := w.Start.Add(40 * time.Minute)
			got, err = st.SetInstanceCompletion(ctx, inst.ID, at2, "corrected")
			if err != nil {
				t.Fatalf("SetInstanceCompletion (overwrite): %v", err)
			}
			if !got.CompletedAt.Equal(at2) || got.Message != "corrected" {
				t.Fatalf("overwrite not applied: %+v", got)
			}

			if _, err := st.SetInstanceCompletion(ctx, "nope", at, ""); !errors.Is(err, action.ErrNotFound) {
				t.Fatalf("unknown instance err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestListInstancesFilterSortPage(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := testDefinition("def-list")
			if err := st.CreateDefinition(ctx, def); err != nil {
				t.Fatalf("CreateDefinition: %v", err)
			}
			for i := 0; i < 5; i++ {
				w := windowN(def, i)
				inst, err := st.GetOrCreateInstance(ctx, def.ID, w)
				if err != nil {
					t.Fatalf("GetOrCreateInstance(%d): %v", i, err)
				}
				if i%2 == 0 {
					if _, err := st.SetInstanceCompletion(ctx, inst.ID, w.Start, ""); err != nil {
						t.Fatalf("SetInstanceCompletion(%d): %v", i, err)
					}
				}
			}

			completed := true
			insts, total, err := st.ListInstances(ctx, def.ID, InstanceQuery{Completed: &completed})
			if err != nil {
				t.Fatalf("ListInstances(completed): %v", err)
			}
			if total != 3 || len(insts) != 3 {
				t.Fatalf("completed count = %d/%d, want 3/3", len(insts), total)
			}

			insts, total, err = st.ListInstances(ctx, def.ID, InstanceQuery{
				SortBy:  InstanceSortWindowIndex,
				Order:   OrderDesc,
				Page:    2,
				PerPage: 2,
			})
			if err != nil {
				t.Fatalf("ListInstances(page): %v", err)
			}
			if total != 5 || len(insts) != 2 {
				t.Fatalf("page 2 = %d/%d, want 2 of 5", len(insts), total)
			}
			if insts[0].WindowIndex != 2 || insts[1].WindowIndex != 1 {
				t.Fatalf("desc page 2 indexes = %d,%d, want 2,1", insts[0].WindowIndex, insts[1].WindowIndex)
			}

			if _, _, err := st.ListInstances(ctx, def.ID, InstanceQuery{SortBy: "message"}); !errors.Is(err, action.ErrValidation) {
				t.Fatalf("bad sort err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestListDefinitionsFilterSort(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			for i, spec := range []struct {
				id     string
				active bool
				group  string
			}{
				{"list-a", true, "ops"},
				{"list-b", false, "ops"},
				{"list-c", true, ""},
			} {
				def := testDefinition(spec.id)
				def.Name = spec.id
				def.Active = spec.active
				def.GroupID = spec.group
				def.CreatedAt = base.Add(time.Duration(i) * time.Hour)
				def.UpdatedAt = def.CreatedAt
				if err := st.CreateDefinition(ctx, def); err != nil {
					t.Fatalf("CreateDefinition(%s): %v", spec.id, err)
				}
			}

			active := true
			defs, total, err := st.ListDefinitions(ctx, DefinitionQuery{Active: &active, GroupID: "ops"})
			if err != nil {
				t.Fatalf("ListDefinitions: %v", err)
			}
			if total != 1 || len(defs) != 1 || defs[0].ID != "list-a" {
				t.Fatalf("active ops = %+v (total %d), want just list-a", defs, total)
			}

			defs, _, err = st.ListDefinitions(ctx, DefinitionQuery{
				CreatedAfter: base.Add(30 * time.Minute),
				SortBy:       DefinitionSortName,
				Order:        OrderDesc,
			})
			if err != nil {
				t.Fatalf("ListDefinitions(created_after): %v", err)
			}
			if len(defs) != 2 || defs[0].ID != "list-c" || defs[1].ID != "list-b" {
				t.Fatalf("created_after desc = %+v, want list-c, list-b", defs)
			}
		})
	}
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	t.Parallel()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if _, err := st.GetDefinition(ctx, "any"); !errors.Is(err, action.ErrStoreUnavailable) {
				t.Fatalf("err = %v, want ErrStoreUnavailable", err)
			}
		})
	}
}
