package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"actionwatch/internal/action"
	logx "actionwatch/pkg/logx"
)

// instanceKey is the uniqueness key for instances.
type instanceKey struct {
	scheduleID  string
	windowIndex int
}

// memoryStore keeps everything in maps behind one mutex. getOrCreate is
// therefore trivially atomic; the backend exists so tests and no-setup
// deployments get the exact semantics the SQLite backend enforces with
// its unique index.
type memoryStore struct {
	cfg Config
	log logx.Logger

	mu        sync.Mutex
	defs      map[string]action.Definition
	instances map[instanceKey]action.Instance
	byID      map[string]instanceKey
}

func newMemoryStore(cfg Config, log logx.Logger) *memoryStore {
	return &memoryStore{
		cfg:       cfg,
		log:       log,
		defs:      make(map[string]action.Definition),
		instances: make(map[instanceKey]action.Instance),
		byID:      make(map[string]instanceKey),
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) CreateDefinition(ctx context.Context, def action.Definition) error {
	if err := mapErr(ctx.Err()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def
	return nil
}

func (s *memoryStore) GetDefinition(ctx context.Context, id string) (action.Definition, error) {
	if err := mapErr(ctx.Err()); err != nil {
		return action.Definition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return action.Definition{}, action.ErrNotFound
	}
	return def, nil
}

func (s *memoryStore) UpdateDefinition(ctx context.Context, def action.Definition) error {
	if err := mapErr(ctx.Err()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.defs[def.ID]
	if !ok {
		return action.ErrNotFound
	}
	// The anchor fields never change after creation.
	def.StartAt = prev.StartAt
	def.Timezone = prev.Timezone
	def.ScheduleInterval = prev.ScheduleInterval
	def.CreatedAt = prev.CreatedAt
	s.defs[def.ID] = def
	return nil
}

func (s *memoryStore) DeleteDefinition(ctx context.Context, id string) error {
	if err := mapErr(ctx.Err()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return action.ErrNotFound
	}
	delete(s.defs, id)
	// Cascade.
	for key, inst := range s.instances {
		if key.scheduleID == id {
			delete(s.instances, key)
			delete(s.byID, inst.ID)
		}
	}
	return nil
}

func (s *memoryStore) ListDefinitions(ctx context.Context, q DefinitionQuery) ([]action.Definition, int, error) {
	if err := mapErr(ctx.Err()); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	matched := make([]action.Definition, 0, len(s.defs))
	for _, def := range s.defs {
		if q.Active != nil && def.Active != *q.Active {
			continue
		}
		if q.Visible != nil && def.Visible != *q.Visible {
			continue
		}
		if q.GroupID != "" && def.GroupID != q.GroupID {
			continue
		}
		if !q.CreatedAfter.IsZero() && def.CreatedAt.Before(q.CreatedAfter) {
			continue
		}
		if !q.CreatedBefore.IsZero() && !def.CreatedAt.Before(q.CreatedBefore) {
			continue
		}
		matched = append(matched, def)
	}
	s.mu.Unlock()

	if err := sortDefinitions(matched, q.SortBy, q.Order); err != nil {
		return nil, 0, err
	}
	total := len(matched)
	return paginate(matched, q.Page, q.PerPage), total, nil
}

func sortDefinitions(defs []action.Definition, by DefinitionSort, order SortOrder) error {
	var less func(a, b action.Definition) bool
	switch by {
	case "", DefinitionSortCreatedAt:
		less = func(a, b action.Definition) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case DefinitionSortName:
		less = func(a, b action.Definition) bool { return strings.Compare(a.Name, b.Name) < 0 }
	case DefinitionSortStartAt:
		less = func(a, b action.Definition) bool { return a.StartAt.Before(b.StartAt) }
	default:
		return &action.ValidationError{Field: "sort", Reason: "unsupported sort field " + string(by)}
	}
	desc, err := isDesc(order)
	if err != nil {
		return err
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if desc {
			return less(defs[j], defs[i])
		}
		return less(defs[i], defs[j])
	})
	return nil
}

func (s *memoryStore) GetOrCreateInstance(ctx context.Context, scheduleID string, w action.Window) (action.Instance, error) {
	if err := mapErr(ctx.Err()); err != nil {
		return action.Instance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.defs[scheduleID]; !ok {
		return action.Instance{}, action.ErrNotFound
	}
	key := instanceKey{scheduleID: scheduleID, windowIndex: w.Index}
	if inst, ok := s.instances[key]; ok {
		return inst, nil
	}
	now := time.Now()
	inst := action.Instance{
		ID:          uuid.NewString(),
		ScheduleID:  scheduleID,
		WindowIndex: w.Index,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.instances[key] = inst
	s.byID[inst.ID] = key
	return inst, nil
}

func (s *memoryStore) GetInstance(ctx context.Context, id string) (action.Instance, error) {
	if err := mapErr(ctx.Err()); err != nil {
		return action.Instance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return action.Instance{}, action.ErrNotFound
	}
	return s.instances[key], nil
}

func (s *memoryStore) SetInstanceCompletion(ctx context.Context, id string, completedAt time.Time, message string) (action.Instance, error) {
	if err := mapErr(ctx.Err()); err != nil {
		return action.Instance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return action.Instance{}, action.ErrNotFound
	}
	inst := s.instances[key]
	at := completedAt
	inst.CompletedAt = &at
	inst.Message = message
	inst.UpdatedAt = time.Now()
	s.instances[key] = inst
	return inst, nil
}

func (s *memoryStore) ListInstances(ctx context.Context, scheduleID string, q InstanceQuery) ([]action.Instance, int, error) {
	if err := mapErr(ctx.Err()); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	matched := make([]action.Instance, 0, 8)
	for key, inst := range s.instances {
		if key.scheduleID != scheduleID {
			continue
		}
		if q.Completed != nil && inst.Completed() != *q.Completed {
			continue
		}
		matched = append(matched, inst)
	}
	s.mu.Unlock()

	if err := sortInstances(matched, q.SortBy, q.Order); err != nil {
		return nil, 0, err
	}
	total := len(matched)
	return paginate(matched, q.Page, q.PerPage), total, nil
}

func sortInstances(insts []action.Instance, by InstanceSort, order SortOrder) error {
	var less func(a, b action.Instance) bool
	switch by {
	case "", InstanceSortWindowIndex:
		less = func(a, b action.Instance) bool { return a.WindowIndex < b.WindowIndex }
	case InstanceSortCreatedAt:
		less = func(a, b action.Instance) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		return &action.ValidationError{Field: "sort", Reason: "unsupported sort field " + string(by)}
	}
	desc, err := isDesc(order)
	if err != nil {
		return err
	}
	sort.SliceStable(insts, func(i, j int) bool {
		if desc {
			return less(insts[j], insts[i])
		}
		return less(insts[i], insts[j])
	})
	return nil
}

func isDesc(order SortOrder) (bool, error) {
	switch order {
	case "", OrderAsc:
		return false, nil
	case OrderDesc:
		return true, nil
	default:
		return false, &action.ValidationError{Field: "order", Reason: "must be asc or desc"}
	}
}

func paginate[T any](items []T, page, perPage int) []T {
	limit, offset := pageBounds(page, perPage)
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
