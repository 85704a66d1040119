// Package service exposes the schedule API: definition CRUD plus the
// current/next instance flow that ties window computation, idempotent
// instance creation, and status evaluation together.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"actionwatch/internal/action"
	"actionwatch/internal/storage"
	logx "actionwatch/pkg/logx"
)

// Config holds the service policy knobs.
type Config struct {
	// ForbidCompletionOverwrite turns a second RecordCompletion on the
	// same instance into ErrAlreadyCompleted. Off by default: the
	// completion fields may be re-recorded, last write wins.
	ForbidCompletionOverwrite bool
}

// Service implements the schedule API over a storage.Store. All methods
// take explicit inputs; nothing reads ambient request state, and the
// reference instant for window math is always a parameter so tests can
// pin it.
type Service struct {
	store storage.Store
	cfg   Config
	log   logx.Logger

	now func() time.Time // record timestamps only, never window math
}

func New(store storage.Store, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, cfg: cfg, log: log, now: time.Now}
}

// SetNow overrides the record-timestamp clock. Tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// CreateScheduleParams is the explicit input for CreateSchedule.
type CreateScheduleParams struct {
	Name        string
	Description string
	Active      bool
	Visible     bool

	StartAt           time.Time
	Timezone          string
	ScheduleInterval  time.Duration
	CompletionLatency time.Duration

	GroupID string
}

func (p CreateScheduleParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &action.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.StartAt.IsZero() {
		return &action.ValidationError{Field: "start_at", Reason: "must be set"}
	}
	if p.ScheduleInterval <= 0 {
		return &action.ValidationError{Field: "schedule_interval", Reason: "must be positive"}
	}
	if p.CompletionLatency < 0 {
		return &action.ValidationError{Field: "completion_latency", Reason: "must not be negative"}
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return &action.ValidationError{Field: "timezone", Reason: "unknown IANA zone " + p.Timezone}
	}
	return nil
}

func (s *Service) CreateSchedule(ctx context.Context, p CreateScheduleParams) (action.Definition, error) {
	if err := p.validate(); err != nil {
		return action.Definition{}, err
	}
	now := s.now()
	def := action.Definition{
		ID:                uuid.NewString(),
		Name:              p.Name,
		Description:       p.Description,
		Active:            p.Active,
		Visible:           p.Visible,
		StartAt:           p.StartAt,
		Timezone:          p.Timezone,
		ScheduleInterval:  p.ScheduleInterval,
		CompletionLatency: p.CompletionLatency,
		GroupID:           p.GroupID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return action.Definition{}, err
	}
	s.log.Info("schedule created",
		logx.String("id", def.ID),
		logx.String("name", def.Name),
		logx.Duration("interval", def.ScheduleInterval))
	return def, nil
}

// UpdateScheduleParams carries a partial update. Nil fields are left
// unchanged. StartAt, Timezone and ScheduleInterval are absent on
// purpose: editing the anchor would renumber every historical window.
type UpdateScheduleParams struct {
	Name              *string
	Description       *string
	Active            *bool
	Visible           *bool
	CompletionLatency *time.Duration
	GroupID           *string
}

func (s *Service) UpdateSchedule(ctx context.Context, id string, p UpdateScheduleParams) (action.Definition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return action.Definition{}, err
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return action.Definition{}, &action.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		def.Name = *p.Name
	}
	if p.Description != nil {
		def.Description = *p.Description
	}
	if p.Active != nil {
		def.Active = *p.Active
	}
	if p.Visible != nil {
		def.Visible = *p.Visible
	}
	if p.CompletionLatency != nil {
		if *p.CompletionLatency < 0 {
			return action.Definition{}, &action.ValidationError{Field: "completion_latency", Reason: "must not be negative"}
		}
		def.CompletionLatency = *p.CompletionLatency
	}
	if p.GroupID != nil {
		def.GroupID = *p.GroupID
	}
	def.UpdatedAt = s.now()
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return action.Definition{}, err
	}
	return def, nil
}

func (s *Service) GetSchedule(ctx context.Context, id string) (action.Definition, error) {
	return s.store.GetDefinition(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, q storage.DefinitionQuery) ([]action.Definition, int, error) {
	return s.store.ListDefinitions(ctx, q)
}

// DeleteSchedule removes a definition and, by cascade, all its instances.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.log.Info("schedule deleted", logx.String("id", id))
	return nil
}

// InstanceView pairs a persisted instance with its derived window and
// the status evaluated at the request's reference instant.
type InstanceView struct {
	Instance action.Instance
	Window   action.Window
	Status   action.Status
}

// GetCurrentInstance resolves the window enclosing now and returns its
// instance, creating it on first observation. Concurrent calls for the
// same window all land on the single stored row.
func (s *Service) GetCurrentInstance(ctx context.Context, scheduleID string, now time.Time) (InstanceView, error) {
	return s.instanceFor(ctx, scheduleID, now, action.CurrentWindow)
}

// GetNextInstance is GetCurrentInstance for the window after the one
// enclosing now.
func (s *Service) GetNextInstance(ctx context.Context, scheduleID string, now time.Time) (InstanceView, error) {
	return s.instanceFor(ctx, scheduleID, now, action.NextWindow)
}

func (s *Service) instanceFor(ctx context.Context, scheduleID string, now time.Time,
	window func(action.Definition, time.Time) (action.Window, error)) (InstanceView, error) {

	def, err := s.store.GetDefinition(ctx, scheduleID)
	if err != nil {
		return InstanceView{}, err
	}
	w, err := window(def, now)
	if err != nil {
		return InstanceView{}, err
	}
	inst, err := s.store.GetOrCreateInstance(ctx, def.ID, w)
	if err != nil {
		return InstanceView{}, err
	}
	return InstanceView{
		Instance: inst,
		Window:   w,
		Status:   action.Evaluate(inst, w, def.CompletionLatency, now),
	}, nil
}

// RecordCompletion marks an instance completed. Whether a second
// completion overwrites the first is governed by
// Config.ForbidCompletionOverwrite.
func (s *Service) RecordCompletion(ctx context.Context, instanceID string, completedAt time.Time, message string) (InstanceView, error) {
	if completedAt.IsZero() {
		return InstanceView{}, &action.ValidationError{Field: "completed_at", Reason: "must be set"}
	}
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return InstanceView{}, err
	}
	if s.cfg.ForbidCompletionOverwrite && inst.Completed() {
		return InstanceView{}, action.ErrAlreadyCompleted
	}
	inst, err = s.store.SetInstanceCompletion(ctx, instanceID, completedAt, message)
	if err != nil {
		return InstanceView{}, err
	}
	return s.view(ctx, inst, s.now())
}

// GetInstance returns one instance with its window and current status.
func (s *Service) GetInstance(ctx context.Context, instanceID string, now time.Time) (InstanceView, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return InstanceView{}, err
	}
	return s.view(ctx, inst, now)
}

// ListInstances returns a definition's instances with evaluated status.
func (s *Service) ListInstances(ctx context.Context, scheduleID string, q storage.InstanceQuery, now time.Time) ([]InstanceView, int, error) {
	def, err := s.store.GetDefinition(ctx, scheduleID)
	if err != nil {
		return nil, 0, err
	}
	insts, total, err := s.store.ListInstances(ctx, scheduleID, q)
	if err != nil {
		return nil, 0, err
	}
	views := make([]InstanceView, 0, len(insts))
	for _, inst := range insts {
		w, err := action.WindowAtIndex(def, inst.WindowIndex)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, InstanceView{
			Instance: inst,
			Window:   w,
			Status:   action.Evaluate(inst, w, def.CompletionLatency, now),
		})
	}
	return views, total, nil
}

func (s *Service) view(ctx context.Context, inst action.Instance, now time.Time) (InstanceView, error) {
	def, err := s.store.GetDefinition(ctx, inst.ScheduleID)
	if err != nil {
		return InstanceView{}, err
	}
	w, err := action.WindowAtIndex(def, inst.WindowIndex)
	if err != nil {
		return InstanceView{}, err
	}
	return InstanceView{
		Instance: inst,
		Window:   w,
		Status:   action.Evaluate(inst, w, def.CompletionLatency, now),
	}, nil
}
