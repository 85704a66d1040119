// Package poller materializes instances without request traffic. On a
// fixed tick it resolves every active definition's current window via
// the schedule API, which creates the covering instance on first
// observation and surfaces schedules whose grace period has lapsed.
package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"actionwatch/internal/action"
	"actionwatch/internal/service"
	"actionwatch/internal/storage"
	logx "actionwatch/pkg/logx"
)

// Config controls the poller.
type Config struct {
	Enabled bool

	// Every is the tick spacing. 0 means the default (1m).
	Every time.Duration

	// Timezone is the IANA zone the cron runner ticks in. It has no
	// effect on window math (definitions carry their own zones); it only
	// anchors the tick schedule. Empty means UTC.
	Timezone string

	// WarnRatePerSec bounds how many missed-schedule warnings are logged
	// per second. 0 means the default (1).
	WarnRatePerSec int
}

// Service drives periodic polling with a cron @every trigger.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	api *service.Service

	c       *cron.Cron
	limiter *rate.Limiter

	// missed tracks instance IDs already warned about, so a schedule
	// stuck in Missed does not warn on every tick.
	missed map[string]struct{}
}

func New(cfg Config, api *service.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.WarnRatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		missed:  map[string]struct{}{},
	}
}

// Start begins ticking. It is a no-op when disabled or already started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	loc := time.UTC
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}
	every := s.cfg.Every
	if every <= 0 {
		every = time.Minute
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc("@every "+every.String(), func() { s.tick(ctx) }); err != nil {
		return err
	}
	s.c = c
	c.Start()
	s.log.Info("poller started",
		logx.Duration("every", every),
		logx.String("tz", loc.String()))
	return nil
}

// Stop halts ticking and waits for an in-flight tick to drain.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("poller stopped")
}

// tick is exported through Start only; tests drive it directly via Poll.
func (s *Service) tick(ctx context.Context) {
	if err := s.Poll(ctx, time.Now()); err != nil {
		s.log.Warn("poll failed", logx.Err(err))
	}
}

// Poll walks every active definition once, materializing the instance
// for the window enclosing now. Store errors abort the sweep; per-
// definition window errors are logged and skipped.
func (s *Service) Poll(ctx context.Context, now time.Time) error {
	active := true
	page := 1
	for {
		defs, total, err := s.api.ListSchedules(ctx, storage.DefinitionQuery{
			Active:  &active,
			SortBy:  storage.DefinitionSortCreatedAt,
			Page:    page,
			PerPage: 100,
		})
		if err != nil {
			return err
		}
		for _, def := range defs {
			s.pollOne(ctx, def, now)
		}
		if page*100 >= total || len(defs) == 0 {
			break
		}
		page++
	}
	return nil
}

func (s *Service) pollOne(ctx context.Context, def action.Definition, now time.Time) {
	view, err := s.api.GetCurrentInstance(ctx, def.ID, now)
	if err != nil {
		// A schedule deactivated between the listing and this call is
		// expected churn, not a fault.
		if errors.Is(err, action.ErrInactiveSchedule) || errors.Is(err, action.ErrNotFound) {
			return
		}
		s.log.Warn("current instance poll failed",
			logx.String("schedule_id", def.ID), logx.Err(err))
		return
	}

	if view.Status != action.StatusMissed {
		return
	}
	s.mu.Lock()
	_, seen := s.missed[view.Instance.ID]
	if !seen {
		s.missed[view.Instance.ID] = struct{}{}
		if len(s.missed) > 4096 {
			// Reset rather than grow without bound; the worst case is a
			// repeated warning for an old instance.
			s.missed = map[string]struct{}{view.Instance.ID: {}}
		}
	}
	s.mu.Unlock()

	if !seen && s.limiter.Allow() {
		s.log.Warn("occurrence missed",
			logx.String("schedule", def.Name),
			logx.String("schedule_id", def.ID),
			logx.Int("window_index", view.Window.Index),
			logx.Time("window_start", view.Window.Start))
	}
}
