package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tandem/internal/model"
	"tandem/internal/repository"
)

// ScheduleService tracks the availability window: the configured daily
// periods during which matching may run, plus the operator override. Periods
// are durable; the in-memory copy is reloaded on every mutation.
type ScheduleService struct {
	repo            repository.ScheduleRepo
	sessionDuration time.Duration
	loc             *time.Location

	mu       sync.RWMutex
	disabled bool
	periods  []model.ActivePeriod

	onChange func() // kicks the batch scheduler; set once at wiring time
}

// NewScheduleService creates a schedule service. Call Load before use.
func NewScheduleService(repo repository.ScheduleRepo, sessionDuration time.Duration, loc *time.Location) *ScheduleService {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleService{
		repo:            repo,
		sessionDuration: sessionDuration,
		loc:             loc,
	}
}

// SetOnChange registers the callback invoked after every schedule mutation.
func (s *ScheduleService) SetOnChange(fn func()) {
	s.onChange = fn
}

// Load reads the durable schedule, seeding a default config on first run.
func (s *ScheduleService) Load(ctx context.Context) error {
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	if cfg == nil {
		cfg = &model.ScheduleConfig{
			Periods: []model.ActivePeriod{
				{Start: model.TimeOfDay{Hour: 8}, End: model.TimeOfDay{Hour: 22}},
			},
			UpdatedAt: time.Now(),
		}
		if err := s.repo.Save(ctx, cfg); err != nil {
			return fmt.Errorf("failed to seed schedule: %w", err)
		}
	}

	s.mu.Lock()
	s.disabled = cfg.Disabled
	s.periods = cfg.Periods
	s.mu.Unlock()
	return nil
}

// IsActive reports whether matching is currently permitted. The operator
// override is checked before the schedule.
func (s *ScheduleService) IsActive(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disabled {
		return false
	}
	_, ok := s.currentPeriod(now)
	return ok
}

// CanAcceptNewSession reports whether a full session still fits before the
// current period closes. A period with exactly the session duration left
// still accepts.
func (s *ScheduleService) CanAcceptNewSession(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disabled {
		return false
	}
	p, ok := s.currentPeriod(now)
	if !ok {
		return false
	}
	end := s.periodEnd(now, p)
	return end.Sub(now) >= s.sessionDuration
}

// NextPeriodStart returns the start of the next period: later today if one is
// still ahead, otherwise tomorrow's first period. Zero time if no periods are
// configured.
func (s *ScheduleService) NextPeriodStart(now time.Time) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.periods) == 0 {
		return time.Time{}
	}

	local := now.In(s.loc)
	minute := local.Hour()*60 + local.Minute()
	for _, p := range s.periods {
		if p.Start.Minutes() > minute {
			return s.atTime(local, p.Start)
		}
	}
	first := s.periods[0]
	return s.atTime(local.AddDate(0, 0, 1), first.Start)
}

// PeriodEnd returns the end instant of the period containing now.
func (s *ScheduleService) PeriodEnd(now time.Time) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.currentPeriod(now)
	if !ok {
		return time.Time{}, false
	}
	return s.periodEnd(now, p), true
}

// SetDisabled flips the operator override and persists it.
func (s *ScheduleService) SetDisabled(ctx context.Context, disabled bool) error {
	if err := s.save(ctx, func(cfg *model.ScheduleConfig) error {
		cfg.Disabled = disabled
		return nil
	}); err != nil {
		return err
	}
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

// AddPeriod validates and appends an active period.
func (s *ScheduleService) AddPeriod(ctx context.Context, p model.ActivePeriod) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.save(ctx, func(cfg *model.ScheduleConfig) error {
		cfg.Periods = append(cfg.Periods, p)
		return nil
	}); err != nil {
		return err
	}
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

// RemovePeriod deletes the period at the given index.
func (s *ScheduleService) RemovePeriod(ctx context.Context, index int) error {
	if err := s.save(ctx, func(cfg *model.ScheduleConfig) error {
		if index < 0 || index >= len(cfg.Periods) {
			return fmt.Errorf("period index %d out of range", index)
		}
		cfg.Periods = append(cfg.Periods[:index], cfg.Periods[index+1:]...)
		return nil
	}); err != nil {
		return err
	}
	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

// Periods returns a copy of the configured periods.
func (s *ScheduleService) Periods() []model.ActivePeriod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ActivePeriod, len(s.periods))
	copy(out, s.periods)
	return out
}

// Disabled reports the operator override state.
func (s *ScheduleService) Disabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled
}

// save mutates the durable config and refreshes the in-memory copy.
func (s *ScheduleService) save(ctx context.Context, mutate func(*model.ScheduleConfig) error) error {
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	if cfg == nil {
		cfg = &model.ScheduleConfig{}
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now()
	if err := s.repo.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	s.mu.Lock()
	s.disabled = cfg.Disabled
	s.periods = cfg.Periods
	s.mu.Unlock()
	return nil
}

// currentPeriod finds the period containing now. Callers hold s.mu.
func (s *ScheduleService) currentPeriod(now time.Time) (model.ActivePeriod, bool) {
	local := now.In(s.loc)
	minute := local.Hour()*60 + local.Minute()
	for _, p := range s.periods {
		if minute >= p.Start.Minutes() && minute < p.End.Minutes() {
			return p, true
		}
	}
	return model.ActivePeriod{}, false
}

func (s *ScheduleService) periodEnd(now time.Time, p model.ActivePeriod) time.Time {
	return s.atTime(now.In(s.loc), p.End)
}

func (s *ScheduleService) atTime(day time.Time, t model.TimeOfDay) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, s.loc)
}
