package service

import (
	"context"
	"log"
	"sort"
	"time"

	"tandem/internal/model"
	"tandem/internal/repository"
)

// Scheduler is the batch matcher: a single goroutine around a self-rearming
// one-shot timer. Firing instants align to the match interval on the wall
// clock, so the cadence is independent of when the timer happened to fire.
// The loop never overlaps itself; it only re-arms after a run finishes.
type Scheduler struct {
	schedule *ScheduleService
	queue    repository.QueueRepo
	matches  *MatchService

	interval    time.Duration
	cleanupLead time.Duration

	kick chan struct{}

	// cleanedUpTo is the period end the last queue cleanup covered. Written
	// and read only by the Run goroutine (and runCleanup).
	cleanedUpTo time.Time

	nowFunc func() time.Time
}

// NewScheduler creates the batch scheduler. Batch pairing goes through the
// match service so its per-level locks also serialize batch rounds against
// immediate matches.
func NewScheduler(
	schedule *ScheduleService,
	queue repository.QueueRepo,
	matches *MatchService,
	interval, cleanupLead time.Duration,
) *Scheduler {
	return &Scheduler{
		schedule:    schedule,
		queue:       queue,
		matches:     matches,
		interval:    interval,
		cleanupLead: cleanupLead,
		kick:        make(chan struct{}, 1),
		nowFunc:     time.Now,
	}
}

// Kick forces an immediate re-evaluation of the timer, used after admin
// schedule mutations.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

type schedulerAction int

const (
	actionNone schedulerAction = iota
	actionMatch
	actionCleanup
)

// Run drives the scheduling loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("Scheduler: started (interval %s)", s.interval)
	for {
		now := s.nowFunc()
		fireAt, action := s.decide(now)
		wait := time.Until(fireAt)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("Scheduler: stopped")
			return
		case <-s.kick:
			if !timer.Stop() {
				<-timer.C
			}
			continue
		case <-timer.C:
		}

		switch action {
		case actionMatch:
			if err := s.runMatchRound(ctx); err != nil {
				log.Printf("Scheduler: match round failed: %v", err)
			}
		case actionCleanup:
			s.runCleanup(ctx)
		}
	}
}

// decide computes the next firing instant and what to do then.
func (s *Scheduler) decide(now time.Time) (time.Time, schedulerAction) {
	if !s.schedule.IsActive(now) {
		next := s.schedule.NextPeriodStart(now)
		if next.IsZero() {
			// No periods configured; poll until an admin adds one or kicks us.
			return now.Add(time.Hour), actionNone
		}
		return next, actionNone
	}
	if !s.schedule.CanAcceptNewSession(now) {
		// Too little time left for a full session: clear the queue shortly
		// before the period closes, then wait for the next period.
		end, ok := s.schedule.PeriodEnd(now)
		if !ok {
			return s.schedule.NextPeriodStart(now), actionNone
		}
		if s.cleanedUpTo.Equal(end) {
			// This period's cleanup already ran; wait out the close.
			return s.schedule.NextPeriodStart(now), actionNone
		}
		cleanupAt := end.Add(-s.cleanupLead)
		if cleanupAt.Before(now) {
			cleanupAt = now
		}
		return cleanupAt, actionCleanup
	}
	return nextCycleTime(now, s.interval), actionMatch
}

// runMatchRound sweeps the whole queue: waiting entries grouped by level,
// consecutive pairs oldest-first, one shared transaction for all pairs. An
// odd entry stays queued for the next cycle.
func (s *Scheduler) runMatchRound(ctx context.Context) error {
	now := s.nowFunc()
	if !s.schedule.IsActive(now) || !s.schedule.CanAcceptNewSession(now) {
		return nil
	}

	n, err := s.matches.MatchAllWaiting(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Scheduler: matched %d pair(s)", n)
	}
	return nil
}

// runCleanup purges the queue at window close so nobody lingers overnight.
// Marks the period's end so decide does not re-arm the cleanup.
func (s *Scheduler) runCleanup(ctx context.Context) {
	if end, ok := s.schedule.PeriodEnd(s.nowFunc()); ok {
		s.cleanedUpTo = end
	}
	n, err := s.queue.DeleteAll(ctx)
	if err != nil {
		log.Printf("Scheduler: queue cleanup failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Scheduler: cleared %d queue entries at window close", n)
	}
}

// pairByLevel groups waiting entries by level and pairs consecutive entries
// oldest-first. The trailing unpaired entry of an odd-sized level remains.
func pairByLevel(entries []*model.QueueEntry) []Pair {
	byLevel := make(map[string][]*model.QueueEntry)
	var levels []string
	for _, e := range entries {
		if _, ok := byLevel[e.Level]; !ok {
			levels = append(levels, e.Level)
		}
		byLevel[e.Level] = append(byLevel[e.Level], e)
	}
	sort.Strings(levels)

	var pairs []Pair
	for _, level := range levels {
		group := byLevel[level]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].JoinedAt.Before(group[j].JoinedAt)
		})
		for i := 0; i+1 < len(group); i += 2 {
			pairs = append(pairs, Pair{A: group[i], B: group[i+1]})
		}
	}
	return pairs
}

// nextCycleTime returns the next wall-clock instant aligned to the interval.
func nextCycleTime(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}
