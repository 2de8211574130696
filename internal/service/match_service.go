package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"tandem/internal/model"
	"tandem/internal/repository"
	"tandem/internal/state"
)

var (
	ErrWindowClosed   = errors.New("matching is not open right now")
	ErrWindowClosing  = errors.New("the current matching window is closing soon")
	ErrAlreadyQueued  = errors.New("user is already waiting in the queue")
	ErrAlreadyMatched = errors.New("user is already in an active session")
	ErrLevelRequired  = errors.New("level is required")
)

// maxImmediateAttempts bounds the wait-then-retry loop of the immediate
// matcher. A caller that keeps losing the level lock gives up quietly; the
// batch pass will pick the entries up.
const maxImmediateAttempts = 3

// JoinResult is the outcome of a successful queue join.
type JoinResult struct {
	Position        int64
	NextSessionTime time.Time
}

// StatusResult describes the window and the caller's current placement.
type StatusResult struct {
	Active          bool
	AcceptingNew    bool
	NextPeriodStart time.Time
	Queued          bool
	QueuePosition   int64
	Session         *model.Session
	Room            *model.Room
}

// MatchService owns the queue-facing operations and the immediate matcher.
type MatchService struct {
	queue    repository.QueueRepo
	sessions *SessionService
	schedule *ScheduleService
	index    *state.SessionIndex

	locks levelLocks

	matchInterval time.Duration
	nowFunc       func() time.Time
}

// NewMatchService creates a match service. matchInterval is the batch cadence
// used to predict the next session time for queued users.
func NewMatchService(
	queue repository.QueueRepo,
	sessions *SessionService,
	schedule *ScheduleService,
	index *state.SessionIndex,
	matchInterval time.Duration,
) *MatchService {
	return &MatchService{
		queue:         queue,
		sessions:      sessions,
		schedule:      schedule,
		index:         index,
		locks:         levelLocks{pending: make(map[string]chan struct{})},
		matchInterval: matchInterval,
		nowFunc:       time.Now,
	}
}

// JoinQueue validates and enqueues a user, then triggers a best-effort
// immediate match for their level.
func (s *MatchService) JoinQueue(ctx context.Context, entry *model.QueueEntry) (*JoinResult, error) {
	if entry.Level == "" {
		return nil, ErrLevelRequired
	}
	now := s.nowFunc()

	if !s.schedule.IsActive(now) {
		return nil, ErrWindowClosed
	}
	if !s.schedule.CanAcceptNewSession(now) {
		return nil, ErrWindowClosing
	}

	// Self-healing: a mapping to a dead session must not block a join.
	if sess, ok := s.index.ForUser(entry.UserID); ok {
		if sess.Status == model.SessionActive && sess.RoomFor(entry.UserID) != nil &&
			sess.RoomFor(entry.UserID).Status == model.RoomActive {
			return nil, ErrAlreadyMatched
		}
		s.index.DropUser(entry.UserID)
	}

	existing, err := s.queue.FindByUser(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyQueued
	}

	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = now
	}
	if err := s.queue.Insert(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}

	position, err := s.queue.Position(ctx, entry.Level, entry.JoinedAt)
	if err != nil {
		log.Printf("Match: failed to compute queue position for %s: %v", entry.UserID, err)
		position = 0
	}

	level := entry.Level
	go func() {
		if err := s.TryImmediateMatch(context.Background(), level); err != nil {
			log.Printf("Match: immediate match for level %s failed: %v", level, err)
		}
	}()

	return &JoinResult{
		Position:        position,
		NextSessionTime: nextCycleTime(now, s.matchInterval),
	}, nil
}

// Requeue re-enters a user through the normal join path. Implements the
// Requeuer hook used when a partner leaves a session.
func (s *MatchService) Requeue(ctx context.Context, entry *model.QueueEntry) error {
	entry.JoinedAt = time.Time{}
	_, err := s.JoinQueue(ctx, entry)
	return err
}

// LeaveQueue removes the user's waiting entry. Idempotent.
func (s *MatchService) LeaveQueue(ctx context.Context, userID string) error {
	return s.queue.DeleteUsers(ctx, []string{userID})
}

// Status reports the window state and the caller's queue or session placement.
func (s *MatchService) Status(ctx context.Context, userID string) (*StatusResult, error) {
	now := s.nowFunc()
	res := &StatusResult{
		Active:          s.schedule.IsActive(now),
		AcceptingNew:    s.schedule.CanAcceptNewSession(now),
		NextPeriodStart: s.schedule.NextPeriodStart(now),
	}

	if sess, ok := s.index.ForUser(userID); ok {
		if room := sess.RoomFor(userID); room != nil && room.Status == model.RoomActive {
			res.Session = sess
			res.Room = room
			return res, nil
		}
	}

	entry, err := s.queue.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		res.Queued = true
		if pos, err := s.queue.Position(ctx, entry.Level, entry.JoinedAt); err == nil {
			res.QueuePosition = pos
		}
	}
	return res, nil
}

// TryImmediateMatch attempts to pair the two oldest waiting entries of the
// level. One attempt per level runs at a time; a contender waits for the
// in-flight attempt and then retries, because the queue may have grown while
// it waited. Unrelated levels proceed in parallel.
func (s *MatchService) TryImmediateMatch(ctx context.Context, level string) error {
	for attempt := 0; attempt < maxImmediateAttempts; attempt++ {
		release, acquired := s.locks.acquire(ctx, level)
		if !acquired {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		err := func() error {
			defer release()
			return s.matchLevelOnce(ctx, level)
		}()
		return err
	}
	return nil
}

// MatchAllWaiting pairs the whole queue: entries grouped by level, consecutive
// pairs oldest-first, one creation-protocol run for all pairs. Every involved
// level's lock is held across selection and creation, so an immediate match
// triggered by a join can never consume the same entries. Returns the number
// of pairs created.
func (s *MatchService) MatchAllWaiting(ctx context.Context) (int, error) {
	entries, err := s.queue.AllWaiting(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	locked := make(map[string]struct{})
	var levels []string
	for _, e := range entries {
		if _, ok := locked[e.Level]; !ok {
			locked[e.Level] = struct{}{}
			levels = append(levels, e.Level)
		}
	}
	sort.Strings(levels)

	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, level := range levels {
		release, err := s.locks.hold(ctx, level)
		if err != nil {
			return 0, err
		}
		releases = append(releases, release)
	}

	// Re-read under the locks; immediate matches may have consumed entries
	// while we waited. Entries of levels that appeared since the first read
	// stay for the next cycle rather than being paired unlocked.
	entries, err = s.queue.AllWaiting(ctx)
	if err != nil {
		return 0, err
	}
	var eligible []*model.QueueEntry
	for _, e := range entries {
		if _, ok := locked[e.Level]; ok {
			eligible = append(eligible, e)
		}
	}
	pairs := pairByLevel(eligible)
	if len(pairs) == 0 {
		return 0, nil
	}
	if _, err := s.sessions.CreateSessions(ctx, pairs); err != nil {
		return 0, err
	}
	return len(pairs), nil
}

// matchLevelOnce selects the two FIFO-oldest entries and runs the creation
// protocol for exactly that pair. Caller holds the level lock.
func (s *MatchService) matchLevelOnce(ctx context.Context, level string) error {
	entries, err := s.queue.OldestByLevel(ctx, level, 2)
	if err != nil {
		return err
	}
	if len(entries) < 2 {
		return nil
	}
	_, err = s.sessions.CreateSessions(ctx, []Pair{{A: entries[0], B: entries[1]}})
	return err
}

// levelLocks is an advisory lock per level, expressed as a pending-completion
// channel other callers can await.
type levelLocks struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

// acquire takes the lock for a level. If another attempt holds it, acquire
// blocks until that attempt completes and reports acquired=false so the
// caller can re-check the queue. The returned release must be called exactly
// once when acquired.
func (l *levelLocks) acquire(ctx context.Context, level string) (release func(), acquired bool) {
	l.mu.Lock()
	if ch, ok := l.pending[level]; ok {
		l.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return nil, false
	}
	ch := make(chan struct{})
	l.pending[level] = ch
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.pending, level)
		l.mu.Unlock()
		close(ch)
	}, true
}

// hold blocks until the level lock is actually held, unlike acquire, which
// reports contention back to the caller.
func (l *levelLocks) hold(ctx context.Context, level string) (func(), error) {
	for {
		if release, acquired := l.acquire(ctx, level); acquired {
			return release, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
