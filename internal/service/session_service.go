package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tandem/internal/cache"
	"tandem/internal/model"
	"tandem/internal/provider"
	"tandem/internal/repository"
	"tandem/internal/state"
)

// ErrNotInSession is returned when a leave request has no active session.
var ErrNotInSession = errors.New("user is not in an active session")

// Pair is one candidate match: the two FIFO-oldest waiting entries of a level.
type Pair struct {
	A *model.QueueEntry
	B *model.QueueEntry
}

// Requeuer re-enters a user into the queue through the normal join path.
// Implemented by MatchService; injected via setter to break the cycle.
type Requeuer interface {
	Requeue(ctx context.Context, entry *model.QueueEntry) error
}

// SessionService owns the session lifecycle: the ordered creation protocol
// shared by immediate and batch matching, natural end, and explicit leave.
type SessionService struct {
	tx      repository.TxRunner
	queue   repository.QueueRepo
	records repository.SessionRepo
	rooms   provider.RoomProvider
	usage   cache.UsageGuard
	index   *state.SessionIndex

	notifier Notifier
	requeuer Requeuer

	sessionDuration time.Duration
	roomExpiryGrace time.Duration

	nowFunc   func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// NewSessionService creates a session service.
func NewSessionService(
	tx repository.TxRunner,
	queue repository.QueueRepo,
	records repository.SessionRepo,
	rooms provider.RoomProvider,
	usage cache.UsageGuard,
	index *state.SessionIndex,
	sessionDuration, roomExpiryGrace time.Duration,
) *SessionService {
	return &SessionService{
		tx:              tx,
		queue:           queue,
		records:         records,
		rooms:           rooms,
		usage:           usage,
		index:           index,
		sessionDuration: sessionDuration,
		roomExpiryGrace: roomExpiryGrace,
		nowFunc:         time.Now,
		afterFunc:       time.AfterFunc,
	}
}

// SetNotifier injects the push-notification sink.
func (s *SessionService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRequeuer injects the join path used to re-queue an abandoned partner.
func (s *SessionService) SetRequeuer(r Requeuer) {
	s.requeuer = r
}

// CreateSessions runs the session creation protocol for a batch of candidate
// pairs. The phases are strictly ordered and each has its own failure
// handling:
//
//  1. quota check per pair: a denied pair is dropped and its queue rows
//     deleted; sibling pairs proceed.
//  2. one transaction for the whole batch: insert session records, delete
//     matched queue rows. On failure nothing external or in-memory happens
//     and the users stay queued.
//  3. provision rooms, only after the commit. A provisioning failure leaves a
//     degraded roomless session; it is logged, never rolled back, and later
//     repaired by the sweeps.
//  4. update the in-memory index last.
//  5. arm the one-shot end timer.
func (s *SessionService) CreateSessions(ctx context.Context, pairs []Pair) (*model.Session, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	now := s.nowFunc()

	// Phase 1: quota. Users denied a room slot would wait forever, so their
	// queue rows go too.
	admitted := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		ok, err := s.usage.ReserveRoom(ctx)
		if err != nil {
			log.Printf("Session: usage check failed for %s/%s: %v", p.A.UserID, p.B.UserID, err)
			continue
		}
		if !ok {
			log.Printf("Session: usage cap reached, dropping pair %s/%s", p.A.UserID, p.B.UserID)
			if err := s.queue.DeleteUsers(ctx, []string{p.A.UserID, p.B.UserID}); err != nil {
				log.Printf("Session: failed to remove capped pair from queue: %v", err)
			}
			continue
		}
		admitted = append(admitted, p)
	}
	if len(admitted) == 0 {
		return nil, nil
	}

	sess := &model.Session{
		ID:        uuid.New().String(),
		StartTime: now,
		EndTime:   now.Add(s.sessionDuration),
		Status:    model.SessionActive,
	}

	records := make([]*model.SessionRecord, 0, len(admitted))
	users := make([]string, 0, len(admitted)*2)
	for i, p := range admitted {
		roomName := fmt.Sprintf("%s-%s-%d", sess.ID[:8], p.A.Level, i)
		sess.Rooms = append(sess.Rooms, &model.Room{
			Name:      roomName,
			User1ID:   p.A.UserID,
			User2ID:   p.B.UserID,
			Level:     p.A.Level,
			Topic:     p.A.Topic,
			Language:  p.A.Language,
			StartedAt: now,
			ExpiresAt: sess.EndTime,
			Status:    model.RoomActive,
		})
		records = append(records, &model.SessionRecord{
			RoomName:  roomName,
			SessionID: sess.ID,
			User1ID:   p.A.UserID,
			User2ID:   p.B.UserID,
			Level:     p.A.Level,
			Topic:     p.A.Topic,
			Language:  p.A.Language,
			CreatedAt: now,
			ExpiresAt: sess.EndTime,
			Status:    model.RoomActive,
		})
		users = append(users, p.A.UserID, p.B.UserID)
	}

	// Phase 2: the first durable fact. Pulling users from the queue and
	// recording their session commit together or not at all.
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.records.InsertRecords(txCtx, records); err != nil {
			return err
		}
		return s.queue.DeleteUsers(txCtx, users)
	})
	if err != nil {
		for range admitted {
			if rerr := s.usage.ReleaseRoom(ctx); rerr != nil {
				log.Printf("Session: failed to release room reservation: %v", rerr)
			}
		}
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	// Phase 3: external provisioning, deliberately after the commit.
	for _, room := range sess.Rooms {
		created, err := s.rooms.CreateRoom(ctx, room.Name, provider.RoomOptions{
			MaxParticipants: 2,
			Expiry:          sess.EndTime.Add(s.roomExpiryGrace).Unix(),
		})
		if err != nil {
			log.Printf("Session %s: room %s provisioning failed, session degraded: %v", sess.ID, room.Name, err)
			continue
		}
		room.URL = created.URL
		if err := s.records.SetRoomURL(ctx, room.Name, created.URL); err != nil {
			log.Printf("Session %s: failed to persist room URL for %s: %v", sess.ID, room.Name, err)
		}
	}

	// Phase 4: the volatile projection, last because it is disposable.
	s.index.Put(sess)

	// Phase 5: natural end.
	timer := s.afterFunc(s.sessionDuration, func() {
		if err := s.EndSession(context.Background(), sess.ID); err != nil {
			log.Printf("Session %s: timed end failed: %v", sess.ID, err)
		}
	})
	s.index.SetEndTimer(sess.ID, timer)

	s.notifyMatched(sess)

	log.Printf("Session %s: created with %d room(s)", sess.ID, len(sess.Rooms))
	return sess, nil
}

// EndSession performs the natural end of a session: every room is marked
// ended, participants' mappings and stray queue rows are dropped, and the
// elapsed minutes are charged against the usage guard.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) error {
	sess, ok := s.index.Session(sessionID)
	if !ok {
		return nil
	}
	now := s.nowFunc()

	if _, err := s.records.MarkSessionEnded(ctx, sessionID, now); err != nil {
		log.Printf("Session %s: failed to mark ended in store: %v", sessionID, err)
	}

	minutes := 0
	for _, room := range sess.Rooms {
		if room.Status == model.RoomActive {
			minutes += elapsedMinutes(room.StartedAt, now)
		}
	}

	retired, _ := s.index.Retire(sessionID)
	if retired == nil {
		retired = sess
	}

	var users []string
	for _, room := range retired.Rooms {
		if room.Status != model.RoomActive {
			// Ended earlier by a leave; its users may legitimately hold fresh
			// queue entries by now.
			continue
		}
		room.Status = model.RoomEnded
		if room.EndedAt == nil {
			t := now
			room.EndedAt = &t
		}
		users = append(users, room.User1ID, room.User2ID)
	}
	if err := s.queue.DeleteUsers(ctx, users); err != nil {
		log.Printf("Session %s: failed to clear queue rows on end: %v", sessionID, err)
	}
	if err := s.usage.RecordMinutes(ctx, minutes); err != nil {
		log.Printf("Session %s: failed to record %d minutes: %v", sessionID, minutes, err)
	}

	if s.notifier != nil {
		for _, u := range users {
			s.notifier.Notify(u, MsgSessionEnded, map[string]string{"sessionId": sessionID})
		}
	}

	log.Printf("Session %s: ended (%d minutes used)", sessionID, minutes)
	return nil
}

// LeaveSession ends the caller's room early. The partner is re-queued through
// the normal join path unless rejoinQueue is false. External-deletion
// failures are logged and left to orphan reconciliation.
func (s *SessionService) LeaveSession(ctx context.Context, userID string, rejoinQueue bool) error {
	sess, ok := s.index.ForUser(userID)
	if !ok || sess.Status != model.SessionActive {
		return ErrNotInSession
	}
	room := sess.RoomFor(userID)
	if room == nil || room.Status != model.RoomActive {
		return ErrNotInSession
	}
	now := s.nowFunc()
	partner := room.Partner(userID)

	if _, err := s.records.MarkRoomEnded(ctx, room.Name, now); err != nil {
		log.Printf("Session %s: failed to mark room %s ended: %v", sess.ID, room.Name, err)
	}

	ended, remaining, ok := s.index.MarkRoomEnded(room.Name, now)
	if !ok {
		return ErrNotInSession
	}

	if err := s.queue.DeleteUsers(ctx, []string{userID, partner}); err != nil {
		log.Printf("Session %s: failed to clear queue rows on leave: %v", sess.ID, err)
	}

	if err := s.rooms.DeleteRoom(ctx, ended.Name); err != nil {
		log.Printf("Session %s: failed to delete room %s, reconciliation will: %v", sess.ID, ended.Name, err)
	}

	if err := s.usage.RecordMinutes(ctx, elapsedMinutes(ended.StartedAt, now)); err != nil {
		log.Printf("Session %s: failed to record minutes on leave: %v", sess.ID, err)
	}

	if remaining == 0 {
		s.index.Retire(sess.ID)
	}

	if rejoinQueue && s.requeuer != nil {
		entry := &model.QueueEntry{
			UserID:   partner,
			Level:    ended.Level,
			Topic:    ended.Topic,
			Language: ended.Language,
		}
		if err := s.requeuer.Requeue(ctx, entry); err != nil {
			log.Printf("Session %s: failed to re-queue partner %s: %v", sess.ID, partner, err)
		}
	}
	if s.notifier != nil {
		s.notifier.Notify(partner, MsgPartnerLeft, map[string]interface{}{
			"sessionId": sess.ID,
			"requeued":  rejoinQueue,
		})
	}

	log.Printf("Session %s: %s left room %s", sess.ID, userID, ended.Name)
	return nil
}

func (s *SessionService) notifyMatched(sess *model.Session) {
	if s.notifier == nil {
		return
	}
	for _, room := range sess.Rooms {
		for _, u := range []string{room.User1ID, room.User2ID} {
			s.notifier.Notify(u, MsgMatched, map[string]interface{}{
				"sessionId": sess.ID,
				"roomName":  room.Name,
				"roomUrl":   room.URL,
				"partner":   room.Partner(u),
				"expiresAt": room.ExpiresAt,
			})
		}
	}
}

func elapsedMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Minutes())
}
