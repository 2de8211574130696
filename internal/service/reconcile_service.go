package service

import (
	"context"
	"log"
	"time"

	"tandem/internal/provider"
	"tandem/internal/repository"
	"tandem/internal/state"
)

// ReconcileService repairs drift between the three truth layers: the durable
// store, the external room provider, and the in-process index. It runs three
// periodic jobs: the session expiry sweep, orphan room cleanup, and retention
// GC.
type ReconcileService struct {
	records repository.SessionRepo
	queue   repository.QueueRepo
	rooms   provider.RoomProvider
	index   *state.SessionIndex
	usage   cacheGuard

	sweepInterval  time.Duration
	orphanInterval time.Duration
	gcInterval     time.Duration
	retention      time.Duration

	nowFunc func() time.Time
}

// cacheGuard is the slice of the usage guard the sweeps need.
type cacheGuard interface {
	RecordMinutes(ctx context.Context, minutes int) error
}

// NewReconcileService creates the reconciliation jobs.
func NewReconcileService(
	records repository.SessionRepo,
	queue repository.QueueRepo,
	rooms provider.RoomProvider,
	index *state.SessionIndex,
	usage cacheGuard,
	sweepInterval, orphanInterval, gcInterval, retention time.Duration,
) *ReconcileService {
	return &ReconcileService{
		records:        records,
		queue:          queue,
		rooms:          rooms,
		index:          index,
		usage:          usage,
		sweepInterval:  sweepInterval,
		orphanInterval: orphanInterval,
		gcInterval:     gcInterval,
		retention:      retention,
		nowFunc:        time.Now,
	}
}

// Run drives the periodic jobs until the context is cancelled.
func (s *ReconcileService) Run(ctx context.Context) {
	sweep := time.NewTicker(s.sweepInterval)
	orphan := time.NewTicker(s.orphanInterval)
	gc := time.NewTicker(s.gcInterval)
	defer sweep.Stop()
	defer orphan.Stop()
	defer gc.Stop()

	log.Println("Reconcile: jobs started")
	for {
		select {
		case <-ctx.Done():
			log.Println("Reconcile: jobs stopped")
			return
		case <-sweep.C:
			if n, err := s.SweepExpired(ctx); err != nil {
				log.Printf("Reconcile: expiry sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Reconcile: expired %d stale room(s)", n)
			}
		case <-orphan.C:
			if n, err := s.CleanOrphanRooms(ctx); err != nil {
				log.Printf("Reconcile: orphan cleanup failed: %v", err)
			} else if n > 0 {
				log.Printf("Reconcile: deleted %d orphan room(s)", n)
			}
		case <-gc.C:
			s.PurgeOld(ctx)
		}
	}
}

// SweepExpired ends durable session rows still marked active past their
// expiry. After a process restart the in-memory maps are empty, so this sweep
// is the only path that reconciles stale "still active" rows; matching index
// entries are removed best-effort by room name.
func (s *ReconcileService) SweepExpired(ctx context.Context) (int, error) {
	now := s.nowFunc()
	expired, err := s.records.FindExpiredActive(ctx, now)
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, rec := range expired {
		did, err := s.records.MarkRoomEnded(ctx, rec.RoomName, now)
		if err != nil {
			log.Printf("Reconcile: failed to expire room %s: %v", rec.RoomName, err)
			continue
		}
		if !did {
			continue // another flow ended it first
		}
		ended++

		if err := s.usage.RecordMinutes(ctx, int(rec.ExpiresAt.Sub(rec.CreatedAt).Minutes())); err != nil {
			log.Printf("Reconcile: failed to record minutes for %s: %v", rec.RoomName, err)
		}

		if sess, ok := s.index.ByRoomName(rec.RoomName); ok {
			_, remaining, _ := s.index.MarkRoomEnded(rec.RoomName, now)
			if remaining == 0 {
				s.index.Retire(sess.ID)
			}
		}
	}
	return ended, nil
}

// CleanOrphanRooms deletes every provider-side room that no durable active
// session references. This repairs drift from provisioning-phase faults and
// rooms never explicitly deleted.
func (s *ReconcileService) CleanOrphanRooms(ctx context.Context) (int, error) {
	hosted, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	names, err := s.records.ActiveRoomNames(ctx)
	if err != nil {
		return 0, err
	}
	active := make(map[string]struct{}, len(names))
	for _, n := range names {
		active[n] = struct{}{}
	}

	deleted := 0
	for _, room := range hosted {
		if _, ok := active[room.Name]; ok {
			continue
		}
		if err := s.rooms.DeleteRoom(ctx, room.Name); err != nil {
			log.Printf("Reconcile: failed to delete orphan room %s: %v", room.Name, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// PurgeOld removes terminal session rows and queue rows past the retention
// window.
func (s *ReconcileService) PurgeOld(ctx context.Context) {
	cutoff := s.nowFunc().Add(-s.retention)
	if n, err := s.records.DeleteEndedBefore(ctx, cutoff); err != nil {
		log.Printf("Reconcile: session GC failed: %v", err)
	} else if n > 0 {
		log.Printf("Reconcile: purged %d old session row(s)", n)
	}
	if n, err := s.queue.DeleteOlderThan(ctx, cutoff); err != nil {
		log.Printf("Reconcile: queue GC failed: %v", err)
	} else if n > 0 {
		log.Printf("Reconcile: purged %d old queue row(s)", n)
	}
}
