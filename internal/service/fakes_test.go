package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"tandem/internal/model"
	"tandem/internal/provider"
	"tandem/internal/repository"
)

type fakeQueueRepo struct {
	mu      sync.Mutex
	entries []*model.QueueEntry

	// afterAllWaiting, if set, runs once after the next AllWaiting snapshot is
	// taken, outside the lock. Lets a test interleave another matching flow at
	// that exact point.
	afterAllWaiting func()
}

func (r *fakeQueueRepo) Insert(ctx context.Context, entry *model.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == entry.UserID {
			return repository.ErrDuplicateUser
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeQueueRepo) FindByUser(ctx context.Context, userID string) (*model.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == userID {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeQueueRepo) OldestByLevel(ctx context.Context, level string, limit int64) ([]*model.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.QueueEntry
	for _, e := range r.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	sortEntries(out)
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeQueueRepo) AllWaiting(ctx context.Context) ([]*model.QueueEntry, error) {
	r.mu.Lock()
	out := make([]*model.QueueEntry, len(r.entries))
	copy(out, r.entries)
	sortEntries(out)
	hook := r.afterAllWaiting
	r.afterAllWaiting = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *fakeQueueRepo) Position(ctx context.Context, level string, joinedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.Level == level && e.JoinedAt.Before(joinedAt) {
			n++
		}
	}
	return n + 1, nil
}

func (r *fakeQueueRepo) DeleteUsers(ctx context.Context, userIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		drop[id] = struct{}{}
	}
	var kept []*model.QueueEntry
	for _, e := range r.entries {
		if _, ok := drop[e.UserID]; !ok {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	return nil
}

func (r *fakeQueueRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.entries))
	r.entries = nil
	return n, nil
}

func (r *fakeQueueRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*model.QueueEntry
	var n int64
	for _, e := range r.entries {
		if e.JoinedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

func (r *fakeQueueRepo) users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, e.UserID)
	}
	return out
}

func sortEntries(entries []*model.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
}

type fakeSessionRepo struct {
	mu        sync.Mutex
	records   map[string]*model.SessionRecord
	insertErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{records: make(map[string]*model.SessionRecord)}
}

func (r *fakeSessionRepo) InsertRecords(ctx context.Context, records []*model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, rec := range records {
		cp := *rec
		r.records[rec.RoomName] = &cp
	}
	return nil
}

func (r *fakeSessionRepo) SetRoomURL(ctx context.Context, roomName, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[roomName]; ok {
		rec.RoomURL = url
	}
	return nil
}

func (r *fakeSessionRepo) GetByRoomName(ctx context.Context, roomName string) (*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[roomName]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeSessionRepo) ActiveRoomNames(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, rec := range r.records {
		if rec.Status == model.RoomActive {
			names = append(names, rec.RoomName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *fakeSessionRepo) FindExpiredActive(ctx context.Context, now time.Time) ([]*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SessionRecord
	for _, rec := range r.records {
		if rec.Status == model.RoomActive && rec.ExpiresAt.Before(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) MarkRoomEnded(ctx context.Context, roomName string, endedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[roomName]
	if !ok || rec.Status != model.RoomActive {
		return false, nil
	}
	rec.Status = model.RoomEnded
	t := endedAt
	rec.EndedAt = &t
	return true, nil
}

func (r *fakeSessionRepo) MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.SessionID == sessionID && rec.Status == model.RoomActive {
			rec.Status = model.RoomEnded
			t := endedAt
			rec.EndedAt = &t
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for name, rec := range r.records {
		if rec.Status == model.RoomEnded && rec.CreatedAt.Before(cutoff) {
			delete(r.records, name)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) all() []*model.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SessionRecord
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

type fakeTxRunner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *fakeTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	r.calls++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

type fakeRoomProvider struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	hosted    []provider.Room
	createErr error
}

func (p *fakeRoomProvider) CreateRoom(ctx context.Context, name string, opts provider.RoomOptions) (*provider.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, name)
	return &provider.Room{Name: name, URL: "https://rooms.test/" + name}, nil
}

func (p *fakeRoomProvider) DeleteRoom(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, name)
	return nil
}

func (p *fakeRoomProvider) ListRooms(ctx context.Context) ([]provider.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.Room, len(p.hosted))
	copy(out, p.hosted)
	return out, nil
}

func (p *fakeRoomProvider) createdRooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.created))
	copy(out, p.created)
	return out
}

// fakeUsageGuard allows a fixed number of reservations; allow < 0 means
// unlimited.
type fakeUsageGuard struct {
	mu       sync.Mutex
	allow    int
	reserved int
	released int
	minutes  int
}

func (g *fakeUsageGuard) ReserveRoom(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.allow >= 0 && g.reserved >= g.allow {
		return false, nil
	}
	g.reserved++
	return true, nil
}

func (g *fakeUsageGuard) ReleaseRoom(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
	return nil
}

func (g *fakeUsageGuard) RecordMinutes(ctx context.Context, minutes int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minutes += minutes
	return nil
}

func (g *fakeUsageGuard) Usage(ctx context.Context) (int64, int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(g.reserved - g.released), int64(g.minutes), nil
}

type notifiedEvent struct {
	userID  string
	msgType string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (n *fakeNotifier) Notify(userID string, msgType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifiedEvent{userID: userID, msgType: msgType})
}

func (n *fakeNotifier) byType(msgType string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.msgType == msgType {
			out = append(out, e.userID)
		}
	}
	return out
}

type fakeScheduleRepo struct {
	mu  sync.Mutex
	cfg *model.ScheduleConfig
}

func (r *fakeScheduleRepo) Load(ctx context.Context) (*model.ScheduleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		return nil, nil
	}
	cp := *r.cfg
	cp.Periods = append([]model.ActivePeriod(nil), r.cfg.Periods...)
	return &cp, nil
}

func (r *fakeScheduleRepo) Save(ctx context.Context, cfg *model.ScheduleConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cfg
	cp.Periods = append([]model.ActivePeriod(nil), cfg.Periods...)
	r.cfg = &cp
	return nil
}

type fakeRequeuer struct {
	mu      sync.Mutex
	entries []*model.QueueEntry
}

func (r *fakeRequeuer) Requeue(ctx context.Context, entry *model.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}
