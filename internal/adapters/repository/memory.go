package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/zikir/internal/domain/dedupe"
	"github.com/okian/zikir/internal/domain/model"
)

const backendMemory = "memory"

type rowKey struct {
	room string
	user string
}

// MemoryStore keeps counters in process memory behind one mutex.
type MemoryStore struct {
	opts options

	mu    sync.Mutex
	rows  map[rowKey]*model.LiveCounter
	rooms map[string]map[string]struct{}
	seen  dedupe.Deduper
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts:  o,
		rows:  make(map[rowKey]*model.LiveCounter),
		rooms: make(map[string]map[string]struct{}),
		seen:  dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(o.dedupeSize)),
	}
}

func (s *MemoryStore) Create(_ context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendMemory, opCreate, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	k := rowKey{roomID, userID}
	if row, ok := s.rows[k]; ok {
		return *row, nil
	}
	row := &model.LiveCounter{RoomID: roomID, UserID: userID}
	s.rows[k] = row
	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[roomID] = members
	}
	members[userID] = struct{}{}
	return *row, nil
}

func (s *MemoryStore) Get(_ context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendMemory, opGet, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey{roomID, userID}]
	if !ok {
		return model.LiveCounter{}, ErrNotFound
	}
	return *row, nil
}

func (s *MemoryStore) Increment(_ context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendMemory, opIncr, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey{roomID, userID}]
	if !ok {
		return model.LiveCounter{}, ErrNotFound
	}
	row.Increment(s.opts.clock.Now(), s.opts.loc)
	return *row, nil
}

func (s *MemoryStore) IncrementBulk(ctx context.Context, roomID, userID string, taps []model.Tap) (c model.LiveCounter, res model.BulkResult, err error) {
	defer observe(backendMemory, opBulk, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey{roomID, userID}]
	if !ok {
		return model.LiveCounter{}, res, ErrNotFound
	}

	now := s.opts.clock.Now()
	var latest time.Time
	for _, tap := range taps {
		if s.seen.SeenAndRecord(ctx, dedupe.Key(roomID, userID, tap.OfflineID)) {
			res.Duplicates++
			continue
		}
		res.Applied++
		if at := tapTime(tap.At, now); at.After(latest) {
			latest = at
		}
	}
	row.ApplyBulk(int64(res.Applied), latest, s.opts.loc)
	return *row, res, nil
}

func (s *MemoryStore) ResetCurrent(_ context.Context, roomID, userID string) (c model.LiveCounter, err error) {
	defer observe(backendMemory, opReset, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[rowKey{roomID, userID}]
	if !ok {
		return model.LiveCounter{}, ErrNotFound
	}
	row.CurrentCount = 0
	return *row, nil
}

func (s *MemoryStore) ListRoom(_ context.Context, roomID string) (rows []model.LiveCounter, err error) {
	defer observe(backendMemory, opListRoom, time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.rooms[roomID]
	rows = make([]model.LiveCounter, 0, len(members))
	for userID := range members {
		rows = append(rows, *s.rows[rowKey{roomID, userID}])
	}
	return rows, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
