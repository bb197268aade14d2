package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

type memoryRoom struct {
	room    Room
	members map[string]bool // user -> active
}

// MemoryRegistry keeps rooms in process memory.
type MemoryRegistry struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]*memoryRoom
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry(opts ...Option) *MemoryRegistry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryRegistry{clock: o.clock, rooms: make(map[string]*memoryRoom)}
}

func (r *MemoryRegistry) CreateRoom(_ context.Context, roomID string, private bool, members ...string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; ok {
		return Room{}, ErrRoomExists
	}
	mr := &memoryRoom{
		room:    Room{ID: roomID, Private: private, CreatedAt: r.clock.Now()},
		members: make(map[string]bool, len(members)),
	}
	for _, m := range members {
		mr.members[m] = true
	}
	r.rooms[roomID] = mr
	return mr.room, nil
}

func (r *MemoryRegistry) Room(_ context.Context, roomID string) (Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mr, ok := r.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	return mr.room, nil
}

func (r *MemoryRegistry) Access(_ context.Context, roomID, userID string) (Access, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mr, ok := r.rooms[roomID]
	if !ok {
		return Access{}, nil
	}
	return Access{RoomExists: true, Private: mr.room.Private, Member: mr.members[userID]}, nil
}

func (r *MemoryRegistry) Join(_ context.Context, roomID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mr, ok := r.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	if mr.members[userID] {
		return false, nil
	}
	mr.members[userID] = true
	return true, nil
}

func (r *MemoryRegistry) Leave(_ context.Context, roomID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mr, ok := r.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	if !mr.members[userID] {
		return false, nil
	}
	mr.members[userID] = false
	return true, nil
}

func (r *MemoryRegistry) Members(_ context.Context, roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mr, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, 0, len(mr.members))
	for u, active := range mr.members {
		if active {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op.
func (r *MemoryRegistry) Close() error { return nil }
