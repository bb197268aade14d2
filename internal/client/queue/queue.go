// Package queue is the client's durable buffer of taps the server has not
// confirmed yet.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/okian/zikir/internal/client/storage"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/pkg/logger"
)

// DefaultGrace is how long a confirmed entry stays visible before Purge
// removes it.
const DefaultGrace = 3 * time.Second

// ErrUnknownEntry is returned when a local id is not in the queue.
var ErrUnknownEntry = errors.New("unknown pending entry")

// CountQueue merges taps per room and user and writes every change through
// to its storage before returning. A failed write leaves the queue as it
// was before the call.
type CountQueue struct {
	mu      sync.Mutex
	store   storage.Storage
	entries []model.PendingIncrement
	timer   clockwork.Timer
	closed  bool

	clock  clockwork.Clock
	grace  time.Duration
	newID  func() string
	logger logger.Logger
}

// Open loads the stored entries.
func Open(ctx context.Context, store storage.Storage, opts ...Option) (*CountQueue, error) {
	q := &CountQueue{
		store: store,
		clock: clockwork.NewRealClock(),
		grace: DefaultGrace,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Get().Named("count-queue")
	}

	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending increments: %w", err)
	}
	q.entries = entries
	if q.hasSettled() {
		q.schedulePurge()
	}
	return q, nil
}

// AddIncrement records one tap. It merges into the unsynced entry of the
// same room and user when there is one.
func (q *CountQueue) AddIncrement(ctx context.Context, roomID, userID string) (model.PendingIncrement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var out model.PendingIncrement
	err := q.mutate(ctx, func(entries []model.PendingIncrement) []model.PendingIncrement {
		for i := range entries {
			e := &entries[i]
			if e.RoomID == roomID && e.UserID == userID && !e.Synced && !e.Rejected {
				e.Count++
				e.CreatedAt = now
				out = *e
				return entries
			}
		}
		out = model.PendingIncrement{
			LocalID:   q.newID(),
			RoomID:    roomID,
			UserID:    userID,
			Count:     1,
			CreatedAt: now,
		}
		return append(entries, out)
	})
	if err != nil {
		return model.PendingIncrement{}, err
	}
	return out, nil
}

// PendingCount is the number of unconfirmed taps for the pair.
func (q *CountQueue) PendingCount(roomID, userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.RoomID == roomID && e.UserID == userID {
			n += e.Pending()
		}
	}
	return n
}

// Unsynced returns copies of the entries that still have taps to send.
func (q *CountQueue) Unsynced() []model.PendingIncrement {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []model.PendingIncrement
	for _, e := range q.entries {
		if e.Pending() > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of every entry, synced and rejected included.
func (q *CountQueue) Entries() []model.PendingIncrement {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}

// MarkSynced confirms the first sentCount taps of an entry. Taps merged in
// while the request was in flight stay pending. A fully confirmed entry is
// removed by Purge after the grace delay.
func (q *CountQueue) MarkSynced(ctx context.Context, localID string, sentCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.index(localID) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, localID)
	}
	now := q.clock.Now()
	synced := false
	err := q.mutate(ctx, func(entries []model.PendingIncrement) []model.PendingIncrement {
		e := &entries[q.index(localID)]
		if sentCount > e.Acked {
			e.Acked = min(sentCount, e.Count)
		}
		if e.Acked >= e.Count && !e.Synced {
			e.Synced = true
			e.SyncedAt = now
			synced = true
		}
		return entries
	})
	if err != nil {
		return err
	}
	if synced {
		q.schedulePurge()
	}
	return nil
}

// Reject marks entries the server refused for good. They are never sent
// again, no longer count as pending, and are removed by Purge after the
// grace delay.
func (q *CountQueue) Reject(ctx context.Context, localIDs []string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	rejected := false
	err := q.mutate(ctx, func(entries []model.PendingIncrement) []model.PendingIncrement {
		for i := range entries {
			e := &entries[i]
			if slices.Contains(localIDs, e.LocalID) && !e.Synced && !e.Rejected {
				e.Rejected = true
				e.RejectReason = reason
				e.RejectedAt = now
				rejected = true
			}
		}
		return entries
	})
	if err != nil {
		return err
	}
	if rejected {
		q.schedulePurge()
	}
	return nil
}

// Purge drops synced and rejected entries whose grace delay has passed and
// reports how many were removed.
func (q *CountQueue) Purge(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.purge(ctx)
}

func (q *CountQueue) purge(ctx context.Context) (int, error) {
	cutoff := q.clock.Now().Add(-q.grace)
	expired := func(e model.PendingIncrement) bool {
		at, done := e.Settled()
		return done && !at.After(cutoff)
	}

	removed := 0
	if slices.ContainsFunc(q.entries, expired) {
		before := len(q.entries)
		err := q.mutate(ctx, func(entries []model.PendingIncrement) []model.PendingIncrement {
			return slices.DeleteFunc(entries, expired)
		})
		if err != nil {
			return 0, err
		}
		removed = before - len(q.entries)
	}
	if q.hasSettled() {
		q.schedulePurge()
	}
	return removed, nil
}

// Close stops the purge timer. The storage stays open and belongs to the
// caller.
func (q *CountQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// mutate applies fn to a copy of the entries, saves the result and only
// then publishes it. Callers hold q.mu.
func (q *CountQueue) mutate(ctx context.Context, fn func([]model.PendingIncrement) []model.PendingIncrement) error {
	next := fn(slices.Clone(q.entries))
	if err := q.store.Save(ctx, next); err != nil {
		q.logger.Error(ctx, "persist pending increments failed", logger.Error(err))
		return fmt.Errorf("persist pending increments: %w", err)
	}
	q.entries = next
	return nil
}

func (q *CountQueue) index(localID string) int {
	return slices.IndexFunc(q.entries, func(e model.PendingIncrement) bool { return e.LocalID == localID })
}

func (q *CountQueue) hasSettled() bool {
	return slices.ContainsFunc(q.entries, func(e model.PendingIncrement) bool {
		_, done := e.Settled()
		return done
	})
}

// schedulePurge arms one timer for the grace delay. Callers hold q.mu.
func (q *CountQueue) schedulePurge() {
	if q.closed || q.timer != nil {
		return
	}
	q.timer = q.clock.AfterFunc(q.grace, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.timer = nil
		if q.closed {
			return
		}
		if _, err := q.purge(context.Background()); err != nil {
			q.logger.Warn(context.Background(), "purge of settled entries failed", logger.Error(err))
		}
	})
}
