// Package repository holds the live counter stores.
//
// Every mutating operation is a single atomic step against its backend:
// a mutex for the memory store, one statement or one transaction for
// Postgres, one Lua script for Redis.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/pkg/metrics"
)

// Store provides atomic access to live counters.
type Store interface {
	// Create makes the (room, user) row if it does not exist and returns it.
	Create(ctx context.Context, roomID, userID string) (model.LiveCounter, error)

	// Get returns one row, or ErrNotFound.
	Get(ctx context.Context, roomID, userID string) (model.LiveCounter, error)

	// Increment applies one live tap at the store's current time.
	// Returns ErrNotFound if the row does not exist; rows are never created here.
	Increment(ctx context.Context, roomID, userID string) (model.LiveCounter, error)

	// IncrementBulk applies every tap whose offline id was never applied to
	// this row before and reports the rest as duplicates.
	IncrementBulk(ctx context.Context, roomID, userID string, taps []model.Tap) (model.LiveCounter, model.BulkResult, error)

	// ResetCurrent zeroes the session count and leaves the other tallies.
	ResetCurrent(ctx context.Context, roomID, userID string) (model.LiveCounter, error)

	// ListRoom returns every row of a room in no particular order.
	ListRoom(ctx context.Context, roomID string) ([]model.LiveCounter, error)

	Close() error
}

// Store operation names used for metrics labels.
const (
	opCreate   = "create"
	opGet      = "get"
	opIncr     = "increment"
	opBulk     = "increment_bulk"
	opReset    = "reset_current"
	opListRoom = "list_room"
)

// tapTime places a client timestamp on the server timeline: missing
// timestamps mean now and timestamps from the future are clamped to now.
func tapTime(at, now time.Time) time.Time {
	if at.IsZero() || at.After(now) {
		return now
	}
	return at
}

func observe(backend, op string, start time.Time, err *error) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
	if *err != nil && !errors.Is(*err, ErrNotFound) {
		metrics.RecordStoreError(backend, op)
		metrics.RecordErrorByComponent("store", backend)
	}
}
