// Package storage persists the client's pending increments.
package storage

import (
	"context"
	"errors"

	"github.com/okian/zikir/internal/domain/model"
)

// ErrClosed is returned by a storage after Close.
var ErrClosed = errors.New("storage closed")

// Storage durably holds the whole pending array. Save replaces the stored
// array and returns only after it is durable.
type Storage interface {
	Load(ctx context.Context) ([]model.PendingIncrement, error)
	Save(ctx context.Context, entries []model.PendingIncrement) error
	Close() error
}
