package storage

import (
	"context"
	"sync"

	"github.com/okian/zikir/internal/domain/model"
)

// MemoryStorage keeps the array in process. FailNext makes the next Save
// fail, which tests use to exercise rollback.
type MemoryStorage struct {
	mu       sync.Mutex
	entries  []model.PendingIncrement
	saves    int
	failNext error
	closed   bool
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(context.Context) ([]model.PendingIncrement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]model.PendingIncrement(nil), m.entries...), nil
}

func (m *MemoryStorage) Save(_ context.Context, entries []model.PendingIncrement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.entries = append([]model.PendingIncrement(nil), entries...)
	m.saves++
	return nil
}

// FailNext arranges for the next Save to return err.
func (m *MemoryStorage) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Saves reports how many saves succeeded.
func (m *MemoryStorage) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
