package repository

import (
	"github.com/okian/zikir/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	// ErrNotFound is returned when the counter row does not exist.
	ErrNotFound = model.ErrNotFound
)
