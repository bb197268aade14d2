package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/zikir/internal/adapters/repository"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

// maxIDLen bounds room, user and offline ids.
const maxIDLen = 128

// Count applies one live tap for userID in roomID.
//
// A non-member of a public room is joined first. A non-member of a
// private room gets ErrForbidden and a missing room ErrNotFound.
func (s *Service) Count(ctx context.Context, roomID, userID string) (model.LiveCounter, error) {
	store, err := s.gate(ctx, roomID, userID)
	if err != nil {
		metrics.RecordCountRejected(rejectReason(err))
		return model.LiveCounter{}, err
	}

	c, err := withRow(ctx, store, roomID, userID, func() (model.LiveCounter, error) {
		return store.Increment(ctx, roomID, userID)
	})
	if err != nil {
		return model.LiveCounter{}, fmt.Errorf("count in room %s: %w", roomID, err)
	}

	metrics.RecordCountApplied("live", 1)
	s.emit(ctx, model.EventCountUpdate, roomID, userID, &c)
	return c, nil
}

// CountBulk applies taps recorded offline. Offline ids that were applied
// before are reported as duplicates; replaying a request is harmless.
func (s *Service) CountBulk(ctx context.Context, roomID, userID string, req types.BulkRequest) (model.BulkResult, error) {
	taps, err := s.ValidateBulk(userID, req)
	if err != nil {
		metrics.RecordCountRejected(rejectReason(err))
		return model.BulkResult{}, err
	}
	store, err := s.gate(ctx, roomID, userID)
	if err != nil {
		metrics.RecordCountRejected(rejectReason(err))
		return model.BulkResult{}, err
	}

	var res model.BulkResult
	c, err := withRow(ctx, store, roomID, userID, func() (model.LiveCounter, error) {
		var c model.LiveCounter
		var err error
		c, res, err = store.IncrementBulk(ctx, roomID, userID, taps)
		return c, err
	})
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("bulk count in room %s: %w", roomID, err)
	}

	metrics.RecordBulkResult(res.Applied, res.Duplicates)
	if res.Applied > 0 {
		metrics.RecordCountApplied("bulk", res.Applied)
		s.emit(ctx, model.EventCountUpdate, roomID, userID, &c)
	}
	s.log().Debug(ctx, "bulk count applied",
		logger.String("room", roomID),
		logger.String("user", userID),
		logger.Int("applied", res.Applied),
		logger.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// ResetCurrent zeroes the caller's session count.
func (s *Service) ResetCurrent(ctx context.Context, roomID, userID string) (model.LiveCounter, error) {
	store, err := s.gate(ctx, roomID, userID)
	if err != nil {
		return model.LiveCounter{}, err
	}
	c, err := withRow(ctx, store, roomID, userID, func() (model.LiveCounter, error) {
		return store.ResetCurrent(ctx, roomID, userID)
	})
	if err != nil {
		return model.LiveCounter{}, fmt.Errorf("reset in room %s: %w", roomID, err)
	}
	s.emit(ctx, model.EventCountUpdate, roomID, userID, &c)
	return c, nil
}

// ValidateBulk checks a bulk request on behalf of userID and converts it
// to taps. Every failure wraps ErrInvalidInput, except a body naming
// another user, which is ErrForbidden, and a count above the bulk limit,
// which is a *model.BatchLimitError.
func (s *Service) ValidateBulk(userID string, req types.BulkRequest) ([]model.Tap, error) {
	s.mu.RLock()
	maxCount := s.maxBulkCount
	s.mu.RUnlock()

	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidInput}, args...)...)
	}

	if req.UserID != "" && req.UserID != userID {
		return nil, fmt.Errorf("%w: body userId does not match the caller", model.ErrForbidden)
	}
	if req.Count < 1 {
		return nil, invalid("count must be at least 1")
	}
	if req.Count > maxCount {
		return nil, &model.BatchLimitError{Max: maxCount}
	}
	if len(req.OfflineIDs) != req.Count {
		return nil, invalid("offlineIds has %d ids for count %d", len(req.OfflineIDs), req.Count)
	}
	if len(req.Timestamps) != 0 && len(req.Timestamps) != req.Count {
		return nil, invalid("timestamps has %d values for count %d", len(req.Timestamps), req.Count)
	}

	taps := make([]model.Tap, req.Count)
	for i, id := range req.OfflineIDs {
		if id == "" || len(id) > maxIDLen {
			return nil, invalid("offlineIds[%d] must be 1 to %d bytes", i, maxIDLen)
		}
		taps[i].OfflineID = id
		if len(req.Timestamps) > 0 {
			ms := req.Timestamps[i]
			if ms <= 0 {
				return nil, invalid("timestamps[%d] must be positive epoch milliseconds", i)
			}
			taps[i].At = time.UnixMilli(ms)
		}
	}
	return taps, nil
}

// gate resolves whether userID may count in roomID, joining public rooms
// on the way, and returns the store to count in.
func (s *Service) gate(ctx context.Context, roomID, userID string) (repository.Store, error) {
	if err := validateIDs(roomID, userID); err != nil {
		return nil, err
	}
	store, members, started := s.components()
	if !started {
		return nil, ErrNotStarted
	}

	access, err := members.Access(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	switch {
	case !access.RoomExists:
		return nil, fmt.Errorf("room %s: %w", roomID, model.ErrNotFound)
	case access.Member:
		return store, nil
	case access.Private:
		return nil, fmt.Errorf("room %s: %w", roomID, model.ErrForbidden)
	}

	if err := s.join(ctx, store, members, roomID, userID); err != nil {
		return nil, err
	}
	return store, nil
}

// withRow runs op and, if the member has no counter row yet (a member
// seeded before any count), creates it and runs op once more.
func withRow(ctx context.Context, store repository.Store, roomID, userID string, op func() (model.LiveCounter, error)) (model.LiveCounter, error) {
	c, err := op()
	if !errors.Is(err, model.ErrNotFound) {
		return c, err
	}
	if _, err := store.Create(ctx, roomID, userID); err != nil {
		return model.LiveCounter{}, fmt.Errorf("create counter row: %w", err)
	}
	return op()
}

func validateIDs(roomID, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user identity", model.ErrUnauthorized)
	}
	if roomID == "" || len(roomID) > maxIDLen || len(userID) > maxIDLen {
		return fmt.Errorf("%w: ids must be 1 to %d bytes", model.ErrInvalidInput, maxIDLen)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrBatchTooLarge):
		return "batch_too_large"
	default:
		return "error"
	}
}
