package service

import (
	"context"
	"fmt"

	"github.com/okian/zikir/internal/adapters/membership"
	"github.com/okian/zikir/internal/adapters/repository"
	"github.com/okian/zikir/internal/domain/leaderboard"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/metrics"
)

// CreateRoom registers a room with the creator and req.Members as its
// first members and creates their counter rows.
func (s *Service) CreateRoom(ctx context.Context, creator string, req types.CreateRoomRequest) (membership.Room, error) {
	if err := validateIDs(req.RoomID, creator); err != nil {
		return membership.Room{}, err
	}
	store, members, started := s.components()
	if !started {
		return membership.Room{}, ErrNotStarted
	}

	seen := map[string]bool{creator: true}
	all := []string{creator}
	for _, m := range req.Members {
		if m == "" || len(m) > maxIDLen {
			return membership.Room{}, fmt.Errorf("%w: member ids must be 1 to %d bytes", model.ErrInvalidInput, maxIDLen)
		}
		if !seen[m] {
			seen[m] = true
			all = append(all, m)
		}
	}

	room, err := members.CreateRoom(ctx, req.RoomID, req.Private, all...)
	if err != nil {
		return membership.Room{}, fmt.Errorf("create room %s: %w", req.RoomID, err)
	}
	for _, m := range all {
		if _, err := store.Create(ctx, req.RoomID, m); err != nil {
			return room, fmt.Errorf("create counter row for %s: %w", m, err)
		}
	}
	return room, nil
}

// JoinRoom makes target an active member of roomID on behalf of actor.
// An empty target means actor. Anyone may join a public room; a private
// room is only joined by an active member adding someone.
func (s *Service) JoinRoom(ctx context.Context, roomID, actor, target string) error {
	if target == "" {
		target = actor
	}
	if err := validateIDs(roomID, actor); err != nil {
		return err
	}
	if err := validateIDs(roomID, target); err != nil {
		return err
	}
	store, members, started := s.components()
	if !started {
		return ErrNotStarted
	}

	access, err := members.Access(ctx, roomID, actor)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	switch {
	case !access.RoomExists:
		return fmt.Errorf("room %s: %w", roomID, model.ErrNotFound)
	case access.Private && !access.Member:
		return fmt.Errorf("room %s: %w", roomID, model.ErrForbidden)
	case target != actor && !access.Member:
		return fmt.Errorf("only members may add others to room %s: %w", roomID, model.ErrForbidden)
	}

	return s.join(ctx, store, members, roomID, target)
}

// LeaveRoom deactivates the caller's membership. The counter row stays so
// the room's history keeps its tallies.
func (s *Service) LeaveRoom(ctx context.Context, roomID, userID string) error {
	if err := validateIDs(roomID, userID); err != nil {
		return err
	}
	_, members, started := s.components()
	if !started {
		return ErrNotStarted
	}

	left, err := members.Leave(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}
	if left {
		s.emit(ctx, model.EventMemberLeft, roomID, userID, nil)
	}
	return nil
}

func (s *Service) join(ctx context.Context, store repository.Store, members membership.Registry, roomID, userID string) error {
	joined, err := members.Join(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	if _, err := store.Create(ctx, roomID, userID); err != nil {
		return fmt.Errorf("create counter row: %w", err)
	}
	if joined {
		s.emit(ctx, model.EventMemberJoined, roomID, userID, nil)
	}
	return nil
}

// AuthorizeView reports whether userID may watch roomID: the room must
// exist and, when private, userID must be an active member.
func (s *Service) AuthorizeView(ctx context.Context, roomID, userID string) error {
	if err := validateIDs(roomID, userID); err != nil {
		return err
	}
	_, members, started := s.components()
	if !started {
		return ErrNotStarted
	}

	access, err := members.Access(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !access.RoomExists {
		return fmt.Errorf("room %s: %w", roomID, model.ErrNotFound)
	}
	if access.Private && !access.Member {
		return fmt.Errorf("room %s: %w", roomID, model.ErrForbidden)
	}
	return nil
}

// Snapshot ranks every counter row of roomID. Rows whose last count was on
// an earlier day rank with a today count of zero.
func (s *Service) Snapshot(ctx context.Context, roomID string) (types.Snapshot, error) {
	store, _, _ := s.components()
	if store == nil {
		return types.Snapshot{}, ErrNotStarted
	}

	rows, err := store.ListRoom(ctx, roomID)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("list room %s: %w", roomID, err)
	}
	now := s.clock.Now()
	metrics.RecordLeaderboardBuild()
	return types.Snapshot{
		RoomID:      roomID,
		Leaderboard: leaderboard.Rank(leaderboard.ForDay(rows, now, s.loc)),
		GeneratedAt: now,
	}, nil
}

// Leaderboard is Snapshot for a caller allowed to view the room.
func (s *Service) Leaderboard(ctx context.Context, roomID, userID string) (types.Snapshot, error) {
	if err := s.AuthorizeView(ctx, roomID, userID); err != nil {
		return types.Snapshot{}, err
	}
	return s.Snapshot(ctx, roomID)
}
