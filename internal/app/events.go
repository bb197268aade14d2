package service

import (
	"context"
	"fmt"

	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

// emit announces a room change. With a relay the event goes out to every
// instance, this one included; otherwise it is dispatched locally. The
// caller's operation has already succeeded, so failures are only logged.
func (s *Service) emit(ctx context.Context, kind, roomID, userID string, c *model.LiveCounter) {
	ev := model.RoomEvent{Kind: kind, RoomID: roomID, UserID: userID, At: s.clock.Now()}
	if c != nil {
		cp := *c
		ev.Counter = &cp
	}

	s.mu.RLock()
	relay := s.relay
	s.mu.RUnlock()

	if relay != nil {
		err := relay.Publish(ctx, ev)
		if err == nil {
			return
		}
		s.log().Warn(ctx, "relay publish failed, dispatching locally",
			logger.String("room", roomID), logger.Error(err))
	}
	s.dispatch(ctx, ev)
}

// dispatch hands ev to the room's shard. A full shard drops the event; the
// next change in the room carries a complete snapshot again.
func (s *Service) dispatch(ctx context.Context, ev model.RoomEvent) {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()

	if d == nil {
		return
	}
	if err := d.Submit(context.WithoutCancel(ctx), ev); err != nil {
		metrics.RecordErrorByComponent("dispatch", "submit_failed")
		s.log().Warn(ctx, "room event dropped",
			logger.String("room", ev.RoomID),
			logger.String("kind", ev.Kind),
			logger.Error(err),
		)
	}
}

// SendSnapshot renders roomID's leaderboard on the room's dispatcher shard
// and hands it to send. Events queued for the room before the call are
// published first, so a viewer that joined before calling never ends on a
// snapshot older than one it was already sent.
func (s *Service) SendSnapshot(ctx context.Context, roomID string, send func(types.Envelope)) error {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	if d == nil {
		return ErrNotStarted
	}

	ev := model.RoomEvent{
		Kind:   model.EventViewerSync,
		RoomID: roomID,
		At:     s.clock.Now(),
		Deliver: func(v any) {
			if env, ok := v.(types.Envelope); ok {
				send(env)
			}
		},
	}
	return d.Submit(context.WithoutCancel(ctx), ev)
}

// HandleRoomEvent renders a fresh snapshot for ev's room and pushes it to
// the room's viewers. It runs on the room's dispatcher shard.
func (s *Service) HandleRoomEvent(ctx context.Context, ev model.RoomEvent) error {
	snap, err := s.Snapshot(ctx, ev.RoomID)
	if ev.Kind == model.EventViewerSync {
		return s.deliverSnapshot(ctx, ev, snap, err)
	}
	if err != nil {
		return err
	}

	var env types.Envelope
	switch ev.Kind {
	case model.EventCountUpdate:
		env = types.Envelope{Type: types.MsgCountUpdate, Data: types.CountUpdate{
			RoomID:      ev.RoomID,
			UserID:      ev.UserID,
			Counter:     ev.Counter,
			Leaderboard: snap.Leaderboard,
		}}
	case model.EventMemberJoined, model.EventMemberLeft:
		env = types.Envelope{Type: ev.Kind, Data: types.MemberEvent{
			RoomID:      ev.RoomID,
			UserID:      ev.UserID,
			Leaderboard: snap.Leaderboard,
		}}
	default:
		return fmt.Errorf("%w: unknown room event kind %q", model.ErrInvalidInput, ev.Kind)
	}

	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b != nil {
		b.Publish(ev.RoomID, env)
	}
	return nil
}

func (s *Service) deliverSnapshot(ctx context.Context, ev model.RoomEvent, snap types.Snapshot, err error) error {
	if ev.Deliver == nil {
		return fmt.Errorf("%w: viewer sync without a receiver", model.ErrInvalidInput)
	}
	if err != nil {
		s.log().Error(ctx, "snapshot for joining viewer failed",
			logger.String("room", ev.RoomID), logger.Error(err))
		ev.Deliver(types.Envelope{
			Type: types.MsgError,
			Data: types.ErrorPayload{Code: "internal", Message: "snapshot unavailable"},
		})
		return err
	}
	ev.Deliver(types.Envelope{
		Type: types.MsgCountUpdate,
		Data: types.CountUpdate{RoomID: snap.RoomID, Leaderboard: snap.Leaderboard},
	})
	return nil
}

func (s *Service) log() logger.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.logger != nil {
		return s.logger
	}
	return logger.Get().Named("service")
}
