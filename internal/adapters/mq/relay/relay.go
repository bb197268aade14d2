// Package relay fans room events out across server instances over NATS.
//
// Every instance subscribes to one subject and dispatches what it receives
// to its own websocket connections, including the events it published
// itself, so a room's subscribers see the same stream on every node.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

// DefaultSubject is used when none is configured.
const DefaultSubject = "zikir.room.events"

// Connect dials NATS with reconnect handling that logs through the
// project logger.
func Connect(url string) (*nats.Conn, error) {
	log := logger.Get().Named("nats")
	ctx := context.Background()

	nc, err := nats.Connect(url,
		nats.Name("zikir"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(ctx, "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(ctx, "nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			metrics.RecordRelayError()
			log.Error(ctx, "nats error", logger.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Relay publishes and receives room events on one subject.
type Relay struct {
	nc      *nats.Conn
	subject string
	owned   bool
	logger  logger.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// New wraps a connection. Close drains the connection only when
// WithOwnedConn is given.
func New(nc *nats.Conn, opts ...Option) *Relay {
	r := &Relay{nc: nc, subject: DefaultSubject}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("relay")
	}
	return r
}

// Publish sends ev to every instance.
func (r *Relay) Publish(_ context.Context, ev model.RoomEvent) error {
	data, err := Encode(ev)
	if err != nil {
		metrics.RecordRelayError()
		return err
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		metrics.RecordRelayError()
		return fmt.Errorf("publish room event: %w", err)
	}
	metrics.RecordRelayPublished()
	return nil
}

// Subscribe delivers every received event to fn on the NATS callback
// goroutine. fn must not block.
func (r *Relay) Subscribe(fn func(ctx context.Context, ev model.RoomEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return fmt.Errorf("relay already subscribed to %s", r.subject)
	}
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		ctx := context.Background()
		ev, err := Decode(msg.Data)
		if err != nil {
			metrics.RecordRelayError()
			r.logger.Warn(ctx, "dropping malformed room event", logger.Error(err))
			return
		}
		metrics.RecordRelayReceived()
		fn(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	r.sub = sub
	return nil
}

// Close unsubscribes and, for an owned connection, drains it.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil && r.nc.IsConnected() {
			r.logger.Warn(context.Background(), "unsubscribe failed", logger.Error(err))
		}
		r.sub = nil
	}
	if r.owned {
		return r.nc.Drain()
	}
	return nil
}

// Encode is the wire form of a room event.
func Encode(ev model.RoomEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode room event: %w", err)
	}
	return data, nil
}

// Decode parses and checks a relayed event.
func Decode(data []byte) (model.RoomEvent, error) {
	var ev model.RoomEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode room event: %w", err)
	}
	if ev.RoomID == "" {
		return ev, fmt.Errorf("decode room event: %w: missing roomId", model.ErrInvalidInput)
	}
	switch ev.Kind {
	case model.EventCountUpdate, model.EventMemberJoined, model.EventMemberLeft:
	default:
		return ev, fmt.Errorf("decode room event: %w: unknown kind %q", model.ErrInvalidInput, ev.Kind)
	}
	return ev, nil
}
