// Package realtime pushes room snapshots to live websocket viewers.
//
// A connection watches at most one room. Publishing never waits on a
// connection: a viewer whose send buffer is full is dropped and has to
// reconnect, and there is no acknowledgement or flow control beyond that.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

// Conn is one live viewer.
type Conn interface {
	ID() string
	UserID() string
	// Send queues msg without blocking and reports whether it was queued.
	Send(msg []byte) bool
	// Close tears the connection down. It must be safe to call twice.
	Close()
}

// Stats describes the current fan-out state.
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	PerRoom     map[string]int `json:"perRoom"`
}

// Broadcaster keeps the room to connection index.
type Broadcaster struct {
	mu       sync.RWMutex
	rooms    map[string]map[Conn]struct{}
	connRoom map[Conn]string
	closed   bool

	logger logger.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		rooms:    make(map[string]map[Conn]struct{}),
		connRoom: make(map[Conn]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get().Named("broadcaster")
	}
	return b
}

// Join attaches c to roomID, detaching it from any previous room, and
// returns the previous room id. Joining after Close closes c.
func (b *Broadcaster) Join(roomID string, c Conn) string {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		c.Close()
		return ""
	}
	prev := b.detachLocked(c)
	conns, ok := b.rooms[roomID]
	if !ok {
		conns = make(map[Conn]struct{})
		b.rooms[roomID] = conns
	}
	conns[c] = struct{}{}
	b.connRoom[c] = roomID
	b.updateGaugesLocked()
	b.mu.Unlock()

	b.logger.Debug(context.Background(), "viewer joined room",
		logger.String("conn", c.ID()),
		logger.String("room", roomID),
		logger.String("previous", prev),
	)
	return prev
}

// Leave detaches c from its room and returns that room id.
func (b *Broadcaster) Leave(c Conn) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.detachLocked(c)
	if room != "" {
		b.updateGaugesLocked()
	}
	return room
}

// RoomOf returns the room c watches, or "".
func (b *Broadcaster) RoomOf(c Conn) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connRoom[c]
}

func (b *Broadcaster) detachLocked(c Conn) string {
	room, ok := b.connRoom[c]
	if !ok {
		return ""
	}
	delete(b.connRoom, c)
	if conns, ok := b.rooms[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(b.rooms, room)
		}
	}
	return room
}

func (b *Broadcaster) updateGaugesLocked() {
	metrics.UpdateWSConnections(len(b.connRoom))
	metrics.UpdateWSRooms(len(b.rooms))
}

// Publish marshals env once and queues it on every connection in the
// room. Connections that cannot take it are dropped. It returns the number
// of connections that received the message.
func (b *Broadcaster) Publish(roomID string, env types.Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error(context.Background(), "failed to marshal envelope",
			logger.String("room", roomID), logger.Error(err))
		return 0
	}
	return b.PublishRaw(roomID, data)
}

// PublishRaw is Publish for an already encoded message.
func (b *Broadcaster) PublishRaw(roomID string, data []byte) int {
	b.mu.RLock()
	targets := make([]Conn, 0, len(b.rooms[roomID]))
	for c := range b.rooms[roomID] {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(data) {
			delivered++
			continue
		}
		b.logger.Warn(context.Background(), "viewer cannot keep up, dropping",
			logger.String("conn", c.ID()),
			logger.String("user", c.UserID()),
			logger.String("room", roomID),
		)
		metrics.RecordSlowConsumerDrop()
		b.Leave(c)
		c.Close()
	}
	metrics.RecordBroadcast(delivered)
	return delivered
}

// SendTo encodes env and queues it on a single connection.
func (b *Broadcaster) SendTo(c Conn, env types.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return c.Send(data)
}

// Stats reports connection and room counts.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Connections: len(b.connRoom),
		Rooms:       len(b.rooms),
		PerRoom:     make(map[string]int, len(b.rooms)),
	}
	for room, conns := range b.rooms {
		s.PerRoom[room] = len(conns)
	}
	return s
}

// Close drops every connection. Later joins are refused.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]Conn, 0, len(b.connRoom))
	for c := range b.connRoom {
		conns = append(conns, c)
	}
	b.rooms = make(map[string]map[Conn]struct{})
	b.connRoom = make(map[Conn]string)
	b.updateGaugesLocked()
	b.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
