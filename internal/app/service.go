// Package service implements the room counting operations behind the
// HTTP and websocket adapters.
package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/zikir/internal/adapters/membership"
	workerpool "github.com/okian/zikir/internal/adapters/mq/worker"
	"github.com/okian/zikir/internal/adapters/realtime"
	"github.com/okian/zikir/internal/adapters/repository"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

// ErrNotStarted is returned by operations that need the dispatcher.
var ErrNotStarted = errors.New("service not started")

// Broadcaster delivers envelopes to the live viewers of a room.
type Broadcaster interface {
	Publish(roomID string, env types.Envelope) int
}

// Relay carries room events between instances.
type Relay interface {
	Publish(ctx context.Context, ev model.RoomEvent) error
	Subscribe(fn func(ctx context.Context, ev model.RoomEvent)) error
	Close() error
}

// Service implements the counting, membership and snapshot operations.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	members     membership.Registry
	broadcaster Broadcaster
	relay       Relay
	dispatcher  *workerpool.Pool

	// Configuration
	workerCount  int
	queueSize    int
	maxBulkCount int
	loc          *time.Location
	clock        clockwork.Clock

	// State
	started bool

	// Logging
	logger logger.Logger
}

// New constructs a Service. Missing collaborators default to in-memory
// implementations when the service starts.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU(),
		queueSize:    1024,
		maxBulkCount: 10000,
		loc:          time.UTC,
		clock:        clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting room service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(repository.WithClock(s.clock), repository.WithLocation(s.loc))
		s.logger.Info(ctx, "using in-memory counter store")
	}
	if s.members == nil {
		s.members = membership.NewMemoryRegistry(membership.WithClock(s.clock))
		s.logger.Info(ctx, "using in-memory membership registry")
	}
	if s.broadcaster == nil {
		s.broadcaster = realtime.NewBroadcaster()
	}

	s.dispatcher = workerpool.NewPool(s.workerCount, s,
		workerpool.WithQueueCapacity(s.queueSize),
		workerpool.WithPoolLogger(s.logger.Named("dispatch")),
	)
	s.dispatcher.Start(context.WithoutCancel(ctx))

	if s.relay != nil {
		if err := s.relay.Subscribe(s.dispatch); err != nil {
			_ = s.dispatcher.Shutdown(ctx)
			s.dispatcher = nil
			return err
		}
		s.logger.Info(ctx, "room events relayed across instances")
	}

	s.started = true
	s.logger.Info(ctx, "room service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("maxBulkCount", s.maxBulkCount),
		logger.String("dayLocation", s.loc.String()),
	)

	return nil
}

// Stop drains pending room events and closes the owned collaborators.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	relay, dispatcher, members, store := s.relay, s.dispatcher, s.members, s.store
	s.mu.Unlock()

	// Workers still read the store while draining, so it closes last.
	ctx := context.Background()
	s.logger.Info(ctx, "stopping room service...")

	if relay != nil {
		if err := relay.Close(); err != nil {
			s.logger.Warn(ctx, "closing relay failed", logger.Error(err))
		}
	}
	dispatcher.Stop()

	if err := members.Close(); err != nil {
		s.logger.Warn(ctx, "closing membership registry failed", logger.Error(err))
	}
	if err := store.Close(); err != nil {
		s.logger.Warn(ctx, "closing counter store failed", logger.Error(err))
	}

	s.logger.Info(ctx, "room service stopped")
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"queueSize":    s.queueSize,
		"maxBulkCount": s.maxBulkCount,
		"relay":        s.relay != nil,
	}

	if s.dispatcher != nil {
		queueLen := s.dispatcher.Len(context.Background())
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)
	}
	if st, ok := s.broadcaster.(interface{ Stats() realtime.Stats }); ok {
		stats["websocket"] = st.Stats()
	}

	return stats
}

func (s *Service) components() (repository.Store, membership.Registry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store, s.members, s.started
}
