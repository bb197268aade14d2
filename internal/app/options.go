package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/zikir/internal/adapters/membership"
	"github.com/okian/zikir/internal/adapters/repository"
	"github.com/okian/zikir/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the counter store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithMembership sets the membership registry. The service closes it on Stop.
func WithMembership(reg membership.Registry) Option {
	return func(s *Service) {
		if reg != nil {
			s.members = reg
		}
	}
}

// WithBroadcaster sets where room snapshots are pushed.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		if b != nil {
			s.broadcaster = b
		}
	}
}

// WithRelay routes room events through another instance-wide bus before
// they are dispatched locally.
func WithRelay(r Relay) Option {
	return func(s *Service) {
		if r != nil {
			s.relay = r
		}
	}
}

// WithWorkerCount sets the number of dispatcher shards.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds each dispatcher shard's queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxBulkCount caps the taps accepted in one bulk request.
func WithMaxBulkCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBulkCount = n
		}
	}
}

// WithLocation sets the zone in which calendar days are decided.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock sets the clock used for snapshots and in-memory defaults.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
