package queue

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/zikir/pkg/logger"
)

// Option configures a CountQueue.
type Option func(*CountQueue)

// WithClock sets the clock used for timestamps and the purge timer.
func WithClock(c clockwork.Clock) Option {
	return func(q *CountQueue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithGrace sets how long confirmed entries linger.
func WithGrace(d time.Duration) Option {
	return func(q *CountQueue) {
		if d >= 0 {
			q.grace = d
		}
	}
}

// WithIDGenerator replaces uuid.NewString for local ids.
func WithIDGenerator(fn func() string) Option {
	return func(q *CountQueue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(q *CountQueue) { q.logger = l }
}
