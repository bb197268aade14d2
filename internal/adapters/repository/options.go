package repository

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// options are shared by every store implementation.
type options struct {
	clock      clockwork.Clock
	loc        *time.Location
	dedupeSize int
}

func defaultOptions() options {
	return options{clock: clockwork.NewRealClock(), loc: time.UTC}
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithClock sets the clock used to timestamp live taps.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLocation sets the zone in which calendar days are decided.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithDedupeSize bounds the memory store's offline id history. Zero keeps
// every id, which is what at-most-once application needs; a bound trades
// that guarantee for memory.
func WithDedupeSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.dedupeSize = n
		}
	}
}
