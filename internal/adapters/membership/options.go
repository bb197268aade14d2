package membership

import "github.com/jonboulle/clockwork"

type options struct {
	clock clockwork.Clock
}

func defaultOptions() options {
	return options{clock: clockwork.NewRealClock()}
}

// Option configures a registry.
type Option func(*options)

// WithClock sets the clock used for creation and join times.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
