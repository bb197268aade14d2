package relay

import "github.com/okian/zikir/pkg/logger"

// Option configures a Relay.
type Option func(*Relay)

// WithSubject overrides DefaultSubject.
func WithSubject(subject string) Option {
	return func(r *Relay) {
		if subject != "" {
			r.subject = subject
		}
	}
}

// WithOwnedConn makes Close drain the connection.
func WithOwnedConn() Option {
	return func(r *Relay) { r.owned = true }
}

// WithLogger sets the relay logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}
