package syncer

import "github.com/okian/zikir/pkg/logger"

// Option configures a Client.
type Option func(*Client)

// WithMaxBatch sets the starting cap on taps per bulk request. The client
// lowers it when the server answers that a batch is too large.
func WithMaxBatch(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBatch = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}
