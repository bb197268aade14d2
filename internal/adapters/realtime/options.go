package realtime

import (
	"net/http"
	"time"

	"github.com/okian/zikir/pkg/logger"
)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.logger = l
		}
	}
}

// ConnConfig holds websocket connection settings.
type ConnConfig struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

// DefaultConnConfig returns the defaults used by NewHandler.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024,
	}
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithConnConfig replaces the connection settings. Zero fields keep their
// defaults.
func WithConnConfig(cfg ConnConfig) HandlerOption {
	return func(h *Handler) {
		if cfg.SendBuffer > 0 {
			h.cfg.SendBuffer = cfg.SendBuffer
		}
		if cfg.WriteTimeout > 0 {
			h.cfg.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.ReadTimeout > 0 {
			h.cfg.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.PingInterval > 0 {
			h.cfg.PingInterval = cfg.PingInterval
		}
		if cfg.MaxMessageSize > 0 {
			h.cfg.MaxMessageSize = cfg.MaxMessageSize
		}
		if cfg.CheckOrigin != nil {
			h.cfg.CheckOrigin = cfg.CheckOrigin
		}
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}
