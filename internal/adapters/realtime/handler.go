package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
)

// UserIDHeader carries the caller identity supplied by the identity layer.
const UserIDHeader = "X-User-ID"

// UserIDFromRequest reads the identity header, falling back to the userId
// query parameter for browser websocket clients that cannot set headers.
func UserIDFromRequest(r *http.Request) string {
	if id := r.Header.Get(UserIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}

// RoomViewer decides who may watch a room and sends a joining viewer its
// snapshot in order with the room's other updates.
type RoomViewer interface {
	AuthorizeView(ctx context.Context, roomID, userID string) error
	SendSnapshot(ctx context.Context, roomID string, send func(types.Envelope)) error
}

// Handler upgrades GET /ws and speaks the room protocol.
type Handler struct {
	b        *Broadcaster
	viewer   RoomViewer
	cfg      ConnConfig
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler builds the websocket endpoint.
func NewHandler(b *Broadcaster, viewer RoomViewer, opts ...HandlerOption) *Handler {
	h := &Handler{b: b, viewer: viewer, cfg: DefaultConnConfig()}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.cfg.CheckOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromRequest(r)
	if userID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"missing user identity"}`))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	c := newClient(ws, userID, h.cfg, h.logger)
	c.logger.Debug(r.Context(), "websocket connected")

	go c.writePump()
	go func() {
		defer func() {
			h.b.Leave(c)
			c.Close()
			c.logger.Debug(context.Background(), "websocket disconnected")
		}()
		c.readPump(func(msg []byte) { h.handleMessage(c, msg) })
	}()
}

func (h *Handler) handleMessage(c *client, raw []byte) {
	ctx := context.Background()

	var msg types.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(c, model.ErrInvalidInput, "malformed message")
		return
	}

	switch msg.Type {
	case types.MsgJoinRoom:
		if msg.RoomID == "" {
			h.sendError(c, model.ErrInvalidInput, "roomId is required")
			return
		}
		if err := h.viewer.AuthorizeView(ctx, msg.RoomID, c.userID); err != nil {
			h.sendError(c, err, err.Error())
			return
		}
		// Join before queueing the snapshot so no update falls between the two.
		room := msg.RoomID
		h.b.Join(room, c)
		err := h.viewer.SendSnapshot(ctx, room, func(env types.Envelope) {
			if h.b.RoomOf(c) == room {
				h.b.SendTo(c, env)
			}
		})
		if err != nil {
			h.logger.Error(ctx, "snapshot for joining viewer failed",
				logger.String("room", room), logger.Error(err))
			h.sendError(c, err, "snapshot unavailable")
		}

	case types.MsgLeaveRoom:
		h.b.Leave(c)

	default:
		h.sendError(c, model.ErrInvalidInput, "unknown message type "+msg.Type)
	}
}

func (h *Handler) sendError(c *client, err error, message string) {
	code := ErrorCode(err)
	if code == "internal" {
		h.logger.Error(context.Background(), "websocket request failed", logger.Error(err))
		message = "internal error"
	}
	h.b.SendTo(c, types.Envelope{
		Type: types.MsgError,
		Data: types.ErrorPayload{Code: code, Message: message},
	})
}

// ErrorCode maps an error to the code used in error envelopes and JSON
// error bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrBatchTooLarge):
		return "batch_too_large"
	default:
		return "internal"
	}
}
