package api

import (
	"net/http"

	"github.com/okian/zikir/internal/domain/types"
)

// RoomHandler serves room creation, membership and leaderboard reads.
type RoomHandler struct {
	deps Dependencies
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(deps Dependencies) *RoomHandler {
	return &RoomHandler{deps: deps}
}

type memberResponse struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// HandleCreate handles POST /rooms.
func (h *RoomHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "create room"
	var req types.CreateRoomRequest
	if err := decodeJSON(r, w, &req, false); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	room, err := h.deps.CreateRoom(r.Context(), UserID(r.Context()), req)
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// HandleJoin handles POST /rooms/{roomId}/members. The optional body names
// the member to add; without it the caller joins.
func (h *RoomHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	const op = "join room"
	room, err := roomID(r)
	if err != nil {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	var req types.MemberRequest
	if err := decodeJSON(r, w, &req, true); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	actor := UserID(r.Context())
	target := req.UserID
	if target == "" {
		target = actor
	}
	if err := h.deps.JoinRoom(r.Context(), room, actor, target); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{RoomID: room, UserID: target, Status: "joined"})
}

// HandleLeave handles DELETE /rooms/{roomId}/members. Members only remove
// themselves.
func (h *RoomHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	const op = "leave room"
	room, err := roomID(r)
	if err != nil {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	var req types.MemberRequest
	if err := decodeJSON(r, w, &req, true); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	actor := UserID(r.Context())
	if req.UserID != "" && req.UserID != actor {
		writeFailure(w, r, NewKind(op, errOtherMember))
		return
	}
	if err := h.deps.LeaveRoom(r.Context(), room, actor); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{RoomID: room, UserID: actor, Status: "left"})
}

// HandleLeaderboard handles GET /rooms/{roomId}/leaderboard.
func (h *RoomHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "leaderboard"
	room, err := roomID(r)
	if err != nil {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	snap, err := h.deps.Leaderboard(r.Context(), room, UserID(r.Context()))
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
