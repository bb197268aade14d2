package api

import (
	"net/http"

	"github.com/okian/zikir/internal/domain/types"
)

// CountHandler serves the counting endpoints.
type CountHandler struct {
	deps Dependencies
}

// NewCountHandler creates a new count handler.
func NewCountHandler(deps Dependencies) *CountHandler {
	return &CountHandler{deps: deps}
}

// HandleCount handles POST /rooms/{roomId}/count.
func (h *CountHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	const op = "count"
	room, err := roomID(r)
	if err != nil {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	c, err := h.deps.Count(r.Context(), room, UserID(r.Context()))
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleBulk handles POST /rooms/{roomId}/count/bulk.
func (h *CountHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	const op = "count bulk"
	room, err := roomID(r)
	if err != nil {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	var req types.BulkRequest
	if err := decodeJSON(r, w, &req, false); err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	res, err := h.deps.CountBulk(r.Context(), room, UserID(r.Context()), req)
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReset handles POST /rooms/{roomId}/count/reset.
func (h *CountHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	const op = "reset"
	room, err := roomID(r)
	if err != nil {
		writeFailure(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	c, err := h.deps.ResetCurrent(r.Context(), room, UserID(r.Context()))
	if err != nil {
		writeFailure(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}
