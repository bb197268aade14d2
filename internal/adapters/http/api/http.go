// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/okian/zikir/internal/adapters/membership"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers.
type Dependencies interface {
	Count(ctx context.Context, roomID, userID string) (model.LiveCounter, error)
	CountBulk(ctx context.Context, roomID, userID string, req types.BulkRequest) (model.BulkResult, error)
	ResetCurrent(ctx context.Context, roomID, userID string) (model.LiveCounter, error)
	Leaderboard(ctx context.Context, roomID, userID string) (types.Snapshot, error)

	CreateRoom(ctx context.Context, creator string, req types.CreateRoomRequest) (membership.Room, error)
	JoinRoom(ctx context.Context, roomID, actor, target string) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	countHandler  *CountHandler
	roomHandler   *RoomHandler
	ws            http.Handler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		countHandler:  NewCountHandler(deps),
		roomHandler:   NewRoomHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWebsocket mounts h at GET /ws.
func WithWebsocket(h http.Handler) ServerOption {
	return func(s *Server) { s.ws = h }
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)
	if s.ws != nil {
		r.Handle("/ws", MetricsMiddleware(s.ws.ServeHTTP, "ws")).Methods(http.MethodGet)
	}

	authed := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(IdentityMiddleware(h), endpoint)
	}
	r.HandleFunc("/rooms", authed(s.roomHandler.HandleCreate, "rooms")).Methods(http.MethodPost)

	room := r.PathPrefix("/rooms/{roomId}").Subrouter()
	room.HandleFunc("/count", authed(s.countHandler.HandleCount, "count")).Methods(http.MethodPost)
	room.HandleFunc("/count/bulk", authed(s.countHandler.HandleBulk, "count_bulk")).Methods(http.MethodPost)
	room.HandleFunc("/count/reset", authed(s.countHandler.HandleReset, "count_reset")).Methods(http.MethodPost)
	room.HandleFunc("/leaderboard", authed(s.roomHandler.HandleLeaderboard, "leaderboard")).Methods(http.MethodGet)
	room.HandleFunc("/members", authed(s.roomHandler.HandleJoin, "members")).Methods(http.MethodPost)
	room.HandleFunc("/members", authed(s.roomHandler.HandleLeave, "members")).Methods(http.MethodDelete)
}

// NewRouter returns a router with every route registered and JSON 404/405
// responses.
func (s *Server) NewRouter(ctx context.Context) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})
	s.Register(ctx, r)
	return r
}

type errorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	MaxCount int    `json:"maxCount,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure answers with the status err maps to. Internal errors are
// logged and replaced by a generic message.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= statusInternalError {
		logger.Get().Named("api").Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
		err = nil
	}
	resp := errorResponse{Code: code, Message: http.StatusText(status)}
	if err != nil {
		resp.Message = err.Error()
	}
	var limit *model.BatchLimitError
	if errors.As(err, &limit) {
		resp.MaxCount = limit.Max
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads exactly one JSON value into v, rejecting unknown
// fields. An empty body is accepted when optional is set.
func decodeJSON(r *http.Request, w http.ResponseWriter, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("%w: body exceeds %d bytes", model.ErrBatchTooLarge, tooBig.Limit)
		}
		return fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", model.ErrInvalidInput)
	}
	return nil
}

func roomID(r *http.Request) (string, error) {
	id := mux.Vars(r)["roomId"]
	if id == "" {
		return "", ErrMissingRoomID
	}
	return id, nil
}
