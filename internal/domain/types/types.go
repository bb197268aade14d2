// Package types contains wire shapes shared by the server, the websocket
// protocol and the client.
package types

import (
	"time"

	"github.com/okian/zikir/internal/domain/model"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"userId"`
	TodayCount  int64     `json:"todayCount"`
	TotalCount  int64     `json:"totalCount"`
	LastCountAt time.Time `json:"lastCountAt,omitzero"`
}

// Snapshot is the full leaderboard of a room at a point in time.
type Snapshot struct {
	RoomID      string    `json:"roomId"`
	Leaderboard []Entry   `json:"leaderboard"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Websocket message types.
const (
	MsgJoinRoom     = "joinRoom"
	MsgLeaveRoom    = "leaveRoom"
	MsgCountUpdate  = model.EventCountUpdate
	MsgMemberJoined = model.EventMemberJoined
	MsgMemberLeft   = model.EventMemberLeft
	MsgError        = "error"
)

// Envelope frames every server to client websocket message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientMessage is a client to server websocket message.
type ClientMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
}

// CountUpdate carries the full room snapshot after a change. Counter is the
// row that changed when the change was a count.
type CountUpdate struct {
	RoomID      string             `json:"roomId"`
	UserID      string             `json:"userId,omitempty"`
	Counter     *model.LiveCounter `json:"counter,omitempty"`
	Leaderboard []Entry            `json:"leaderboard"`
}

// MemberEvent announces a join or leave.
type MemberEvent struct {
	RoomID      string  `json:"roomId"`
	UserID      string  `json:"userId"`
	Leaderboard []Entry `json:"leaderboard"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BulkRequest is the body of POST /rooms/{roomId}/count/bulk.
// Timestamps are epoch milliseconds, one per offline id, or empty.
type BulkRequest struct {
	UserID     string   `json:"userId"`
	Count      int      `json:"count"`
	Timestamps []int64  `json:"timestamps"`
	OfflineIDs []string `json:"offlineIds"`
}

// CreateRoomRequest is the body of POST /rooms. The caller is always an
// initial member.
type CreateRoomRequest struct {
	RoomID  string   `json:"roomId"`
	Private bool     `json:"private"`
	Members []string `json:"members,omitempty"`
}

// MemberRequest is the optional body of the member endpoints. An empty
// UserID means the caller.
type MemberRequest struct {
	UserID string `json:"userId,omitempty"`
}
