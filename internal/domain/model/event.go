package model

import "time"

// Room event kinds.
const (
	EventCountUpdate  = "countUpdate"
	EventMemberJoined = "memberJoined"
	EventMemberLeft   = "memberLeft"
	// EventViewerSync asks for one snapshot delivered to a single viewer.
	// It never leaves the instance.
	EventViewerSync = "viewerSync"
)

// RoomEvent notifies that something in a room changed and live viewers
// need a fresh snapshot. It travels through the dispatch queue and the
// cross-instance relay.
type RoomEvent struct {
	Kind    string       `json:"kind"`
	RoomID  string       `json:"roomId"`
	UserID  string       `json:"userId"`
	Counter *LiveCounter `json:"counter,omitempty"`
	At      time.Time    `json:"at"`

	// Deliver receives the rendered envelope of an EventViewerSync.
	Deliver func(any) `json:"-"`
}
