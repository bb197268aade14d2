package model

import (
	"strconv"
	"time"
)

// PendingIncrement is a client-side batch of taps not yet confirmed by the server.
//
// Taps are numbered 0..Count-1 inside the entry; the first Acked of them have
// been confirmed. Every tap keeps the offline id LocalID:ordinal for its whole
// life, so a retried batch is recognised by the server as the same taps.
type PendingIncrement struct {
	LocalID      string    `json:"localId"`
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId"`
	Count        int       `json:"count"`
	Acked        int       `json:"acked"`
	CreatedAt    time.Time `json:"createdAt"`
	Synced       bool      `json:"synced"`
	SyncedAt     time.Time `json:"syncedAt,omitzero"`
	Rejected     bool      `json:"rejected,omitempty"`
	RejectReason string    `json:"rejectReason,omitempty"`
	RejectedAt   time.Time `json:"rejectedAt,omitzero"`
}

// Settled reports whether the entry is done: fully confirmed or refused.
// The time is when it became so.
func (p PendingIncrement) Settled() (time.Time, bool) {
	switch {
	case p.Synced:
		return p.SyncedAt, true
	case p.Rejected:
		return p.RejectedAt, true
	default:
		return time.Time{}, false
	}
}

// Pending is the number of taps still waiting for confirmation.
func (p PendingIncrement) Pending() int {
	if p.Synced || p.Rejected {
		return 0
	}
	return p.Count - p.Acked
}

// OfflineIDs returns the ids of the unconfirmed taps, oldest first.
func (p PendingIncrement) OfflineIDs() []string {
	n := p.Count - p.Acked
	if n <= 0 {
		return nil
	}
	ids := make([]string, 0, n)
	for k := p.Acked; k < p.Count; k++ {
		ids = append(ids, p.LocalID+":"+strconv.Itoa(k))
	}
	return ids
}
