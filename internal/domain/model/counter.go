// Package model contains domain models passed between layers.
package model

import (
	"time"
)

// LiveCounter is one participant's tally inside one room.
//
// TotalCount never decreases. TodayCount belongs to the calendar day of
// LastCountAt and is reset lazily by the next increment on a later day.
type LiveCounter struct {
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId"`
	CurrentCount int64     `json:"currentCount"`
	TodayCount   int64     `json:"todayCount"`
	TotalCount   int64     `json:"totalCount"`
	LastCountAt  time.Time `json:"lastCountAt,omitzero"`
}

// Tap is one offline increment carried by bulk reconciliation.
type Tap struct {
	OfflineID string
	At        time.Time
}

// BulkResult reports how many taps of a bulk request were applied.
type BulkResult struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
}

// DayKey returns the calendar day of t in loc as yyyymmdd. The zero time maps to 0.
func DayKey(t time.Time, loc *time.Location) int {
	if t.IsZero() {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return y*10000 + int(m)*100 + d
}

// SameDay reports whether a and b fall on the same calendar day in loc.
// A zero time is never on the same day as anything.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ka := DayKey(a, loc)
	return ka != 0 && ka == DayKey(b, loc)
}

// Increment applies one live tap at now.
func (c *LiveCounter) Increment(now time.Time, loc *time.Location) {
	if SameDay(c.LastCountAt, now, loc) {
		c.TodayCount++
	} else {
		c.TodayCount = 1
	}
	c.CurrentCount++
	c.TotalCount++
	c.LastCountAt = now
}

// ApplyBulk adds applied taps whose most recent timestamp is latest.
//
// TodayCount follows the day of latest: a later day than the stored one
// starts over at applied, the same day accumulates, an earlier day leaves
// it untouched because those taps belong to a day that already rolled over.
func (c *LiveCounter) ApplyBulk(applied int64, latest time.Time, loc *time.Location) {
	if applied <= 0 {
		return
	}
	stored, incoming := DayKey(c.LastCountAt, loc), DayKey(latest, loc)
	switch {
	case incoming > stored:
		c.TodayCount = applied
	case incoming == stored:
		c.TodayCount += applied
	}
	c.CurrentCount += applied
	c.TotalCount += applied
	if latest.After(c.LastCountAt) {
		c.LastCountAt = latest
	}
}

// EffectiveToday is TodayCount as seen at now: zero once the day of the
// last tap is over.
func (c LiveCounter) EffectiveToday(now time.Time, loc *time.Location) int64 {
	if !SameDay(c.LastCountAt, now, loc) {
		return 0
	}
	return c.TodayCount
}
