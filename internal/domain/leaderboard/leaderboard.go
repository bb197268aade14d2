// Package leaderboard ranks the counters of a room.
package leaderboard

import (
	"sort"
	"time"

	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
)

// Rank orders rows by today's count (desc), then by who reached it first
// (lastCountAt asc, rows that never counted last), then by user id, and
// assigns dense ranks 1..N. The result is fully determined by the input set.
//
// Rank must be given the whole room: ranks are positions in the full order.
func Rank(rows []model.LiveCounter) []types.Entry {
	sorted := make([]model.LiveCounter, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})

	out := make([]types.Entry, len(sorted))
	for i, c := range sorted {
		out[i] = types.Entry{
			Rank:        i + 1,
			UserID:      c.UserID,
			TodayCount:  c.TodayCount,
			TotalCount:  c.TotalCount,
			LastCountAt: c.LastCountAt,
		}
	}
	return out
}

func less(a, b model.LiveCounter) bool {
	if a.TodayCount != b.TodayCount {
		return a.TodayCount > b.TodayCount
	}
	az, bz := a.LastCountAt.IsZero(), b.LastCountAt.IsZero()
	switch {
	case az != bz:
		return bz
	case !a.LastCountAt.Equal(b.LastCountAt):
		return a.LastCountAt.Before(b.LastCountAt)
	}
	return a.UserID < b.UserID
}

// ForDay returns copies of rows whose TodayCount is the effective count at
// now, so a row last touched yesterday is ranked with zero.
func ForDay(rows []model.LiveCounter, now time.Time, loc *time.Location) []model.LiveCounter {
	out := make([]model.LiveCounter, len(rows))
	for i, c := range rows {
		c.TodayCount = c.EffectiveToday(now, loc)
		out[i] = c
	}
	return out
}
