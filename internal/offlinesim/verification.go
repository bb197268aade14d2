package offlinesim

import (
	"context"
	"fmt"

	"github.com/okian/zikir/pkg/logger"
)

// verifyTotals checks that every user's total equals the taps made for
// them: nothing lost and nothing counted twice. It also checks the
// leaderboard order.
func verifyTotals(ctx context.Context, client *HTTPClient, expected map[string]map[string]int64, stats *Stats) error {
	for room, users := range expected {
		snap, err := client.Leaderboard(ctx, adminUser, room)
		if err != nil {
			return err
		}

		got := make(map[string]int64, len(snap.Leaderboard))
		for i, e := range snap.Leaderboard {
			got[e.UserID] = e.TotalCount
			if e.Rank != i+1 {
				return fmt.Errorf("room %s: entry %d has rank %d", room, i, e.Rank)
			}
			if i > 0 && e.TodayCount > snap.Leaderboard[i-1].TodayCount {
				return fmt.Errorf("room %s: leaderboard not sorted at entry %d", room, i)
			}
		}

		for user, want := range users {
			if got[user] != want {
				return fmt.Errorf("room %s user %s: server total %d, taps made %d", room, user, got[user], want)
			}
		}
		if got[adminUser] != 0 {
			return fmt.Errorf("room %s: admin has %d taps but never counted", room, got[adminUser])
		}
		stats.RoomsVerified++
		logger.Get().Debug(ctx, "room verified", logger.String("room", room), logger.Int("members", len(snap.Leaderboard)))
	}
	return nil
}
