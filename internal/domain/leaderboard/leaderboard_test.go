package leaderboard_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/okian/zikir/internal/domain/leaderboard"
	"github.com/okian/zikir/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRank(t *testing.T) {
	Convey("Given room rows with ties", t, func() {
		t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		rows := []model.LiveCounter{
			{UserID: "carol", TodayCount: 5, TotalCount: 9, LastCountAt: t0.Add(2 * time.Minute)},
			{UserID: "bob", TodayCount: 5, TotalCount: 5, LastCountAt: t0},
			{UserID: "dave", TodayCount: 0, TotalCount: 0},
			{UserID: "alice", TodayCount: 5, TotalCount: 7, LastCountAt: t0},
			{UserID: "erin", TodayCount: 0, TotalCount: 3, LastCountAt: t0},
			{UserID: "frank", TodayCount: 8, TotalCount: 8, LastCountAt: t0.Add(time.Hour)},
		}

		Convey("When ranking", func() {
			got := leaderboard.Rank(rows)

			Convey("Then order is todayCount desc, earliest last tap, user id", func() {
				ids := make([]string, len(got))
				for i, e := range got {
					ids[i] = e.UserID
					So(e.Rank, ShouldEqual, i+1)
				}
				So(ids, ShouldResemble, []string{"frank", "alice", "bob", "carol", "erin", "dave"})
			})

			Convey("Then the input slice is left untouched", func() {
				So(rows[0].UserID, ShouldEqual, "carol")
			})
		})

		Convey("When the same set is ranked in any input order", func() {
			want := leaderboard.Rank(rows)
			r := rand.New(rand.NewSource(7))
			for i := 0; i < 20; i++ {
				shuffled := append([]model.LiveCounter(nil), rows...)
				r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

				So(leaderboard.Rank(shuffled), ShouldResemble, want)
			}
		})

		Convey("When ranking an empty room", func() {
			So(leaderboard.Rank(nil), ShouldBeEmpty)
		})
	})
}

func TestForDay(t *testing.T) {
	Convey("Given a row last touched yesterday and one touched today", t, func() {
		now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
		rows := []model.LiveCounter{
			{UserID: "stale", TodayCount: 50, TotalCount: 50, LastCountAt: now.Add(-20 * time.Hour)},
			{UserID: "fresh", TodayCount: 2, TotalCount: 2, LastCountAt: now.Add(-time.Hour)},
		}

		Convey("When normalised for today and ranked", func() {
			got := leaderboard.Rank(leaderboard.ForDay(rows, now, time.UTC))

			Convey("Then yesterday's tally does not lead today's board", func() {
				So(got[0].UserID, ShouldEqual, "fresh")
				So(got[1].TodayCount, ShouldEqual, 0)
				So(got[1].TotalCount, ShouldEqual, 50)
				So(rows[0].TodayCount, ShouldEqual, 50)
			})
		})
	})
}
