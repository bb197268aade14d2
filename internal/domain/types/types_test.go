package types_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/zikir/internal/domain/model"
	types "github.com/okian/zikir/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEnvelopeWireShape(t *testing.T) {
	Convey("Given a count update envelope", t, func() {
		env := types.Envelope{
			Type: types.MsgCountUpdate,
			Data: types.CountUpdate{
				RoomID:      "r1",
				UserID:      "u1",
				Counter:     &model.LiveCounter{RoomID: "r1", UserID: "u1", TotalCount: 1},
				Leaderboard: []types.Entry{{Rank: 1, UserID: "u1", TodayCount: 1, TotalCount: 1}},
			},
		}

		Convey("When it is marshalled", func() {
			b, err := json.Marshal(env)
			So(err, ShouldBeNil)

			Convey("Then it uses the camelCase protocol names and omits a zero lastCountAt", func() {
				s := string(b)
				So(s, ShouldContainSubstring, `"type":"countUpdate"`)
				So(s, ShouldContainSubstring, `"leaderboard":[{"rank":1,"userId":"u1","todayCount":1,"totalCount":1}]`)
				So(s, ShouldNotContainSubstring, "lastCountAt")
			})
		})
	})

	Convey("Given a bulk request body with a numeric string count", t, func() {
		body := `{"userId":"u","count":"3","offlineIds":["a","b","c"]}`

		Convey("Then decoding refuses to coerce it", func() {
			var req types.BulkRequest
			So(json.Unmarshal([]byte(body), &req), ShouldNotBeNil)
		})
	})
}
