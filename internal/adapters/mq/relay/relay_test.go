package relay_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/adapters/mq/relay"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/pkg/logger"
)

func TestCodec(t *testing.T) {
	Convey("Given a count update event", t, func() {
		ev := model.RoomEvent{
			Kind:    model.EventCountUpdate,
			RoomID:  "r1",
			UserID:  "u1",
			Counter: &model.LiveCounter{RoomID: "r1", UserID: "u1", TotalCount: 7},
			At:      time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
		}

		Convey("Then it survives the wire", func() {
			data, err := relay.Encode(ev)
			So(err, ShouldBeNil)
			got, err := relay.Decode(data)
			So(err, ShouldBeNil)
			So(got.Counter.TotalCount, ShouldEqual, 7)
			So(got.At.Equal(ev.At), ShouldBeTrue)
		})
	})

	Convey("Given malformed payloads", t, func() {
		cases := []struct{ name, body string }{
			{"not json", `{`},
			{"missing room", `{"kind":"countUpdate","userId":"u"}`},
			{"unknown kind", `{"kind":"explode","roomId":"r"}`},
		}
		for _, tc := range cases {
			Convey("Then "+tc.name+" is refused", func() {
				_, err := relay.Decode([]byte(tc.body))
				So(err, ShouldNotBeNil)
			})
		}

		Convey("Then semantic problems are typed as invalid input", func() {
			_, err := relay.Decode([]byte(`{"kind":"countUpdate"}`))
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

// TestRelayRoundTrip needs a NATS server, e.g. ZIKIR_TEST_NATS_URL=nats://127.0.0.1:4222
func TestRelayRoundTrip(t *testing.T) {
	url := os.Getenv("ZIKIR_TEST_NATS_URL")
	if url == "" {
		t.Skip("ZIKIR_TEST_NATS_URL not set")
	}
	_ = logger.Init(logger.WithWriter(io.Discard))

	Convey("Given two relays on one subject", t, func() {
		subject := "zikir.test." + time.Now().Format("150405.000000")
		nc1, err := relay.Connect(url)
		So(err, ShouldBeNil)
		nc2, err := relay.Connect(url)
		So(err, ShouldBeNil)
		pub := relay.New(nc1, relay.WithSubject(subject), relay.WithOwnedConn())
		sub := relay.New(nc2, relay.WithSubject(subject), relay.WithOwnedConn())
		defer pub.Close()
		defer sub.Close()

		got := make(chan model.RoomEvent, 1)
		So(sub.Subscribe(func(_ context.Context, ev model.RoomEvent) { got <- ev }), ShouldBeNil)
		So(nc2.Flush(), ShouldBeNil)

		Convey("When one instance publishes", func() {
			So(pub.Publish(context.Background(), model.RoomEvent{Kind: model.EventMemberJoined, RoomID: "r", UserID: "u"}), ShouldBeNil)

			Convey("Then the other receives it", func() {
				select {
				case ev := <-got:
					So(ev.Kind, ShouldEqual, model.EventMemberJoined)
					So(ev.UserID, ShouldEqual, "u")
				case <-time.After(2 * time.Second):
					So("timeout", ShouldBeEmpty)
				}
			})
		})
	})
}
