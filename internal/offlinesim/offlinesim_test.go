package offlinesim

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/adapters/http/api"
	service "github.com/okian/zikir/internal/app"
	"github.com/okian/zikir/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func startServer(t *testing.T) string {
	ctx := context.Background()
	svc := service.New(service.WithWorkerCount(2))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(svc, svc).NewRouter(ctx))
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})
	return srv.URL
}

func TestRun(t *testing.T) {
	Convey("Given devices counting through a network that loses requests and replies", t, func() {
		cfg := &Config{
			BaseURL:        startServer(t),
			Rooms:          2,
			Users:          2,
			DevicesPerUser: 2,
			TapsPerDevice:  60,
			Workers:        4,
			FailureRate:    0.3,
			OfflineRate:    0.1,
			Seed:           7,
			Timeout:        5 * time.Second,
		}

		stats, err := Run(context.Background(), cfg)

		Convey("Then every tap is counted exactly once", func() {
			So(err, ShouldBeNil)
			So(stats.Devices, ShouldEqual, 8)
			So(stats.Taps, ShouldEqual, 8*60)
			So(stats.RoomsVerified, ShouldEqual, 2)
			So(stats.BulkRequests, ShouldBeGreaterThan, 0)
		})
	})
}

func TestVerifyTotals(t *testing.T) {
	Convey("Given a room where one tap was counted outside the simulation", t, func() {
		ctx := context.Background()
		base := startServer(t)
		client := newHTTPClient(base, time.Second)
		So(client.CreateRoom(ctx, adminUser, "r"), ShouldBeNil)

		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, base+"/rooms/r/count", http.NoBody)
		req.Header.Set("X-User-ID", "u")
		resp, err := http.DefaultClient.Do(req)
		So(err, ShouldBeNil)
		resp.Body.Close()

		Convey("When the expectation says nothing was tapped", func() {
			err := verifyTotals(ctx, client, map[string]map[string]int64{"r": {"u": 0}}, &Stats{})

			Convey("Then the extra tap is reported", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "server total 1")
			})
		})

		Convey("When the expectation matches", func() {
			stats := &Stats{}
			err := verifyTotals(ctx, client, map[string]map[string]int64{"r": {"u": 1}}, stats)

			Convey("Then the room is verified", func() {
				So(err, ShouldBeNil)
				So(stats.RoomsVerified, ShouldEqual, 1)
			})
		})
	})
}
