package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/adapters/http/api"
	app "github.com/okian/zikir/internal/app"
	"github.com/okian/zikir/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

func startServer(t *testing.T, opts ...app.Option) string {
	t.Helper()
	ctx := context.Background()
	svc := app.New(append([]app.Option{app.WithWorkerCount(1)}, opts...)...)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(svc, svc).NewRouter(ctx))
	t.Cleanup(func() {
		srv.Close()
		svc.Stop()
	})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/rooms", strings.NewReader(`{"roomId":"fajr"}`))
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	resp.Body.Close()
	return srv.URL
}

func TestClientCommands(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a server and an empty local queue", t, func() {
		url := startServer(t)
		db := filepath.Join(t.TempDir(), "queue.db")
		exec := func(args ...string) (string, error) {
			var out bytes.Buffer
			err := run(ctx, append(args, "-url", url, "-db", db), &out)
			return out.String(), err
		}

		convey.Convey("When taps are queued offline", func() {
			out, err := exec("tap", "-room", "fajr", "-user", "u1", "-n", "5", "-offline")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "pending 5")

			convey.Convey("Then they survive in the SQLite file", func() {
				out, err := exec("pending")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "fajr")
				convey.So(out, convey.ShouldContainSubstring, "pending")
			})

			convey.Convey("Then a later sync delivers them once", func() {
				out, err := exec("sync")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "sync success: 5 synced")

				out, err = exec("sync")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "0 synced")

				out, err = exec("tap", "-room", "fajr", "-user", "u1", "-live")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "total 6")
			})
		})

		convey.Convey("When taps are queued online", func() {
			out, err := exec("tap", "-room", "fajr", "-user", "u1", "-n", "3")

			convey.Convey("Then they are synced before the command exits", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "3 synced")
			})
		})
	})

	convey.Convey("Given a server that accepts at most 4 taps per bulk request", t, func() {
		url := startServer(t, app.WithMaxBulkCount(4))
		db := filepath.Join(t.TempDir(), "queue.db")
		exec := func(args ...string) (string, error) {
			var out bytes.Buffer
			err := run(ctx, append(args, "-url", url, "-db", db), &out)
			return out.String(), err
		}

		convey.Convey("When more taps are queued than one request may carry", func() {
			_, err := exec("tap", "-room", "fajr", "-user", "u1", "-n", "10", "-offline")
			convey.So(err, convey.ShouldBeNil)

			convey.Convey("Then sync splits them and none are rejected", func() {
				out, err := exec("sync", "-max-batch", "25")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "sync success: 10 synced")

				out, err = exec("tap", "-room", "fajr", "-user", "u1", "-live")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "total 11")
			})

			convey.Convey("Then a batch cap below the server's limit also delivers them", func() {
				out, err := exec("sync", "-max-batch", "3")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "10 synced")
			})
		})
	})

	convey.Convey("Given bad arguments", t, func() {
		var out bytes.Buffer

		convey.Convey("Then no command and unknown commands are usage errors", func() {
			convey.So(errors.Is(run(ctx, nil, &out), errUsage), convey.ShouldBeTrue)
			convey.So(errors.Is(run(ctx, []string{"dance"}, &out), errUsage), convey.ShouldBeTrue)
		})

		convey.Convey("Then tap without a room is a usage error", func() {
			err := run(ctx, []string{"tap", "-user", "u1", "-db", filepath.Join(t.TempDir(), "q.db")}, &out)
			convey.So(errors.Is(err, errUsage), convey.ShouldBeTrue)
		})
	})
}
