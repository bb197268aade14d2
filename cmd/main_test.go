package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/adapters/realtime"
	"github.com/okian/zikir/internal/config"
	"github.com/okian/zikir/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return logger.Get()
}

func TestConfigFromEnvironment(t *testing.T) {
	convey.Convey("Given ZIKIR_ environment variables", t, func() {
		t.Setenv("ZIKIR_ADDR", ":9090")
		t.Setenv("ZIKIR_DISPATCH_QUEUE_SIZE", "64")
		t.Setenv("ZIKIR_DISPATCH_WORKERS", "3")
		t.Setenv("ZIKIR_CORS_ORIGINS", "https://a.example, https://b.example")

		convey.Convey("Then the loaded configuration reflects them", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.DispatchQueueSize, convey.ShouldEqual, 64)
			convey.So(cfg.DispatchWorkers, convey.ShouldEqual, 3)
			convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
		})
	})
}

func TestOpenBackends(t *testing.T) {
	log := testLogger(t)
	ctx := context.Background()

	convey.Convey("Given a configuration", t, func() {
		cfg := config.New()

		convey.Convey("When the backend is unknown", func() {
			cfg.StoreBackend = "cassandra"
			_, err := openBackends(ctx, cfg, log)

			convey.Convey("Then it is rejected as invalid configuration", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the backend is redis", func() {
			mr := miniredis.RunT(t)
			cfg.StoreBackend = config.BackendRedis
			cfg.RedisURL = "redis://" + mr.Addr()
			be, err := openBackends(ctx, cfg, log)

			convey.Convey("Then the store and the registry share the client", func() {
				convey.So(err, convey.ShouldBeNil)
				_, err := be.members.CreateRoom(ctx, "r1", false, "u1")
				convey.So(err, convey.ShouldBeNil)
				_, err = be.store.Create(ctx, "r1", "u1")
				convey.So(err, convey.ShouldBeNil)
				c, err := be.store.Increment(ctx, "r1", "u1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(c.TotalCount, convey.ShouldEqual, 1)
				be.close()
			})
		})

		convey.Convey("When the redis server is unreachable", func() {
			cfg.StoreBackend = config.BackendRedis
			cfg.RedisURL = "redis://127.0.0.1:1"
			_, err := openBackends(ctx, cfg, log)

			convey.Convey("Then startup fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestHandlerWiring(t *testing.T) {
	log := testLogger(t)
	ctx := context.Background()

	convey.Convey("Given a started in-memory deployment", t, func() {
		cfg := config.New()
		b := realtime.NewBroadcaster(realtime.WithLogger(log))
		svc, err := newService(ctx, cfg, b, log)
		convey.So(err, convey.ShouldBeNil)
		defer b.Close()
		defer svc.Stop()

		srv := httptest.NewServer(newHandler(ctx, cfg, svc, b, log))
		defer srv.Close()

		convey.Convey("When a room is created and counted in", func() {
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/rooms", strings.NewReader(`{"roomId":"fajr"}`))
			req.Header.Set(realtime.UserIDHeader, "u1")
			createResp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			createResp.Body.Close()

			req, _ = http.NewRequest(http.MethodPost, srv.URL+"/rooms/fajr/count", nil)
			req.Header.Set(realtime.UserIDHeader, "u1")
			countResp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			countResp.Body.Close()

			convey.Convey("Then both succeed through the full stack", func() {
				convey.So(createResp.StatusCode, convey.ShouldEqual, http.StatusCreated)
				convey.So(countResp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When a browser sends a preflight", func() {
			req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/rooms/fajr/count", nil)
			req.Header.Set("Origin", "https://app.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", realtime.UserIDHeader)
			resp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			resp.Body.Close()

			convey.Convey("Then the identity header is allowed", func() {
				convey.So(resp.Header.Get("Access-Control-Allow-Origin"), convey.ShouldEqual, "*")
				convey.So(strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers")),
					convey.ShouldContainSubstring, strings.ToLower(realtime.UserIDHeader))
			})
		})

		convey.Convey("When the API docs are requested", func() {
			resp, err := http.Get(srv.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			resp.Body.Close()

			convey.Convey("Then they are served", func() {
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestOriginChecker(t *testing.T) {
	convey.Convey("Given websocket origin checks", t, func() {
		req := func(origin string) *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if origin != "" {
				r.Header.Set("Origin", origin)
			}
			return r
		}

		convey.Convey("Then no configured origins allows everything", func() {
			convey.So(originChecker(nil)(req("https://evil.example")), convey.ShouldBeTrue)
		})

		convey.Convey("Then configured origins are enforced", func() {
			check := originChecker([]string{"https://app.example"})
			convey.So(check(req("https://app.example")), convey.ShouldBeTrue)
			convey.So(check(req("https://evil.example")), convey.ShouldBeFalse)
			convey.So(check(req("")), convey.ShouldBeTrue)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	log := testLogger(t)

	convey.Convey("Given the background metrics updaters", t, func() {
		svc, err := newService(context.Background(), config.New(), realtime.NewBroadcaster(), log)
		convey.So(err, convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("Then they return once the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, svc)
			}, convey.ShouldNotPanic)
		})

		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})
	})
}
