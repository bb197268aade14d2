package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/zikir/internal/adapters/mq/queue"
	worker "github.com/okian/zikir/internal/adapters/mq/worker"
	model "github.com/okian/zikir/internal/domain/model"
	logging "github.com/okian/zikir/pkg/logger"
)

type mockQueue struct {
	eventChan chan queue.Event
}

func newMockQueue() *mockQueue {
	return &mockQueue{eventChan: make(chan queue.Event, 10)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Event {
	return mq.eventChan
}

// recorder remembers the order in which each room's events were handled.
type recorder struct {
	mu     sync.Mutex
	byRoom map[string][]string
	fail   map[string]error
	total  int
}

func newRecorder() *recorder {
	return &recorder{byRoom: make(map[string][]string), fail: make(map[string]error)}
}

func (r *recorder) HandleRoomEvent(_ context.Context, ev model.RoomEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[ev.UserID]; ok {
		return err
	}
	r.byRoom[ev.RoomID] = append(r.byRoom[ev.RoomID], ev.UserID)
	r.total++
	return nil
}

func (r *recorder) handled(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.byRoom[room]...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running InMemoryWorker", t, func() {
		_ = logging.Init(logging.WithWriter(io.Discard))

		q := newMockQueue()
		rec := newRecorder()
		w := worker.NewInMemoryWorker(q, rec, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When events arrive", func() {
			q.eventChan <- model.RoomEvent{Kind: model.EventCountUpdate, RoomID: "r1", UserID: "u1"}
			q.eventChan <- model.RoomEvent{Kind: model.EventCountUpdate, RoomID: "r1", UserID: "u2"}

			convey.Convey("Then the handler sees them in order", func() {
				convey.So(waitFor(func() bool { return rec.count() == 2 }), convey.ShouldBeTrue)
				convey.So(rec.handled("r1"), convey.ShouldResemble, []string{"u1", "u2"})
			})
		})

		convey.Convey("When the handler fails on one event", func() {
			rec.fail["bad"] = errors.New("boom")
			q.eventChan <- model.RoomEvent{RoomID: "r1", UserID: "bad"}
			q.eventChan <- model.RoomEvent{RoomID: "r1", UserID: "good"}

			convey.Convey("Then the worker keeps going", func() {
				convey.So(waitFor(func() bool { return rec.count() == 1 }), convey.ShouldBeTrue)
				convey.So(rec.handled("r1"), convey.ShouldResemble, []string{"good"})
			})
		})

		convey.Convey("When shutting down twice", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer shutdownCancel()

			err1 := w.Shutdown(shutdownCtx)
			err2 := w.Shutdown(shutdownCtx)

			convey.Convey("Then both calls succeed", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a sharded pool", t, func() {
		_ = logging.Init(logging.WithWriter(io.Discard))

		rec := newRecorder()
		pool := worker.NewPool(4, rec, worker.WithQueueCapacity(256))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.Convey("Then a room always maps to the same shard", func() {
			convey.So(pool.Size(), convey.ShouldEqual, 4)
			convey.So(pool.Shard("room-a"), convey.ShouldEqual, pool.Shard("room-a"))
		})

		convey.Convey("When events for several rooms are submitted", func() {
			pool.Start(ctx)
			for i := 0; i < 50; i++ {
				for _, room := range []string{"a", "b", "c"} {
					err := pool.Submit(ctx, model.RoomEvent{RoomID: room, UserID: fmt.Sprintf("%03d", i)})
					convey.So(err, convey.ShouldBeNil)
				}
			}

			convey.Convey("Then each room's events are handled in submission order", func() {
				convey.So(waitFor(func() bool { return rec.count() == 150 }), convey.ShouldBeTrue)
				for _, room := range []string{"a", "b", "c"} {
					got := rec.handled(room)
					convey.So(len(got), convey.ShouldEqual, 50)
					for i, u := range got {
						convey.So(u, convey.ShouldEqual, fmt.Sprintf("%03d", i))
					}
				}
			})
		})

		convey.Convey("When a shard's queue is full", func() {
			small := worker.NewPool(1, rec, worker.WithQueueCapacity(1))
			err1 := small.Submit(ctx, model.RoomEvent{RoomID: "x"})
			err2 := small.Submit(ctx, model.RoomEvent{RoomID: "x"})

			convey.Convey("Then the overflow is rejected without blocking", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(errors.Is(err2, queue.ErrFull), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the pool is shut down", func() {
			pool.Start(ctx)
			_ = pool.Submit(ctx, model.RoomEvent{RoomID: "a", UserID: "last"})
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then buffered events are drained and new ones refused", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.handled("a"), convey.ShouldResemble, []string{"last"})
				convey.So(errors.Is(pool.Submit(ctx, model.RoomEvent{RoomID: "a"}), queue.ErrStopped), convey.ShouldBeTrue)
			})
		})
	})
}
