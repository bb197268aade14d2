package realtime_test

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/adapters/realtime"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
)

type fakeConn struct {
	id     string
	buf    int
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
}

func newFakeConn(id string, buf int) *fakeConn { return &fakeConn{id: id, buf: buf} }

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return "user-" + f.id }

func (f *fakeConn) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || len(f.msgs) >= f.buf {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received() []types.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Envelope, 0, len(f.msgs))
	for _, m := range f.msgs {
		var env types.Envelope
		_ = json.Unmarshal(m, &env)
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestBroadcaster(t *testing.T) {
	_ = logger.Init(logger.WithWriter(io.Discard))

	Convey("Given a broadcaster with viewers in two rooms", t, func() {
		b := realtime.NewBroadcaster()
		a1, a2, other := newFakeConn("a1", 8), newFakeConn("a2", 8), newFakeConn("o", 8)
		b.Join("a", a1)
		b.Join("a", a2)
		b.Join("b", other)

		env := types.Envelope{Type: types.MsgCountUpdate, Data: types.CountUpdate{RoomID: "a"}}

		Convey("When publishing to one room", func() {
			n := b.Publish("a", env)

			Convey("Then only that room's viewers receive it", func() {
				So(n, ShouldEqual, 2)
				So(len(a1.received()), ShouldEqual, 1)
				So(a1.received()[0].Type, ShouldEqual, types.MsgCountUpdate)
				So(len(a2.received()), ShouldEqual, 1)
				So(other.received(), ShouldBeEmpty)
			})
		})

		Convey("When a viewer switches rooms", func() {
			prev := b.Join("b", a1)
			b.Publish("a", env)

			Convey("Then it belongs to the new room only", func() {
				So(prev, ShouldEqual, "a")
				So(b.RoomOf(a1), ShouldEqual, "b")
				So(a1.received(), ShouldBeEmpty)
				So(b.Stats().PerRoom, ShouldResemble, map[string]int{"a": 1, "b": 2})
			})
		})

		Convey("When a viewer leaves", func() {
			room := b.Leave(a2)
			n := b.Publish("a", env)

			Convey("Then it no longer receives updates", func() {
				So(room, ShouldEqual, "a")
				So(n, ShouldEqual, 1)
				So(a2.received(), ShouldBeEmpty)
				So(b.Leave(a2), ShouldEqual, "")
			})
		})

		Convey("When a viewer's buffer is full", func() {
			slow := newFakeConn("slow", 1)
			b.Join("a", slow)
			b.Publish("a", env)
			n := b.Publish("a", env)

			Convey("Then it is dropped and closed while the others keep receiving", func() {
				So(n, ShouldEqual, 2)
				So(slow.isClosed(), ShouldBeTrue)
				So(b.RoomOf(slow), ShouldEqual, "")
				So(len(a1.received()), ShouldEqual, 2)
			})
		})

		Convey("When the last viewer of a room leaves", func() {
			b.Leave(other)

			Convey("Then the room disappears from the stats", func() {
				s := b.Stats()
				So(s.Rooms, ShouldEqual, 1)
				So(s.Connections, ShouldEqual, 2)
			})
		})

		Convey("When the broadcaster is closed", func() {
			b.Close()
			late := newFakeConn("late", 8)
			b.Join("a", late)

			Convey("Then every viewer is closed and new joins are refused", func() {
				So(a1.isClosed(), ShouldBeTrue)
				So(other.isClosed(), ShouldBeTrue)
				So(late.isClosed(), ShouldBeTrue)
				So(b.Stats().Connections, ShouldEqual, 0)
				So(b.Publish("a", env), ShouldEqual, 0)
			})
		})
	})
}

func TestBroadcasterConcurrency(t *testing.T) {
	_ = logger.Init(logger.WithWriter(io.Discard))

	Convey("Given viewers joining and leaving while updates are published", t, func() {
		b := realtime.NewBroadcaster()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			c := newFakeConn(string(rune('a'+i)), 1000)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					b.Join([]string{"x", "y"}[j%2], c)
				}
				b.Leave(c)
			}()
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					b.Publish("x", types.Envelope{Type: types.MsgCountUpdate})
				}
			}()
		}
		wg.Wait()

		Convey("Then the index ends empty and consistent", func() {
			s := b.Stats()
			So(s.Connections, ShouldEqual, 0)
			So(s.Rooms, ShouldEqual, 0)
		})
	})
}
