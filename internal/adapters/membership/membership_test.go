package membership_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/adapters/membership"
	"github.com/okian/zikir/internal/adapters/repository"
	"github.com/okian/zikir/internal/domain/model"
)

type registryFactory func(t *testing.T) membership.Registry

var created = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func TestMemoryRegistry(t *testing.T) {
	runRegistryContract(t, "memory", func(t *testing.T) membership.Registry {
		return membership.NewMemoryRegistry(membership.WithClock(clockwork.NewFakeClockAt(created)))
	})
}

func TestRedisRegistry(t *testing.T) {
	runRegistryContract(t, "redis", func(t *testing.T) membership.Registry {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return membership.NewRedisRegistry(client, membership.WithClock(clockwork.NewFakeClockAt(created)))
	})
}

func TestPostgresRegistry(t *testing.T) {
	dsn := os.Getenv("ZIKIR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ZIKIR_TEST_DATABASE_URL not set")
	}
	runRegistryContract(t, "postgres", func(t *testing.T) membership.Registry {
		ctx := context.Background()
		pool, err := repository.Connect(ctx, dsn)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(pool.Close)
		if err := repository.Migrate(ctx, pool); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		if _, err := pool.Exec(ctx, `TRUNCATE rooms CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return membership.NewPostgresRegistry(pool, membership.WithClock(clockwork.NewFakeClockAt(created)))
	})
}

func runRegistryContract(t *testing.T, name string, factory registryFactory) {
	ctx := context.Background()

	convey.Convey("Given a "+name+" registry with a private and a public room", t, func() {
		reg := factory(t)
		_, err := reg.CreateRoom(ctx, "private", true, "alice", "bob")
		convey.So(err, convey.ShouldBeNil)
		_, err = reg.CreateRoom(ctx, "public", false)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When the same room id is created again", func() {
			_, err := reg.CreateRoom(ctx, "public", true)

			convey.Convey("Then it is a conflict and the original stays", func() {
				convey.So(errors.Is(err, model.ErrConflict), convey.ShouldBeTrue)
				room, err := reg.Room(ctx, "public")
				convey.So(err, convey.ShouldBeNil)
				convey.So(room.Private, convey.ShouldBeFalse)
				convey.So(room.CreatedAt.UnixMilli(), convey.ShouldEqual, created.UnixMilli())
			})
		})

		convey.Convey("When checking access", func() {
			member, err1 := reg.Access(ctx, "private", "alice")
			stranger, err2 := reg.Access(ctx, "private", "mallory")
			missing, err3 := reg.Access(ctx, "nowhere", "alice")

			convey.Convey("Then each case is reported without error", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(err3, convey.ShouldBeNil)
				convey.So(member, convey.ShouldResemble, membership.Access{RoomExists: true, Private: true, Member: true})
				convey.So(stranger, convey.ShouldResemble, membership.Access{RoomExists: true, Private: true})
				convey.So(missing, convey.ShouldResemble, membership.Access{})
			})
		})

		convey.Convey("When a user joins twice and then leaves", func() {
			first, err1 := reg.Join(ctx, "public", "carol")
			second, err2 := reg.Join(ctx, "public", "carol")
			members, _ := reg.Members(ctx, "public")
			left, err3 := reg.Leave(ctx, "public", "carol")
			again, err4 := reg.Leave(ctx, "public", "carol")
			after, _ := reg.Access(ctx, "public", "carol")

			convey.Convey("Then only the state changes are reported", func() {
				convey.So(err1, convey.ShouldBeNil)
				convey.So(err2, convey.ShouldBeNil)
				convey.So(err3, convey.ShouldBeNil)
				convey.So(err4, convey.ShouldBeNil)
				convey.So(first, convey.ShouldBeTrue)
				convey.So(second, convey.ShouldBeFalse)
				convey.So(members, convey.ShouldResemble, []string{"carol"})
				convey.So(left, convey.ShouldBeTrue)
				convey.So(again, convey.ShouldBeFalse)
				convey.So(after.Member, convey.ShouldBeFalse)
			})

			convey.Convey("And the user can rejoin", func() {
				rejoined, err := reg.Join(ctx, "public", "carol")
				convey.So(err, convey.ShouldBeNil)
				convey.So(rejoined, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When operating on a missing room", func() {
			_, errJoin := reg.Join(ctx, "nowhere", "alice")
			_, errLeave := reg.Leave(ctx, "nowhere", "alice")
			_, errMembers := reg.Members(ctx, "nowhere")
			_, errRoom := reg.Room(ctx, "nowhere")

			convey.Convey("Then every call reports not found", func() {
				convey.So(errors.Is(errJoin, model.ErrNotFound), convey.ShouldBeTrue)
				convey.So(errors.Is(errLeave, model.ErrNotFound), convey.ShouldBeTrue)
				convey.So(errors.Is(errMembers, model.ErrNotFound), convey.ShouldBeTrue)
				convey.So(errors.Is(errRoom, model.ErrNotFound), convey.ShouldBeTrue)
			})
		})

		convey.Convey("Then members are listed in order", func() {
			members, err := reg.Members(ctx, "private")
			convey.So(err, convey.ShouldBeNil)
			convey.So(members, convey.ShouldResemble, []string{"alice", "bob"})
		})
	})
}
