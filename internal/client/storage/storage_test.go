package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/zikir/internal/client/storage"
	"github.com/okian/zikir/internal/domain/model"
)

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()

	Convey("Given a database file", t, func() {
		path := filepath.Join(t.TempDir(), "pending.db")
		s, err := storage.OpenSQLite(ctx, path)
		So(err, ShouldBeNil)

		Convey("When nothing was saved", func() {
			entries, err := s.Load(ctx)

			Convey("Then the array is empty", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldBeEmpty)
			})
		})

		Convey("When entries are saved and the database is reopened", func() {
			at := time.Date(2026, 4, 10, 6, 30, 0, 0, time.UTC)
			want := []model.PendingIncrement{
				{LocalID: "a", RoomID: "dawn", UserID: "amina", Count: 3, Acked: 1, CreatedAt: at},
				{LocalID: "b", RoomID: "dusk", UserID: "amina", Count: 1, CreatedAt: at, Rejected: true, RejectReason: "forbidden"},
			}
			So(s.Save(ctx, want), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			again, err := storage.OpenSQLite(ctx, path)
			So(err, ShouldBeNil)
			defer again.Close()
			got, err := again.Load(ctx)

			Convey("Then the same entries come back", func() {
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
				So(got[0].LocalID, ShouldEqual, "a")
				So(got[0].Acked, ShouldEqual, 1)
				So(got[0].CreatedAt.Equal(at), ShouldBeTrue)
				So(got[1].Rejected, ShouldBeTrue)
				So(got[1].RejectReason, ShouldEqual, "forbidden")
			})
		})

		Convey("When a later save replaces the array", func() {
			So(s.Save(ctx, []model.PendingIncrement{{LocalID: "a"}, {LocalID: "b"}}), ShouldBeNil)
			So(s.Save(ctx, nil), ShouldBeNil)
			got, err := s.Load(ctx)

			Convey("Then only the latest array is stored", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeEmpty)
			})
		})

		Reset(func() { _ = s.Close() })
	})
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory storage armed to fail", t, func() {
		s := storage.NewMemoryStorage()
		So(s.Save(ctx, []model.PendingIncrement{{LocalID: "a"}}), ShouldBeNil)
		boom := errors.New("disk full")
		s.FailNext(boom)

		Convey("When saving", func() {
			err := s.Save(ctx, []model.PendingIncrement{{LocalID: "b"}})

			Convey("Then the save fails once and the old array stays", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				got, _ := s.Load(ctx)
				So(got[0].LocalID, ShouldEqual, "a")
				So(s.Save(ctx, nil), ShouldBeNil)
				So(s.Saves(), ShouldEqual, 2)
			})
		})

		Convey("When closed", func() {
			So(s.Close(), ShouldBeNil)

			Convey("Then it refuses work", func() {
				_, err := s.Load(ctx)
				So(errors.Is(err, storage.ErrClosed), ShouldBeTrue)
			})
		})
	})
}
