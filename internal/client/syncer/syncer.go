// Package syncer uploads the client's pending taps and drives live
// counting.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/okian/zikir/internal/client/display"
	"github.com/okian/zikir/internal/client/queue"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/internal/domain/types"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

// State summarises one sync pass.
type State string

const (
	StateIdle    State = "idle"
	StateSuccess State = "success"
	StatePartial State = "partial"
	StateFailed  State = "failed"
)

// DefaultMaxBatch matches the server's default bulk limit.
const DefaultMaxBatch = 10000

// GroupError is the failure of one (room, user) group.
type GroupError struct {
	RoomID   string
	UserID   string
	Err      error
	Rejected bool
}

func (e GroupError) Error() string {
	return fmt.Sprintf("room %s user %s: %v", e.RoomID, e.UserID, e.Err)
}

func (e GroupError) Unwrap() error { return e.Err }

// Report is the outcome of one sync pass. SyncedCounts holds the taps
// confirmed per room.
type Report struct {
	State        State
	SyncedCounts map[string]int
	Applied      int
	Duplicates   int
	Errors       []GroupError
}

// Synced is the total of SyncedCounts.
func (r Report) Synced() int {
	n := 0
	for _, c := range r.SyncedCounts {
		n += c
	}
	return n
}

// Client reconciles the queue with the server. Concurrent triggers share
// one pass.
type Client struct {
	queue     *queue.CountQueue
	transport Transport
	maxBatch  int
	logger    logger.Logger

	online atomic.Bool
	flight singleflight.Group

	mu       sync.Mutex
	displays map[string]*display.Counter
	last     Report
}

// New builds a client that starts offline.
func New(q *queue.CountQueue, t Transport, opts ...Option) *Client {
	c := &Client{
		queue:     q,
		transport: t,
		maxBatch:  DefaultMaxBatch,
		displays:  make(map[string]*display.Counter),
		last:      Report{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("sync")
	}
	return c
}

// Online reports what the client believes about connectivity.
func (c *Client) Online() bool { return c.online.Load() }

// SetOnline records connectivity. Going from offline to online runs a
// sync pass and returns its report.
func (c *Client) SetOnline(ctx context.Context, online bool) (Report, bool) {
	was := c.online.Swap(online)
	if !online || was {
		return Report{}, false
	}
	return c.Sync(ctx), true
}

// Tap queues one offline-capable tap. While online a sync pass is started
// in the background; it outlives ctx.
func (c *Client) Tap(ctx context.Context, roomID, userID string) (model.PendingIncrement, error) {
	e, err := c.queue.AddIncrement(ctx, roomID, userID)
	if err != nil {
		return model.PendingIncrement{}, err
	}
	if c.Online() {
		c.flight.DoChan("sync", func() (any, error) {
			return c.pass(context.WithoutCancel(ctx)), nil
		})
	}
	return e, nil
}

// Sync runs a pass, or joins the one in flight. The pass is not cancelled
// when ctx is; its results still land in the queue.
func (c *Client) Sync(ctx context.Context) Report {
	ch := c.flight.DoChan("sync", func() (any, error) {
		return c.pass(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Report)
	case <-ctx.Done():
		return Report{State: StateFailed, Errors: []GroupError{{Err: ctx.Err()}}}
	}
}

// LastReport is the report of the latest finished pass.
func (c *Client) LastReport() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Display returns the optimistic counter for a room and user.
func (c *Client) Display(roomID, userID string) *display.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := roomID + "\x00" + userID
	d, ok := c.displays[key]
	if !ok {
		d = display.New(0)
		c.displays[key] = d
	}
	return d
}

// CountNow sends one live tap with an optimistic display bump. On failure
// the display rolls back to the value shown before the bump and the error
// is returned; a network failure also marks the client offline.
func (c *Client) CountNow(ctx context.Context, roomID, userID string) (model.LiveCounter, error) {
	d := c.Display(roomID, userID)
	attempt := d.Begin()

	counter, err := c.transport.Count(ctx, roomID, userID)
	if err != nil {
		shown := d.Fail(attempt)
		if errors.Is(err, model.ErrNetwork) {
			c.online.Store(false)
		}
		c.logger.Warn(ctx, "live count failed",
			logger.String("room", roomID),
			logger.Int64("shown", shown),
			logger.Error(err),
		)
		return model.LiveCounter{}, err
	}
	d.Confirm(attempt, counter.CurrentCount)
	return counter, nil
}

// batch is one bulk request and the queue entries it confirms.
type batch struct {
	roomID string
	userID string
	req    types.BulkRequest
	segs   []segment
}

// segment says that a batch carries an entry's taps up to ordinal upto.
type segment struct {
	localID string
	upto    int
}

func (c *Client) pass(ctx context.Context) Report {
	rep := Report{SyncedCounts: make(map[string]int)}
	groups := groupBatches(c.queue.Unsynced(), c.MaxBatch())
	if len(groups) == 0 {
		rep.State = StateIdle
		c.finish(ctx, rep)
		return rep
	}

groups:
	for gi := 0; gi < len(groups); gi++ {
		g := groups[gi]
		for bi := 0; bi < len(g); bi++ {
			b := g[bi]
			res, err := c.transport.CountBulk(ctx, b.roomID, b.userID, b.req)
			if err != nil {
				if limit, ok := c.shrink(ctx, err, b.req.Count); ok {
					// Earlier batches of the group are already marked; resend the rest.
					g = c.regroup(b.roomID, b.userID, limit)
					bi = -1
					continue
				}
				ge := GroupError{RoomID: b.roomID, UserID: b.userID, Err: err}
				switch {
				case errors.Is(err, model.ErrUnauthorized):
					rep.Errors = append(rep.Errors, ge)
					break groups
				case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidInput):
					ge.Rejected = true
					if rerr := c.queue.Reject(ctx, localIDs(g[bi:]), reason(err)); rerr != nil {
						ge.Err = errors.Join(err, rerr)
					}
				case errors.Is(err, model.ErrNetwork):
					c.online.Store(false)
				}
				rep.Errors = append(rep.Errors, ge)
				continue groups
			}

			rep.Applied += res.Applied
			rep.Duplicates += res.Duplicates
			for _, s := range b.segs {
				if err := c.queue.MarkSynced(ctx, s.localID, s.upto); err != nil {
					rep.Errors = append(rep.Errors, GroupError{RoomID: b.roomID, UserID: b.userID, Err: err})
					continue groups
				}
			}
			rep.SyncedCounts[b.roomID] += b.req.Count
		}
	}

	switch {
	case len(rep.Errors) == 0:
		rep.State = StateSuccess
	case rep.Synced() > 0:
		rep.State = StatePartial
	default:
		rep.State = StateFailed
	}
	c.finish(ctx, rep)
	return rep
}

func (c *Client) finish(ctx context.Context, rep Report) {
	c.mu.Lock()
	c.last = rep
	c.mu.Unlock()

	metrics.RecordClientSync(string(rep.State), rep.Synced())
	if rep.State == StateIdle {
		return
	}
	c.logger.Info(ctx, "sync pass finished",
		logger.String("state", string(rep.State)),
		logger.Int("synced", rep.Synced()),
		logger.Int("duplicates", rep.Duplicates),
		logger.Int("errors", len(rep.Errors)),
	)
}

// groupBatches groups entries by room and user in first-seen order and
// splits each group into requests of at most limit taps.
func groupBatches(entries []model.PendingIncrement, limit int) [][]batch {
	type key struct{ room, user string }
	index := make(map[key]int)
	var groups [][]batch

	for _, e := range entries {
		k := key{e.RoomID, e.UserID}
		gi, ok := index[k]
		if !ok {
			gi = len(groups)
			index[k] = gi
			groups = append(groups, nil)
		}

		ids := e.OfflineIDs()
		at := e.CreatedAt.UnixMilli()
		done := e.Acked
		for len(ids) > 0 {
			g := groups[gi]
			if len(g) == 0 || g[len(g)-1].req.Count >= limit {
				g = append(g, batch{roomID: e.RoomID, userID: e.UserID, req: types.BulkRequest{UserID: e.UserID}})
			}
			b := &g[len(g)-1]
			take := min(limit-b.req.Count, len(ids))
			b.req.OfflineIDs = append(b.req.OfflineIDs, ids[:take]...)
			for range take {
				b.req.Timestamps = append(b.req.Timestamps, at)
			}
			b.req.Count += take
			done += take
			b.segs = append(b.segs, segment{localID: e.LocalID, upto: done})
			ids = ids[take:]
			groups[gi] = g
		}
	}
	return groups
}

// MaxBatch is the current cap on taps per bulk request. It starts at the
// configured value and only shrinks when the server refuses a batch as too
// large.
func (c *Client) MaxBatch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxBatch
}

// shrink lowers the batch cap after the server refused sent taps as too
// many. It uses the server's limit when one is named and smaller, and halves
// otherwise. It reports false when err is another failure or a single tap
// was already too many.
func (c *Client) shrink(ctx context.Context, err error, sent int) (int, bool) {
	var tooLarge *model.BatchLimitError
	if !errors.As(err, &tooLarge) {
		return 0, false
	}
	limit := tooLarge.Max
	if limit <= 0 || limit >= sent {
		limit = sent / 2
	}
	if limit < 1 {
		return 0, false
	}

	c.mu.Lock()
	c.maxBatch = min(c.maxBatch, limit)
	limit = c.maxBatch
	c.mu.Unlock()

	c.logger.Warn(ctx, "server refused batch size, splitting",
		logger.Int("sent", sent),
		logger.Int("maxBatch", limit),
	)
	return limit, true
}

// regroup rebuilds the batches of one room and user from the queue's
// current unsynced entries.
func (c *Client) regroup(roomID, userID string, limit int) []batch {
	var mine []model.PendingIncrement
	for _, e := range c.queue.Unsynced() {
		if e.RoomID == roomID && e.UserID == userID {
			mine = append(mine, e)
		}
	}
	if groups := groupBatches(mine, limit); len(groups) > 0 {
		return groups[0]
	}
	return nil
}

func localIDs(g []batch) []string {
	var out []string
	for _, b := range g {
		for _, s := range b.segs {
			out = append(out, s.localID)
		}
	}
	return out
}

func reason(err error) string {
	switch {
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "invalid_input"
	}
}
