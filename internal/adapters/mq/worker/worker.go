// Package worker runs room events through a handler off the request path.
//
// The pool is sharded: every room hashes to exactly one worker, so events
// for a room are handled in the order they were submitted while different
// rooms proceed in parallel.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/zikir/internal/adapters/mq/queue"
	"github.com/okian/zikir/internal/domain/model"
	"github.com/okian/zikir/pkg/logger"
	"github.com/okian/zikir/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Handler consumes one room event.
type Handler interface {
	HandleRoomEvent(ctx context.Context, ev model.RoomEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.RoomEvent) error

// HandleRoomEvent calls f.
func (f HandlerFunc) HandleRoomEvent(ctx context.Context, ev model.RoomEvent) error {
	return f(ctx, ev)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Event
}

// Worker processes events with the provided handler.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, Shutdown is
	// called or the queue is closed and drained.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for one queue.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		handler:  handler,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "error processing room event", logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Shutdown stops the worker and waits for the loop to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) processEvent(ctx context.Context, event queue.Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := w.handler.HandleRoomEvent(ctx, event); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "handler_error")
		return fmt.Errorf("handle %s for room %s: %w", event.Kind, event.RoomID, err)
	}
	return nil
}

// Pool owns one queue and one worker per shard.
type Pool struct {
	workers  []*InMemoryWorker
	queues   []*queue.InMemoryQueue
	capacity int

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	logger logger.Logger
}

// NewPool creates a sharded pool. A workerCount below one means NumCPU.
func NewPool(workerCount int, handler Handler, opts ...PoolOption) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queues:   make([]*queue.InMemoryQueue, workerCount),
		capacity: 1024,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("dispatch")
	}

	for i := 0; i < workerCount; i++ {
		p.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(p.capacity))
		p.workers[i] = NewInMemoryWorker(p.queues[i], handler,
			WithName("dispatch-"+strconv.Itoa(i)),
			WithLogger(p.logger.Named(strconv.Itoa(i))),
		)
	}

	metrics.UpdateWorkerActiveCount(workerCount)

	return p
}

// Start launches every worker. Later calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		for _, w := range p.workers {
			go w.Run(ctx)
		}
	})
}

// Shard returns the worker index that owns roomID.
func (p *Pool) Shard(roomID string) int {
	return int(xxhash.Sum64String(roomID) % uint64(len(p.queues)))
}

// Submit hands ev to the worker that owns its room. It never blocks.
func (p *Pool) Submit(ctx context.Context, ev model.RoomEvent) error {
	q := p.queues[p.Shard(ev.RoomID)]
	if q.IsClosed() {
		return queue.ErrStopped
	}
	if !q.Enqueue(ctx, ev) {
		if q.IsClosed() {
			return queue.ErrStopped
		}
		return queue.ErrFull
	}
	return nil
}

// Len is the number of events waiting across all shards.
func (p *Pool) Len(ctx context.Context) int {
	n := 0
	for _, q := range p.queues {
		n += q.Len(ctx)
	}
	return n
}

// Size is the number of shards.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes every queue and waits for the workers to drain what is
// already buffered. Workers still busy when ctx expires are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		for _, q := range p.queues {
			_ = q.Close()
		}
		if !p.started.Load() {
			return
		}
		for i, w := range p.workers {
			select {
			case <-w.Done():
			case <-ctx.Done():
				p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
				_ = w.Shutdown(context.Background())
				err = fmt.Errorf("drain worker %d: %w", i, ctx.Err())
			}
		}
		metrics.UpdateWorkerActiveCount(0)
	})
	return err
}

// Stop is Shutdown with the default timeout.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
	defer cancel()
	_ = p.Shutdown(ctx)
}
