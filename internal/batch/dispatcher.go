// Package batch runs units of outbound-notification work on a bounded worker
// pool and lets request handlers defer them into an explicit per-request batch
// that is flushed after the triggering request commits.
package batch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/errs"
)

// Task is one unit of deferred work. The returned error classifies the
// outcome: nil is success, an error wrapping errs.ErrDataIntegrity is a fatal
// fault (the unit is dropped), anything else is a transient failure. Outcomes
// are logged centrally by the dispatcher; nothing propagates to the caller.
type Task struct {
	Name string
	Do   func(ctx context.Context) error
}

// Dispatcher owns the worker pool.
type Dispatcher struct {
	log   *zap.Logger
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines over a queue of the given capacity.
func NewDispatcher(log *zap.Logger, workers, queue int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	d := &Dispatcher{
		log:   log,
		tasks: make(chan Task, queue),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.runOne(context.Background(), t)
	}
}

// runOne executes one unit, recovering panics and logging the typed outcome.
func (d *Dispatcher) runOne(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification task panicked",
				zap.String("task", t.Name),
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	err := t.Do(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrDataIntegrity):
		d.log.Error("notification task dropped on integrity fault",
			zap.String("task", t.Name), zap.Error(err))
	default:
		d.log.Warn("notification task failed",
			zap.String("task", t.Name), zap.Error(err))
	}
}

// Submit enqueues a task for immediate execution on the pool. Blocks when the
// queue is full. Returns false if the dispatcher is closed.
func (d *Dispatcher) Submit(t Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("task submitted after close", zap.String("task", t.Name))
		return false
	}
	d.tasks <- t
	return true
}

// RunOrDefer appends the task to the request's open batch, if the context
// carries one, and submits it immediately otherwise.
func (d *Dispatcher) RunOrDefer(ctx context.Context, t Task) {
	if b := From(ctx); b != nil {
		b.add(t)
		return
	}
	d.Submit(t)
}

// Flush hands a collected batch to the pool as a single unit so its items
// execute in insertion order relative to each other. Batches from different
// requests may interleave on the pool.
func (d *Dispatcher) Flush(b *Batch) {
	if b == nil {
		return
	}
	items := b.take()
	if len(items) == 0 {
		return
	}
	d.Submit(Task{
		Name: "batch",
		Do: func(ctx context.Context) error {
			for _, t := range items {
				d.runOne(ctx, t)
			}
			return nil
		},
	})
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
}

// Batch collects tasks deferred during one request. It replaces ambient
// thread-local state: whether a batch is open is a property of the context
// value, nothing else.
type Batch struct {
	mu    sync.Mutex
	tasks []Task
}

func (b *Batch) add(t Task) {
	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()
}

func (b *Batch) take() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.tasks
	b.tasks = nil
	return items
}

// Len returns the number of collected tasks.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

type batchCtxKey struct{}

// NewBatch opens a batch and attaches it to the returned context. The caller
// flushes it once its own transaction has committed.
func NewBatch(ctx context.Context) (context.Context, *Batch) {
	b := &Batch{}
	return context.WithValue(ctx, batchCtxKey{}, b), b
}

// From returns the batch attached to ctx, or nil when none is open.
func From(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchCtxKey{}).(*Batch)
	return b
}
