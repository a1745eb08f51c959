package ratelimiting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/reporting"
)

var ErrQueueStopped = errors.New("request queue stopped")
var ErrTaskPanicked = errors.New("queued task panicked")

type queuedTask struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan struct{}
	err  error
}

// RequestQueue runs submitted tasks one at a time in strict FIFO order.
//
// After every task, and on every idle tick, the worker waits gap and then calls onCycle.
type RequestQueue struct {
	gap       time.Duration
	afterFunc func(time.Duration) <-chan time.Time
	onCycle   func()

	mutex   sync.Mutex
	tasks   []*queuedTask
	notify  chan struct{}
	stopped chan struct{}
}

func NewRequestQueue(gap time.Duration, afterFunc func(time.Duration) <-chan time.Time, onCycle func()) (*RequestQueue, func()) {
	if onCycle == nil {
		onCycle = func() {}
	}

	q := &RequestQueue{
		gap:       gap,
		afterFunc: afterFunc,
		onCycle:   onCycle,

		mutex:   sync.Mutex{},
		tasks:   []*queuedTask{},
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}

	go q.work()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(q.stopped)
		})
	}

	return q, stop
}

// Do blocks until task has run, the context is cancelled, or the queue is stopped.
//
// A task whose context is cancelled before it starts is never run. A task that has started is
// always awaited.
func (q *RequestQueue) Do(ctx context.Context, task func(ctx context.Context)) error {
	select {
	case <-q.stopped:
		return ErrQueueStopped
	default:
	}

	t := &queuedTask{
		ctx:  ctx,
		run:  task,
		done: make(chan struct{}),
		err:  nil,
	}
	q.push(t)

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		if q.remove(t) {
			return ctx.Err()
		}
	case <-q.stopped:
		if q.remove(t) {
			return ErrQueueStopped
		}
	}

	// Already picked up by the worker
	<-t.done
	return t.err
}

// Submit runs task on the queue and returns its result
func Submit[T any](ctx context.Context, q *RequestQueue, task func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var taskErr error
	err := q.Do(ctx, func(ctx context.Context) {
		result, taskErr = task(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, taskErr
}

// Number of tasks waiting to run
func (q *RequestQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.tasks)
}

func (q *RequestQueue) push(t *queuedTask) {
	q.mutex.Lock()
	q.tasks = append(q.tasks, t)
	q.mutex.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *RequestQueue) remove(t *queuedTask) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for i, queued := range q.tasks {
		if queued == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true
		}
	}
	return false
}

func (q *RequestQueue) pop() (*queuedTask, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *RequestQueue) work() {
	for {
		if t, ok := q.pop(); ok {
			q.run(t)

			select {
			case <-q.stopped:
				return
			case <-q.afterFunc(q.gap):
			}
			q.onCycle()
			continue
		}

		select {
		case <-q.stopped:
			return
		case <-q.notify:
		case <-q.afterFunc(q.gap):
			q.onCycle()
		}
	}
}

func (q *RequestQueue) run(t *queuedTask) {
	defer close(t.done)

	if err := t.ctx.Err(); err != nil {
		t.err = err
		return
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrTaskPanicked, r)
			logging.FromContext(t.ctx).ErrorContext(t.ctx, "Recovered panic in queued task", slog.String("error", err.Error()))
			reporting.Report(t.ctx, err)
			t.err = err
		}
	}()

	t.run(t.ctx)
}
