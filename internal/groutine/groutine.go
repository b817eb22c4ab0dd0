package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine labelled with name (visible in pprof goroutine dumps).
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Queue is a named serial executor: submitted functions run one at a time,
// in submission order, on a single dedicated goroutine.
//
// Submit never blocks, so a running job may submit to its own queue. Functions
// submitted after Close are dropped.
type Queue struct {
	name string
	wake chan struct{}
	done chan struct{}

	mu     sync.Mutex
	jobs   []func()
	closed bool
}

// NewQueue starts a serial queue. backlog sizes the initial job buffer.
// The queue stops when ctx is cancelled or Close is called.
func NewQueue(ctx context.Context, name string, backlog int) *Queue {
	if backlog < 1 {
		backlog = 1
	}
	q := &Queue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		jobs: make([]func(), 0, backlog),
	}
	Go(ctx, name, q.run)
	return q
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.jobs
		q.jobs = nil
		closed := q.closed
		q.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}

// Name returns the queue label.
func (q *Queue) Name() string {
	return q.name
}

// Submit enqueues fn. Returns false if the queue is closed or stopped.
func (q *Queue) Submit(fn func()) bool {
	q.mu.Lock()
	if q.closed || q.stopped() {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, fn)
	q.mu.Unlock()
	q.signal()
	return true
}

// Dispatch is Submit without the result; it satisfies func(func()) dispatcher signatures.
func (q *Queue) Dispatch(fn func()) {
	q.Submit(fn)
}

// Close stops accepting work and waits until already queued work has run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}

// Done is closed once the queue goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len reports how many jobs are waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) stopped() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
