package spool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thereceipt/spool-engine/internal/status"
)

// ErrTaskPanic wraps a panic recovered while running a task
var ErrTaskPanic = errors.New("spool: task panicked")

type task struct {
	op    *status.Operation
	run   func(ctx context.Context) (any, error)
	abort func()
}

// worker runs a session's background tasks one at a time in submission
// order. The queue is unbounded so submitting never blocks the caller.
type worker struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []task
	closed bool
	done   chan struct{}
}

func newWorker() *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

func (w *worker) submit(t task) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		t.fail(ErrSessionClosed)
		return
	}
	w.queue = append(w.queue, t)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *worker) loop() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.closed {
			rest := w.queue
			w.queue = nil
			w.mu.Unlock()
			for _, t := range rest {
				t.fail(ErrSessionClosed)
			}
			return
		}
		t := w.queue[0]
		w.queue[0] = task{}
		w.queue = w.queue[1:]
		w.mu.Unlock()

		value, err := t.safeRun(w.ctx)
		if err != nil {
			t.fail(err)
			continue
		}
		t.op.Resolve(value, nil)
	}
}

// safeRun keeps a panicking task from taking the process down with it
func (t task) safeRun(ctx context.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return t.run(ctx)
}

func (t task) fail(err error) {
	if t.abort != nil {
		t.abort()
	}
	t.op.Finish(err)
}

// stop cancels the running task, fails every queued one and waits for the
// loop to exit
func (w *worker) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.cond.Broadcast()
	<-w.done
}
