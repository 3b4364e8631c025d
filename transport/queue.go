package transport

import "sync"

// Scheduler defers work to a later turn of an event queue.
// Tasks scheduled on the same Scheduler run in the order they were scheduled.
type Scheduler interface {
	Schedule(task func())
}

// SchedulerFunc is an adapter to allow ordinary functions as schedulers.
type SchedulerFunc func(task func())

// Schedule calls f(task).
func (f SchedulerFunc) Schedule(task func()) {
	f(task)
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPanicHandler sets a function that receives the value of any task
// panic. The loop keeps running either way.
func WithPanicHandler(h func(v any)) LoopOption {
	return func(l *Loop) {
		l.onPanic = h
	}
}

// Loop is a single-goroutine FIFO event queue.
//
// Schedule never blocks and never runs the task on the caller's stack.
// The queue is unbounded.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool
	done    chan struct{}
	onPanic func(v any)
}

// NewLoop creates a loop and starts its worker goroutine.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Schedule appends task to the queue. Tasks scheduled after Stop are dropped.
func (l *Loop) Schedule(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.tasks = append(l.tasks, task)
	l.cond.Signal()
}

// Stop stops accepting tasks. Tasks already queued still run.
// Stop is safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.cond.Signal()
}

// Done is closed once the loop has stopped and drained its queue.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.runTask(task)
	}
}

// runTask keeps a panicking task from killing the worker.
func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	task()
}
