// Package eventloop is a cooperative single goroutine scheduler. Tasks run
// one at a time in post order, so code running on the loop needs no locks
// for state only the loop touches.
package eventloop

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Scheduler defers work to a later iteration
type Scheduler interface {
	Post(fn func())
}

// Loop runs posted tasks sequentially on the goroutine calling Run
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	exited  bool
	exitErr error

	wake chan struct{}
}

// New creates an idle loop
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger: logger.Named("eventloop"),
		wake:   make(chan struct{}, 1),
	}
}

// Post queues fn. It never runs fn synchronously, even when called from a
// task on the loop. Posts after Exit are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.exited {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.notify()
}

// Exit makes Run return err once the current task finishes. Only the first
// call counts.
func (l *Loop) Exit(err error) {
	l.mu.Lock()
	if l.exited {
		l.mu.Unlock()
		return
	}
	l.exited = true
	l.exitErr = err
	l.queue = nil
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (fn func(), exited bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exited {
		return nil, true
	}
	if len(l.queue) == 0 {
		return nil, false
	}
	fn = l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, false
}

// Run executes tasks until Exit is called or ctx is done
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			l.Exit(err)
		}
		fn, exited := l.next()
		if exited {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.exitErr
		}
		if fn != nil {
			fn()
			continue
		}

		select {
		case <-ctx.Done():
			l.Exit(ctx.Err())
		case <-l.wake:
		}
	}
}

// Pending returns the number of queued tasks
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
