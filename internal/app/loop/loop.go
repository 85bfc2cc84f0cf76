// Package loop runs session state on a single goroutine. Components built on
// it are not safe for concurrent use: transport handlers, peer connection
// callbacks and timers post closures here instead of touching state.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("loop closed")

// Executor schedules work onto the session goroutine.
type Executor interface {
	// Post enqueues fn. It reports false once the executor is closed.
	Post(fn func()) bool
	// Go runs a blocking job (device acquisition, REST calls) off the loop.
	// Results must come back through Post.
	Go(fn func())
}

// Loop is an unbounded FIFO executor.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	jobs   sync.WaitGroup
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) Go(fn func()) {
	l.jobs.Add(1)
	go func() {
		defer l.jobs.Done()
		fn()
	}()
}

// Run executes posted closures until ctx is done or Close is called.
// Work queued before Close still runs.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.safeCall(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.wake:
		}
	}
}

func (l *Loop) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.loop").Interface("panic", r).Msg("task panicked")
		}
	}()
	fn()
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !l.Post(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close stops accepting work. Run drains what is queued and returns.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Wait blocks until background jobs started with Go have finished.
func (l *Loop) Wait() { l.jobs.Wait() }
