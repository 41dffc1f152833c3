package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Locker acquires a lock shared with other processes. The returned release
// function is called once the critical section ends.
type Locker interface {
	Lock(ctx context.Context) (release func(context.Context) error, err error)
}

// Gate runs submitted functions one at a time in submission order. Each
// function starts only after every previously submitted one has returned,
// failed or panicked.
type Gate struct {
	mu      sync.Mutex
	tail    chan struct{}
	locker  Locker
	pending atomic.Int64
}

// Option configures a Gate
type Option func(*Gate)

// WithLocker wraps every critical section in a cross-process lock
func WithLocker(l Locker) Option {
	return func(g *Gate) {
		g.locker = l
	}
}

// New creates an empty gate
func New(opts ...Option) *Gate {
	g := &Gate{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do enqueues fn and blocks until it has run. If ctx is cancelled while
// waiting, Do returns ctx.Err() without running fn; later callers still wait
// for every earlier call. A panic in fn is returned as an error.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	done := make(chan struct{})

	g.mu.Lock()
	prev := g.tail
	g.tail = done
	g.mu.Unlock()

	g.pending.Add(1)
	defer g.pending.Add(-1)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep the chain intact: our slot completes when the previous one does
			go func() {
				<-prev
				close(done)
			}()
			return ctx.Err()
		}
	}
	defer close(done)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gate: critical section panicked: %v", r)
		}
	}()

	if g.locker != nil {
		release, lockErr := g.locker.Lock(ctx)
		if lockErr != nil {
			return fmt.Errorf("gate: failed to acquire lock: %w", lockErr)
		}
		defer func() {
			_ = release(context.WithoutCancel(ctx))
		}()
	}

	return fn(ctx)
}

// Pending returns the number of calls currently queued or running
func (g *Gate) Pending() int64 {
	return g.pending.Load()
}
