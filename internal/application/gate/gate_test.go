package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_RunsInSubmissionOrder(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-started

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		// Wait until the call is enqueued before submitting the next one
		require.Eventually(t, func() bool { return g.Pending() == int64(i+1) }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.Equal(t, int64(0), g.Pending())
}

func TestGate_NeverOverlaps(t *testing.T) {
	g := New()
	var active, maxActive atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestGate_SurvivesErrorsAndPanics(t *testing.T) {
	g := New()
	boom := errors.New("boom")

	err := g.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = g.Do(context.Background(), func(ctx context.Context) error { panic("kaput") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")

	ran := false
	err = g.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestGate_CancelledWaiterKeepsChain(t *testing.T) {
	g := New()

	release := make(chan struct{})
	started := make(chan struct{})
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancelledRan := false
	cancelledErr := make(chan error, 1)
	go func() {
		cancelledErr <- g.Do(ctx, func(ctx context.Context) error {
			cancelledRan = true
			return nil
		})
	}()
	require.Eventually(t, func() bool { return g.Pending() == 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-cancelledErr, context.Canceled)

	// A later caller must still wait for the first one
	thirdStarted := make(chan struct{})
	thirdDone := make(chan error, 1)
	go func() {
		thirdDone <- g.Do(context.Background(), func(ctx context.Context) error {
			close(thirdStarted)
			return nil
		})
	}()

	select {
	case <-thirdStarted:
		t.Fatal("third call ran before the first completed")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-firstDone
	assert.NoError(t, <-thirdDone)
	assert.False(t, cancelledRan)
}

type fakeLocker struct {
	mu       sync.Mutex
	locks    int
	releases int
	err      error
}

func (l *fakeLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.releases++
		return nil
	}, nil
}

func TestGate_WithLocker(t *testing.T) {
	l := &fakeLocker{}
	g := New(WithLocker(l))

	require.NoError(t, g.Do(context.Background(), func(ctx context.Context) error { return nil }))
	_ = g.Do(context.Background(), func(ctx context.Context) error { return errors.New("x") })

	assert.Equal(t, 2, l.locks)
	assert.Equal(t, 2, l.releases)
}

func TestGate_LockFailureSkipsSection(t *testing.T) {
	l := &fakeLocker{err: errors.New("redis down")}
	g := New(WithLocker(l))

	ran := false
	err := g.Do(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, ran)

	// Next call is not blocked by the failed one
	l.err = nil
	assert.NoError(t, g.Do(context.Background(), func(ctx context.Context) error { return nil }))
}
