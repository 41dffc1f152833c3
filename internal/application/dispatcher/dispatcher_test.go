package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, _ ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func extracted() *event.Event {
	return event.NewEvent(event.TypeInvoiceExtracted, 1, "ana", map[string]interface{}{
		event.KeyStatus: "COMPLETED",
	})
}

func TestSubscribe(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))

	var calls []string
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "first")
		return nil
	})
	d.SubscribeNamed(event.TypeInvoiceExtracted, "audit", func(ctx context.Context, evt *event.Event) error {
		calls = append(calls, "second")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), extracted()))
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.True(t, logger.HasInfo("Handler registered"))

	handlers := d.ListHandlers(event.TypeInvoiceExtracted)
	require.Len(t, handlers, 2)
	assert.Equal(t, "invoice.extracted-0", handlers[0].Name)
	assert.Equal(t, "audit", handlers[1].Name)
	assert.Nil(t, handlers[0].Handler, "handler function is not exposed")
}

func TestDispatch_OnlyMatchingType(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Subscribe(event.TypeInvoiceRemoved, func(ctx context.Context, evt *event.Event) error {
		called = true
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), extracted()))
	assert.False(t, called)
}

func TestDispatch_RunsAllHandlersAndJoinsErrors(t *testing.T) {
	d := NewDispatcher()
	first := errors.New("first failed")
	third := errors.New("third failed")
	secondCalled := false

	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error { return first })
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		secondCalled = true
		return nil
	})
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error { return third })

	err := d.Dispatch(context.Background(), extracted())
	require.Error(t, err)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, third)
	assert.True(t, secondCalled)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		panic("boom")
	})

	err := d.Dispatch(context.Background(), extracted())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Positive(t, logger.ErrorCount())
}

func TestDispatch_Closed(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Dispatch(context.Background(), extracted()), ErrClosed)
	assert.Error(t, d.Close(), "double close")
}

func TestDispatchAsync_DetachesCancellation(t *testing.T) {
	d := NewDispatcher()
	var ctxErr atomic.Value
	var called atomic.Int32

	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		called.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.DispatchAsync(ctx, extracted())
	cancel()

	require.NoError(t, d.Close())
	assert.Equal(t, int32(1), called.Load())
	assert.Nil(t, ctxErr.Load(), "handler context must survive request cancellation")
}

func TestDispatchAsync_Timeout(t *testing.T) {
	d := NewDispatcher(WithAsyncTimeout(10 * time.Millisecond))
	var timedOut atomic.Bool

	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		select {
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	d.DispatchAsync(context.Background(), extracted())
	require.NoError(t, d.Close())
	assert.True(t, timedOut.Load())
}

func TestDispatchAsync_ErrorsAndPanicsAreLogged(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	var called atomic.Int32

	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		return errors.New("handler error")
	})
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		panic("async panic")
	})
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	d.DispatchAsync(context.Background(), extracted())
	require.NoError(t, d.Close())

	assert.Equal(t, int32(1), called.Load())
	assert.GreaterOrEqual(t, logger.ErrorCount(), 2)
}

func TestDispatchAsync_AfterClose(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	var called atomic.Int32
	d.Subscribe(event.TypeInvoiceExtracted, func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	require.NoError(t, d.Close())
	d.DispatchAsync(context.Background(), extracted())
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, called.Load())
	assert.Positive(t, logger.ErrorCount())
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeNamed(event.TypeInvoiceLinked, fmt.Sprintf("h-%d", id), func(ctx context.Context, evt *event.Event) error {
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Len(t, d.ListHandlers(event.TypeInvoiceLinked), 10)

	var called atomic.Int32
	d.Subscribe(event.TypeInvoiceRemoved, func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), event.NewEvent(event.TypeInvoiceRemoved, 1, "ana", nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), called.Load())
}
