package service

import (
	"context"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/event"
)

// Logger interface for application services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Publisher hands domain events to background handlers
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Metrics records pipeline measurements
type Metrics interface {
	ObserveOutcome(kind string)
	ObserveExtraction(status string, elapsed time.Duration, costCents int64)
	SetMonthSpend(cents int64)
}

type noopPublisher struct{}

func (noopPublisher) DispatchAsync(context.Context, *event.Event) {}

type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(string)                          {}
func (noopMetrics) ObserveExtraction(string, time.Duration, int64) {}
func (noopMetrics) SetMonthSpend(int64)                            {}
