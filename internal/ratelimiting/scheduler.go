package ratelimiting

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const QueueCycleGap = 100 * time.Millisecond

// RequestScheduler owns the rate limiting state shared by all outbound requests
type RequestScheduler struct {
	queue   *RequestQueue
	penalty *Penalty
}

func setupSchedulerMetrics(meter metric.Meter, scheduler *RequestScheduler) error {
	_, err := meter.Int64ObservableGauge(
		"ratelimiting/penalty_ms",
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(scheduler.penalty.Current().Milliseconds())
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create penalty metric: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		"ratelimiting/queue_length",
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(scheduler.queue.Len()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue length metric: %w", err)
	}

	return nil
}

func NewRequestScheduler(afterFunc func(time.Duration) <-chan time.Time) (*RequestScheduler, func(), error) {
	penalty := NewPenalty()
	queue, stop := NewRequestQueue(QueueCycleGap, afterFunc, func() {
		penalty.Cooldown(PenaltyCooldownStep)
	})

	scheduler := &RequestScheduler{
		queue:   queue,
		penalty: penalty,
	}

	err := setupSchedulerMetrics(otel.Meter("duelhistory/ratelimiting/scheduler"), scheduler)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return scheduler, stop, nil
}

func (s *RequestScheduler) Queue() *RequestQueue {
	return s.queue
}

func (s *RequestScheduler) Penalty() *Penalty {
	return s.penalty
}
