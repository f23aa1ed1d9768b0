package admission

import (
	"context"
	"errors"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/getsluice/sluice/pkg/infra/backend"
	"github.com/getsluice/sluice/pkg/infra/breaker"
	"github.com/getsluice/sluice/pkg/infra/prometheus"
	"github.com/getsluice/sluice/pkg/infra/queue"
	"github.com/getsluice/sluice/pkg/types"
)

// RequeueWorker drains the deferral queue: blocking-pop, re-run the exact
// admission check, and either dispatch through its own breaker or hand the
// item back. Denials and open-circuit rejections recycle the item at the
// tail; items that exhaust max attempts, and items that hit a real backend
// failure, go to the dead-letter list instead of cycling forever.
type RequeueWorker struct {
	logger  *logrus.Logger
	limiter RateLimiter
	queue   Queue
	breaker *breaker.CircuitBreaker
	invoker backend.Invoker

	pollTimeout time.Duration
	retryPause  time.Duration
	maxAttempts int
}

func NewRequeueWorker(
	logger *logrus.Logger,
	limiter RateLimiter,
	q Queue,
	cb *breaker.CircuitBreaker,
	invoker backend.Invoker,
	pollTimeout time.Duration,
	retryPause time.Duration,
	maxAttempts int,
) *RequeueWorker {
	return &RequeueWorker{
		logger:      logger,
		limiter:     limiter,
		queue:       q,
		breaker:     cb,
		invoker:     invoker,
		pollTimeout: pollTimeout,
		retryPause:  retryPause,
		maxAttempts: maxAttempts,
	}
}

// Run loops until ctx is cancelled. Transient queue failures pause and retry
// rather than killing the loop; the queue is durable, the worker is not.
func (w *RequeueWorker) Run(ctx context.Context) error {
	w.logger.WithField("queue", w.queue.Name()).Info("requeue worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("requeue worker stopping")
			return ctx.Err()
		default:
		}

		item, err := w.queue.BlockDequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.WithError(err).Warn("blocking dequeue failed")
			if !w.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		if item == nil {
			// poll timeout, loop back to observe cancellation
			continue
		}

		w.process(ctx, item)
	}
}

func (w *RequeueWorker) process(ctx context.Context, item *queue.Item) {
	log := w.logger.WithFields(logrus.Fields{
		"queue_id": item.ID,
		"attempts": item.Attempts,
	})

	if !w.limiter.TryConsume(ctx) {
		log.Debug("still over budget, recycling item")
		w.recycle(ctx, item, "limiter_denied")
		w.pause(ctx)
		return
	}

	var req types.AdmissionRequest
	if err := mapstructure.Decode(item.Payload, &req); err != nil {
		log.WithError(err).Error("malformed deferred payload, dead-lettering")
		w.deadLetter(ctx, item, "malformed_payload")
		return
	}

	_, err := w.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return w.invoker.Invoke(ctx, &req)
	})
	prometheus.BreakerState.WithLabelValues(w.breaker.Settings().Name).
		Set(float64(w.breaker.State()))

	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		log.Debug("breaker open, recycling item")
		w.recycle(ctx, item, "circuit_open")
		w.pause(ctx)
	case err != nil:
		log.WithError(err).Warn("backend rejected deferred request, dead-lettering")
		w.deadLetter(ctx, item, "backend_error")
	default:
		log.Info("deferred request dispatched")
	}
}

// recycle puts the item back at the tail unless it has burned through its
// attempt budget, in which case it is dead-lettered.
func (w *RequeueWorker) recycle(ctx context.Context, item *queue.Item, reason string) {
	if w.maxAttempts > 0 && item.Attempts >= w.maxAttempts {
		w.deadLetter(ctx, item, "max_attempts")
		return
	}
	if err := w.queue.Requeue(ctx, item); err != nil {
		// the pop already destroyed the stored copy, so this is item loss
		w.logger.WithError(err).WithField("queue_id", item.ID).
			Error("failed to requeue item, item lost")
		return
	}
	prometheus.RequeuesTotal.WithLabelValues(reason).Inc()
}

func (w *RequeueWorker) deadLetter(ctx context.Context, item *queue.Item, reason string) {
	if err := w.queue.DeadLetter(ctx, item); err != nil {
		w.logger.WithError(err).WithField("queue_id", item.ID).
			Error("failed to dead-letter item, item lost")
		return
	}
	prometheus.RequeuesTotal.WithLabelValues(reason).Inc()
}

// pause sleeps for the retry interval, returning false if cancelled.
func (w *RequeueWorker) pause(ctx context.Context) bool {
	select {
	case <-time.After(w.retryPause):
		return true
	case <-ctx.Done():
		return false
	}
}
