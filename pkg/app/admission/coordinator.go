package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/getsluice/sluice/pkg/infra/backend"
	"github.com/getsluice/sluice/pkg/infra/breaker"
	"github.com/getsluice/sluice/pkg/infra/prometheus"
	"github.com/getsluice/sluice/pkg/infra/queue"
	"github.com/getsluice/sluice/pkg/types"
)

// ErrQueueUnavailable wraps store failures on the deferral path so transports
// can tell "could not defer" apart from backend failures.
var ErrQueueUnavailable = errors.New("deferral queue unavailable")

// RateLimiter is the global admission budget. TryConsume fails closed and
// Tokens fails open on store trouble, so neither returns an error here.
type RateLimiter interface {
	TryConsume(ctx context.Context) bool
	Tokens(ctx context.Context) float64
	Capacity() float64
	FillRate() float64
}

// Queue is the deferral buffer shared by coordinators and workers.
type Queue interface {
	Enqueue(ctx context.Context, payload map[string]interface{}) (string, error)
	Dequeue(ctx context.Context) (*queue.Item, error)
	BlockDequeue(ctx context.Context, timeout time.Duration) (*queue.Item, error)
	Requeue(ctx context.Context, item *queue.Item) error
	DeadLetter(ctx context.Context, item *queue.Item) error
	Length(ctx context.Context) (int64, error)
	Name() string
}

// Coordinator is the request-side admission path: spend a token and call the
// backend through the breaker, or defer the request into the queue.
type Coordinator struct {
	logger  *logrus.Logger
	limiter RateLimiter
	queue   Queue
	breaker *breaker.CircuitBreaker
	invoker backend.Invoker
}

func NewCoordinator(
	logger *logrus.Logger,
	limiter RateLimiter,
	q Queue,
	cb *breaker.CircuitBreaker,
	invoker backend.Invoker,
) *Coordinator {
	return &Coordinator{
		logger:  logger,
		limiter: limiter,
		queue:   q,
		breaker: cb,
		invoker: invoker,
	}
}

// Admit decides one request. Deferral is a success from the caller's point of
// view (the work is accepted for later); only store and backend trouble
// surface as errors. A breaker rejection comes back as breaker.ErrCircuitOpen
// for the transport layer to classify.
func (c *Coordinator) Admit(ctx context.Context, req *types.AdmissionRequest) (*types.AdmissionResult, error) {
	if !c.limiter.TryConsume(ctx) {
		return c.enqueueDeferred(ctx, req)
	}

	start := time.Now()
	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.invoker.Invoke(ctx, req)
	})
	prometheus.BreakerState.WithLabelValues(c.breaker.Settings().Name).
		Set(float64(c.breaker.State()))

	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			prometheus.AdmissionsTotal.WithLabelValues("circuit_open").Inc()
			c.logger.WithField("route", req.Route).Warn("breaker open, rejecting admitted request")
			return nil, err
		}
		prometheus.AdmissionsTotal.WithLabelValues("backend_error").Inc()
		c.logger.WithError(err).WithField("route", req.Route).Error("backend call failed")
		return nil, err
	}

	prometheus.AdmissionsTotal.WithLabelValues("admitted").Inc()
	prometheus.BackendLatency.Observe(float64(time.Since(start).Milliseconds()))

	resp, ok := result.(*types.BackendResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected backend result type %T", result)
	}
	return &types.AdmissionResult{Decision: types.DecisionAdmitted, Response: resp}, nil
}

func (c *Coordinator) enqueueDeferred(ctx context.Context, req *types.AdmissionRequest) (*types.AdmissionResult, error) {
	var payload map[string]interface{}
	if err := mapstructure.Decode(req, &payload); err != nil {
		return nil, fmt.Errorf("failed to encode deferred request: %w", err)
	}

	id, err := c.queue.Enqueue(ctx, payload)
	if errors.Is(err, queue.ErrQueueFull) {
		prometheus.AdmissionsTotal.WithLabelValues("rejected").Inc()
		c.logger.WithField("route", req.Route).Warn("deferral queue full, rejecting request")
		return &types.AdmissionResult{Decision: types.DecisionRejected, Reason: "queue_full"}, nil
	}
	if err != nil {
		prometheus.AdmissionsTotal.WithLabelValues("queue_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	prometheus.AdmissionsTotal.WithLabelValues("queued").Inc()
	if depth, err := c.queue.Length(ctx); err == nil {
		prometheus.QueueDepth.Set(float64(depth))
	}

	c.logger.WithFields(logrus.Fields{
		"queue_id": id,
		"route":    req.Route,
	}).Info("request deferred")

	return &types.AdmissionResult{Decision: types.DecisionQueued, QueueID: id}, nil
}

// Status assembles the read-only introspection snapshot for this instance.
// The breaker section reflects this process only; breaker state is not shared.
func (c *Coordinator) Status(ctx context.Context) *types.StatusSnapshot {
	length, err := c.queue.Length(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("failed to read queue length for status")
		length = -1
	} else {
		prometheus.QueueDepth.Set(float64(length))
	}

	settings := c.breaker.Settings()
	return &types.StatusSnapshot{
		Limiter: types.LimiterStatus{
			Capacity:      c.limiter.Capacity(),
			FillRate:      c.limiter.FillRate(),
			CurrentTokens: c.limiter.Tokens(ctx),
		},
		Queue: types.QueueStatus{
			Name:   c.queue.Name(),
			Length: length,
		},
		Breaker: types.BreakerStatus{
			State:            c.breaker.State().String(),
			FailureThreshold: settings.FailureThreshold,
			ResetTimeout:     settings.ResetTimeout.String(),
			SuccessThreshold: settings.SuccessThreshold,
		},
	}
}
