package backend

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/getsluice/sluice/pkg/types"
)

// ErrFlakyBackend is the simulated failure raised by FlakyInvoker.
var ErrFlakyBackend = errors.New("simulated backend failure")

// FlakyInvoker is a stand-in backend that fails a configurable fraction of
// calls after a fixed latency. It exists for demos and for exercising the
// breaker under load; production deployments use HTTPInvoker.
type FlakyInvoker struct {
	failureRate float64
	latency     time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

func NewFlakyInvoker(failureRate float64, latency time.Duration) *FlakyInvoker {
	return &FlakyInvoker{
		failureRate: failureRate,
		latency:     latency,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
}

// NewFlakyInvokerWithSeed pins the random source, for deterministic tests.
func NewFlakyInvokerWithSeed(failureRate float64, latency time.Duration, seed int64) *FlakyInvoker {
	inv := NewFlakyInvoker(failureRate, latency)
	inv.rand = rand.New(rand.NewSource(seed)) // #nosec G404
	return inv
}

func (f *FlakyInvoker) Invoke(ctx context.Context, _ *types.AdmissionRequest) (*types.BackendResponse, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	failed := f.rand.Float64() < f.failureRate
	f.mu.Unlock()

	if failed {
		return nil, ErrFlakyBackend
	}
	return &types.BackendResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"status":"ok"}`),
	}, nil
}
