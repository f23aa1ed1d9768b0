package admission_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/getsluice/sluice/pkg/infra/queue"
	"github.com/getsluice/sluice/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeLimiter spends a fixed budget with no refill, mirroring a bucket with
// fillRate 0.
type fakeLimiter struct {
	mu       sync.Mutex
	budget   int
	capacity float64
	fillRate float64
}

func (f *fakeLimiter) TryConsume(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.budget > 0 {
		f.budget--
		return true
	}
	return false
}

func (f *fakeLimiter) Tokens(_ context.Context) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return float64(f.budget)
}

func (f *fakeLimiter) Capacity() float64 { return f.capacity }
func (f *fakeLimiter) FillRate() float64 { return f.fillRate }

// fakeQueue is an in-memory stand-in for the Redis list. BlockDequeue never
// waits: when the queue is drained (or the pop budget is spent) it fires
// cancel so worker loops driven by it terminate deterministically.
type fakeQueue struct {
	mu         sync.Mutex
	items      []*queue.Item
	dead       []*queue.Item
	seq        int
	full       bool
	enqueueErr error
	pops       int
	maxPops    int
	cancel     context.CancelFunc
}

func (f *fakeQueue) Enqueue(_ context.Context, payload map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	if f.full {
		return "", queue.ErrQueueFull
	}
	f.seq++
	item := &queue.Item{
		ID:         fmt.Sprintf("item-%d", f.seq),
		EnqueuedAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
	f.items = append(f.items, item)
	return item.ID, nil
}

func (f *fakeQueue) Dequeue(_ context.Context) (*queue.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked(), nil
}

func (f *fakeQueue) BlockDequeue(_ context.Context, _ time.Duration) (*queue.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 || (f.maxPops > 0 && f.pops >= f.maxPops) {
		if f.cancel != nil {
			f.cancel()
		}
		return nil, nil
	}
	f.pops++
	return f.popLocked(), nil
}

func (f *fakeQueue) popLocked() *queue.Item {
	if len(f.items) == 0 {
		return nil
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item
}

func (f *fakeQueue) Requeue(_ context.Context, item *queue.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.Attempts++
	f.items = append(f.items, item)
	return nil
}

func (f *fakeQueue) DeadLetter(_ context.Context, item *queue.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, item)
	return nil
}

func (f *fakeQueue) Length(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items)), nil
}

func (f *fakeQueue) Name() string { return "test:deferred" }

// funcInvoker adapts a function to the backend invoker and counts calls.
type funcInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req *types.AdmissionRequest) (*types.BackendResponse, error)
}

func (f *funcInvoker) Invoke(ctx context.Context, req *types.AdmissionRequest) (*types.BackendResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *funcInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okInvoker() *funcInvoker {
	return &funcInvoker{fn: func(_ context.Context, _ *types.AdmissionRequest) (*types.BackendResponse, error) {
		return &types.BackendResponse{StatusCode: 200, Body: []byte(`{"ok":true}`)}, nil
	}}
}

func failingInvoker(err error) *funcInvoker {
	return &funcInvoker{fn: func(_ context.Context, _ *types.AdmissionRequest) (*types.BackendResponse, error) {
		return nil, err
	}}
}
