package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker(testSettings, &Opts{TimeProvider: clock.Now})
}

func TestCircuitBreaker_SuccessPassesThroughResult(t *testing.T) {
	cb := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)})

	result, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TripsAfterThresholdFailures(t *testing.T) {
	cb := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)})
	backendErr := errors.New("backend down")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, backendErr
		})
		require.ErrorIs(t, err, backendErr)
	}
	assert.Equal(t, StateOpen, cb.State())

	// fourth call is rejected without invoking the operation
	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(11 * time.Second)

	// probe call is allowed and executes
	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateHalfOpen, cb.State())

	// second consecutive success closes the breaker (successThreshold = 2)
	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	clock.Advance(11 * time.Second)

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	// the reset window starts over from the half-open failure
	clock.Advance(5 * time.Second)
	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb := newTestBreaker(&fakeClock{now: time.Unix(1000, 0)})

	_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})

	snapshot := cb.Snapshot()
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Equal(t, uint32(1), snapshot.Failures)
}
