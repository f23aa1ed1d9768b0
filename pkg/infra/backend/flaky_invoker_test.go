package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlakyInvoker_NeverFailsAtZeroRate(t *testing.T) {
	inv := NewFlakyInvokerWithSeed(0, 0, 42)

	for i := 0; i < 20; i++ {
		resp, err := inv.Invoke(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestFlakyInvoker_AlwaysFailsAtFullRate(t *testing.T) {
	inv := NewFlakyInvokerWithSeed(1, 0, 42)

	for i := 0; i < 20; i++ {
		_, err := inv.Invoke(context.Background(), nil)
		assert.ErrorIs(t, err, ErrFlakyBackend)
	}
}

func TestFlakyInvoker_SeededRunsAreReproducible(t *testing.T) {
	outcomes := func() []bool {
		inv := NewFlakyInvokerWithSeed(0.5, 0, 7)
		var out []bool
		for i := 0; i < 50; i++ {
			_, err := inv.Invoke(context.Background(), nil)
			out = append(out, err == nil)
		}
		return out
	}

	assert.Equal(t, outcomes(), outcomes())
}

func TestFlakyInvoker_CancelledDuringLatency(t *testing.T) {
	inv := NewFlakyInvokerWithSeed(0, time.Minute, 42)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
