package limiter

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fixedTime(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestTokenBucket_TryConsumeAdmitted(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 10, 1, &Opts{
		TimeProvider: fixedTime(1700000000),
	})

	mock.ExpectEvalSha(
		tokenBucketScript.Hash(),
		[]string{"sluice:bucket"},
		float64(10), float64(1), int64(1700000000), "1",
	).SetVal([]interface{}{int64(1), "9"})

	assert.True(t, bucket.TryConsume(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_TryConsumeDenied(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 10, 1, &Opts{
		TimeProvider: fixedTime(1700000000),
	})

	mock.ExpectEvalSha(
		tokenBucketScript.Hash(),
		[]string{"sluice:bucket"},
		float64(10), float64(1), int64(1700000000), "1",
	).SetVal([]interface{}{int64(0), "0"})

	assert.False(t, bucket.TryConsume(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_TryConsumeFailsClosedOnStoreError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 10, 1, &Opts{
		TimeProvider: fixedTime(1700000000),
	})

	mock.ExpectEvalSha(
		tokenBucketScript.Hash(),
		[]string{"sluice:bucket"},
		float64(10), float64(1), int64(1700000000), "1",
	).SetErr(errors.New("connection refused"))

	assert.False(t, bucket.TryConsume(context.Background()))
}

func TestTokenBucket_TokensReportsPartialBudget(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 10, 0.5, &Opts{
		TimeProvider: fixedTime(1700000000),
	})

	mock.ExpectEvalSha(
		tokenBucketScript.Hash(),
		[]string{"sluice:bucket"},
		float64(10), float64(0.5), int64(1700000000), "0",
	).SetVal([]interface{}{int64(0), "7.5"})

	assert.InDelta(t, 7.5, bucket.Tokens(context.Background()), 0.001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_TokensFailsOpenOnStoreError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 10, 1, &Opts{
		TimeProvider: fixedTime(1700000000),
	})

	mock.ExpectEvalSha(
		tokenBucketScript.Hash(),
		[]string{"sluice:bucket"},
		float64(10), float64(1), int64(1700000000), "0",
	).SetErr(errors.New("connection refused"))

	assert.Equal(t, float64(10), bucket.Tokens(context.Background()))
}

func TestTokenBucket_MalformedReply(t *testing.T) {
	client, mock := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 10, 1, &Opts{
		TimeProvider: fixedTime(1700000000),
	})

	mock.ExpectEvalSha(
		tokenBucketScript.Hash(),
		[]string{"sluice:bucket"},
		float64(10), float64(1), int64(1700000000), "1",
	).SetVal("nonsense")

	// an unparseable reply must never admit
	assert.False(t, bucket.TryConsume(context.Background()))
}

func TestTokenBucket_Accessors(t *testing.T) {
	client, _ := redismock.NewClientMock()
	bucket := NewTokenBucket(client, testLogger(), "sluice:bucket", 25, 2.5, nil)

	assert.Equal(t, "sluice:bucket", bucket.Key())
	assert.Equal(t, float64(25), bucket.Capacity())
	assert.Equal(t, 2.5, bucket.FillRate())
}
