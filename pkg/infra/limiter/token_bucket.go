package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// tokenBucketScript performs the whole read-refill-consume sequence server
// side, so concurrent callers from any process are linearized by Redis.
// Refill is virtual: tokens accrue lazily from the elapsed wall-clock seconds
// since the last touch, truncated to whole tokens.
//
// KEYS[1] bucket key
// ARGV[1] capacity, ARGV[2] fill rate (tokens/second),
// ARGV[3] now (epoch seconds), ARGV[4] "1" to consume, "0" to peek
//
// Returns {allowed, tokens} with tokens serialized as a string to keep the
// fractional part across the Lua/Redis boundary.
var tokenBucketScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local last = tonumber(redis.call('HGET', KEYS[1], 'last_refill'))
local capacity = tonumber(ARGV[1])
local fill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if tokens == nil or last == nil then
    tokens = capacity
    last = now
end

local elapsed = now - last
if elapsed > 0 then
    tokens = math.min(capacity, tokens + math.floor(elapsed * fill_rate))
end

local allowed = 0
if ARGV[4] == '1' then
    if tokens >= 1 then
        tokens = tokens - 1
        allowed = 1
    end
    redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_refill', now)
end

return {allowed, tostring(tokens)}
`)

type Opts struct {
	TimeProvider func() time.Time
}

// TokenBucket is a distributed token-bucket rate limiter over a shared Redis
// bucket record. All instances pointed at the same key spend one budget.
type TokenBucket struct {
	redis        *redis.Client
	logger       *logrus.Logger
	key          string
	capacity     float64
	fillRate     float64
	timeProvider func() time.Time
}

func NewTokenBucket(
	redisClient *redis.Client,
	logger *logrus.Logger,
	key string,
	capacity float64,
	fillRate float64,
	opts *Opts,
) *TokenBucket {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &TokenBucket{
		redis:        redisClient,
		logger:       logger,
		key:          key,
		capacity:     capacity,
		fillRate:     fillRate,
		timeProvider: timeProvider,
	}
}

// TryConsume spends one token if the bucket holds at least one. A store
// failure counts as a denial: when the budget cannot be checked the backend
// must not be exposed to unbounded load.
func (b *TokenBucket) TryConsume(ctx context.Context) bool {
	allowed, _, err := b.run(ctx, true)
	if err != nil {
		b.logger.WithError(err).WithField("key", b.key).
			Warn("token bucket unavailable, failing closed")
		return false
	}
	return allowed
}

// Tokens reports the current budget after a virtual refill, without spending
// anything. A store failure reports a full bucket: the call is observability
// only and must not make the system look throttled when it is blind.
func (b *TokenBucket) Tokens(ctx context.Context) float64 {
	_, tokens, err := b.run(ctx, false)
	if err != nil {
		b.logger.WithError(err).WithField("key", b.key).
			Warn("token bucket unavailable, reporting full capacity")
		return b.capacity
	}
	return tokens
}

func (b *TokenBucket) run(ctx context.Context, consume bool) (bool, float64, error) {
	consumeArg := "0"
	if consume {
		consumeArg = "1"
	}
	now := b.timeProvider().Unix()

	res, err := tokenBucketScript.Run(ctx, b.redis,
		[]string{b.key},
		b.capacity, b.fillRate, now, consumeArg,
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket script failed: %w", err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply: %v", res)
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected allowed flag in reply: %v", reply[0])
	}
	tokensStr, ok := reply[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("unexpected token count in reply: %v", reply[1])
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("malformed token count %q: %w", tokensStr, err)
	}

	return allowed == 1, tokens, nil
}

func (b *TokenBucket) Key() string {
	return b.key
}

func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}

func (b *TokenBucket) FillRate() float64 {
	return b.fillRate
}
