package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the queue is bounded and already
// holds max_length items.
var ErrQueueFull = errors.New("deferral queue is full")

// boundedPushScript checks the bound and appends in one atomic step, so two
// producers cannot both squeeze past the limit. Returns -1 when full,
// otherwise the new length.
var boundedPushScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// Item is the envelope stored in the queue. The id is assigned here at
// enqueue time, never by the caller; Attempts counts how often the item has
// been handed back for another pass.
type Item struct {
	ID         string                 `json:"id"`
	EnqueuedAt int64                  `json:"enqueued_at"`
	Attempts   int                    `json:"attempts"`
	Payload    map[string]interface{} `json:"payload"`
}

type Opts struct {
	TimeProvider func() time.Time
	UUIDProvider func() uuid.UUID
}

// DeferralQueue is a FIFO list of deferred work in Redis. Producers append at
// the tail, consumers pop from the head; order is consistent across every
// process sharing the queue name.
type DeferralQueue struct {
	redis        *redis.Client
	name         string
	maxLength    int64
	timeProvider func() time.Time
	uuidProvider func() uuid.UUID
}

func NewDeferralQueue(redisClient *redis.Client, name string, maxLength int64, opts *Opts) *DeferralQueue {
	timeProvider := time.Now
	uuidProvider := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	if opts != nil && opts.UUIDProvider != nil {
		uuidProvider = opts.UUIDProvider
	}
	return &DeferralQueue{
		redis:        redisClient,
		name:         name,
		maxLength:    maxLength,
		timeProvider: timeProvider,
		uuidProvider: uuidProvider,
	}
}

// Enqueue wraps the payload in a fresh envelope and appends it at the tail.
func (q *DeferralQueue) Enqueue(ctx context.Context, payload map[string]interface{}) (string, error) {
	item := &Item{
		ID:         q.uuidProvider().String(),
		EnqueuedAt: q.timeProvider().UnixMilli(),
		Payload:    payload,
	}
	if err := q.push(ctx, item); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Requeue puts an already-popped item back at the tail, keeping its identity
// and bumping its attempt count. The bound is not re-checked: the item held a
// slot moments ago and dropping it on re-entry would turn deferral into loss.
func (q *DeferralQueue) Requeue(ctx context.Context, item *Item) error {
	item.Attempts++
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	if err := q.redis.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to requeue item %s: %w", item.ID, err)
	}
	return nil
}

// DeadLetter moves an item to the side list for operator inspection.
func (q *DeferralQueue) DeadLetter(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	if err := q.redis.RPush(ctx, q.DeadLetterName(), data).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter item %s: %w", item.ID, err)
	}
	return nil
}

// Dequeue pops the head without blocking. An empty queue yields (nil, nil).
func (q *DeferralQueue) Dequeue(ctx context.Context) (*Item, error) {
	data, err := q.redis.LPop(ctx, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	return decode([]byte(data))
}

// BlockDequeue pops the head, suspending server-side until an item arrives or
// timeout elapses (zero means wait indefinitely). A timeout yields (nil, nil).
// The wake-up comes from Redis when any producer pushes; there is no polling.
func (q *DeferralQueue) BlockDequeue(ctx context.Context, timeout time.Duration) (*Item, error) {
	reply, err := q.redis.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to block-dequeue: %w", err)
	}
	// BLPOP replies [key, value]
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected blpop reply of length %d", len(reply))
	}
	return decode([]byte(reply[1]))
}

// Length reports the current depth. Observability only; no admission decision
// reads it.
func (q *DeferralQueue) Length(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

func (q *DeferralQueue) Name() string {
	return q.name
}

func (q *DeferralQueue) DeadLetterName() string {
	return q.name + ":dead"
}

func (q *DeferralQueue) push(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	res, err := boundedPushScript.Run(ctx, q.redis, []string{q.name}, data, q.maxLength).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	if n, ok := res.(int64); ok && n == -1 {
		return ErrQueueFull
	}
	return nil
}

func decode(data []byte) (*Item, error) {
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("malformed queue item: %w", err)
	}
	return &item, nil
}
