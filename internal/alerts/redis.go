package alerts

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisSink mirrors alerts into a capped Redis list so they survive process
// restarts and can be read by other instances. The list keeps the same lossy
// semantics as the in-memory buffer: LTRIM drops the oldest entries.
type RedisSink struct {
	client *redis.Client
	key    string
	cap    int64
}

// NewRedisSink builds a sink writing to key with at most capacity entries.
func NewRedisSink(client *redis.Client, key string, capacity int) *RedisSink {
	if key == "" {
		key = "classtrack:alerts"
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisSink{client: client, key: key, cap: int64(capacity)}
}

// Store appends the alert and trims the list to capacity.
func (s *RedisSink) Store(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, 0, s.cap-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to k alerts from Redis, newest first.
func (s *RedisSink) Recent(ctx context.Context, k int) ([]Alert, error) {
	if k <= 0 {
		k = int(s.cap)
	}
	vals, err := s.client.LRange(ctx, s.key, 0, int64(k)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Alert, 0, len(vals))
	for _, v := range vals {
		var a Alert
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

var _ Sink = (*RedisSink)(nil)
