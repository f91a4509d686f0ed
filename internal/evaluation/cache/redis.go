// Package cache holds implementations of the global test case listing cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"evalledger/internal/evaluation/models"
)

const (
	DefaultTTL = time.Minute

	// The hash tag keeps both keys in one cluster slot for the script.
	globalTestCasesKey = "evalledger:{test_cases:global}"
	globalGenKey       = "evalledger:{test_cases:global}:gen"
)

// setGlobalScript writes the listing only while the generation is unchanged.
var setGlobalScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Redis stores the global listing as one JSON document with a TTL, so every
// instance sees the same invalidations.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (c *Redis) GetGlobal(ctx context.Context) ([]*models.TestCase, bool, error) {
	raw, err := c.client.Get(ctx, globalTestCasesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get global test cases: %w", err)
	}
	var cases []*models.TestCase
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, false, fmt.Errorf("decode global test cases: %w", err)
	}
	return cases, true, nil
}

func (c *Redis) Generation(ctx context.Context) (uint64, error) {
	gen, err := c.client.Get(ctx, globalGenKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get global test cases generation: %w", err)
	}
	return gen, nil
}

func (c *Redis) SetGlobal(ctx context.Context, gen uint64, cases []*models.TestCase) error {
	if cases == nil {
		cases = []*models.TestCase{}
	}
	raw, err := json.Marshal(cases)
	if err != nil {
		return fmt.Errorf("encode global test cases: %w", err)
	}
	keys := []string{globalGenKey, globalTestCasesKey}
	err = setGlobalScript.Run(ctx, c.client, keys, strconv.FormatUint(gen, 10), raw, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("set global test cases: %w", err)
	}
	return nil
}

// InvalidateGlobal advances the generation and drops the listing atomically.
func (c *Redis) InvalidateGlobal(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, globalGenKey)
		pipe.Del(ctx, globalTestCasesKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate global test cases: %w", err)
	}
	return nil
}
