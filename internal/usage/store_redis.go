package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript checks and increments the counter atomically. It returns
// {used, pttl} and {-1, pttl} when the increment would pass the limit.
const consumeScript = `
local limit = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used + n > limit then
  return {-1, redis.call('PTTL', KEYS[1])}
end
used = redis.call('INCRBY', KEYS[1], n)
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {used, ttl}
`

type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore constructs a Redis-backed usage store. Counters live under
// "usage:<user_id>" with a TTL marking the end of the window, so lapsed
// windows reset themselves and plan limits stay derived from the plan
// argument.
func NewRedisStore(rdb *redis.Client) *redisStore {
	return &redisStore{rdb: rdb}
}

func usageKey(userID string) string {
	return "usage:" + userID
}

func (s *redisStore) Get(ctx context.Context, userID, plan string) (Usage, error) {
	now := time.Now().UTC()
	u := newUsage(plan, now)

	key := usageKey(userID)
	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, err
	}
	if used, err := getCmd.Int(); err == nil {
		u.Used = used
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		u.ResetsAt = now.Add(ttl)
	}
	return u, nil
}

func (s *redisStore) Consume(ctx context.Context, userID, plan string, n int) (Usage, error) {
	if n <= 0 {
		return s.Get(ctx, userID, plan)
	}

	now := time.Now().UTC()
	u := newUsage(plan, now)

	res, err := s.rdb.Eval(ctx, consumeScript, []string{usageKey(userID)},
		u.Limit, n, period.Milliseconds()).Result()
	if err != nil {
		return Usage{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Usage{}, fmt.Errorf("unexpected consume script reply: %T", res)
	}
	used, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)

	if used < 0 {
		return Usage{}, ErrLimitReached
	}
	u.Used = int(used)
	if ttlMs > 0 {
		u.ResetsAt = now.Add(time.Duration(ttlMs) * time.Millisecond)
	}
	return u, nil
}

func (s *redisStore) Reset(ctx context.Context, userID, plan string) (Usage, error) {
	u := newUsage(plan, time.Now().UTC())
	if err := s.rdb.Set(ctx, usageKey(userID), 0, period).Err(); err != nil {
		return Usage{}, err
	}
	return u, nil
}
