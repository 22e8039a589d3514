package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
)

// setHighestScript writes the bid only while the auction's generation is
// still the one the caller observed, and only when it beats the cached amount.
// KEYS[1] = hash key, KEYS[2] = generation key
// ARGV[1] = amount, ARGV[2] = bid json, ARGV[3] = ttl ms, ARGV[4] = generation
const setHighestScript = `
local gen = tonumber(redis.call('GET', KEYS[2]) or '0')
if gen ~= tonumber(ARGV[4]) then
	return 0
end
local current = redis.call('HGET', KEYS[1], 'amount')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'amount', ARGV[1], 'bid', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// invalidateScript bumps the generation so in-flight writers lose, then drops the entry.
// KEYS[1] = hash key, KEYS[2] = generation key
const invalidateScript = `
local gen = redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
return gen
`

// RedisStandingCache keeps the highest standing bid per auction in a redis hash.
// Both keys of an auction share a hash tag so the scripts stay single-slot.
type RedisStandingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStandingCache(client *redis.Client, ttl time.Duration) *RedisStandingCache {
	return &RedisStandingCache{client: client, ttl: ttl}
}

func highestKey(auctionID string) string {
	return "auction:{" + auctionID + "}:highest"
}

func generationKey(auctionID string) string {
	return "auction:{" + auctionID + "}:gen"
}

func (c *RedisStandingCache) GetHighest(ctx context.Context, auctionID string) (*bids.Bid, bool, error) {
	raw, err := c.client.HGet(ctx, highestKey(auctionID), "bid").Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read highest bid: %w", err)
	}

	var bid bids.Bid
	if err := json.Unmarshal([]byte(raw), &bid); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached bid: %w", err)
	}
	return &bid, true, nil
}

func (c *RedisStandingCache) Generation(ctx context.Context, auctionID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(auctionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	return gen, nil
}

func (c *RedisStandingCache) SetHighest(ctx context.Context, bid *bids.Bid, generation int64) error {
	payload, err := json.Marshal(bid)
	if err != nil {
		return fmt.Errorf("failed to encode bid: %w", err)
	}
	keys := []string{highestKey(bid.AuctionID), generationKey(bid.AuctionID)}
	err = c.client.Eval(ctx, setHighestScript, keys,
		bid.Amount, string(payload), c.ttl.Milliseconds(), generation).Err()
	if err != nil {
		return fmt.Errorf("failed to cache highest bid: %w", err)
	}
	return nil
}

func (c *RedisStandingCache) Invalidate(ctx context.Context, auctionID string) error {
	keys := []string{highestKey(auctionID), generationKey(auctionID)}
	if err := c.client.Eval(ctx, invalidateScript, keys).Err(); err != nil {
		return fmt.Errorf("failed to invalidate highest bid: %w", err)
	}
	return nil
}
