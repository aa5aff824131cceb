package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predictfi/settlebot/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using JSON-serialized markets
// under "market:{id}" keys with a short TTL. It fronts the Postgres mirror,
// which in turn fronts the chain.
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

var _ domain.MarketCache = (*MarketCache)(nil)

func marketKey(id uint64) string {
	return "market:" + strconv.FormatUint(id, 10)
}

// Set stores a market with a 5-minute TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}

	if err := mc.rdb.Set(ctx, marketKey(market.ID), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a market by ID. It returns domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return market, nil
}

// Invalidate drops a market from the cache. Settlement paths call this so
// the next read reflects the terminal state.
func (mc *MarketCache) Invalidate(ctx context.Context, id uint64) error {
	if err := mc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}
