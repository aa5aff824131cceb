package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predictfi/settlebot/internal/domain"
)

const defaultVerdictTTL = time.Hour

// VerdictCache implements domain.VerdictCache on Redis. Keys are prompt
// hashes; values are JSON verdicts. The TTL bounds how long a cached verdict
// can be replayed for a transaction retry before a fresh resolution is
// required.
type VerdictCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewVerdictCache creates a VerdictCache. A non-positive ttl falls back to
// one hour.
func NewVerdictCache(c *Client, ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}
	return &VerdictCache{rdb: c.Underlying(), ttl: ttl}
}

var _ domain.VerdictCache = (*VerdictCache)(nil)

func verdictKey(key string) string {
	return "verdict:" + key
}

// Get returns the cached verdict for a prompt hash, reporting a miss via the
// second return value.
func (vc *VerdictCache) Get(ctx context.Context, key string) (domain.Verdict, bool, error) {
	data, err := vc.rdb.Get(ctx, verdictKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Verdict{}, false, nil
		}
		return domain.Verdict{}, false, fmt.Errorf("redis: get verdict %s: %w", key, err)
	}

	var v domain.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.Verdict{}, false, fmt.Errorf("redis: unmarshal verdict %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a verdict under a prompt hash with the configured TTL.
func (vc *VerdictCache) Set(ctx context.Context, key string, v domain.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal verdict %s: %w", key, err)
	}

	if err := vc.rdb.Set(ctx, verdictKey(key), data, vc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set verdict %s: %w", key, err)
	}
	return nil
}
