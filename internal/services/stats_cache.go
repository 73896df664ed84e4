package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coocood/freecache"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/models"
)

const statsKey = "market:stats"

// StatsCache keeps the market-wide stats in process memory. They are the
// same for every player, so one backend call serves all sessions per TTL.
type StatsCache struct {
	cache *freecache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewStatsCache(ttl time.Duration, log *zap.Logger) *StatsCache {
	return &StatsCache{cache: freecache.NewCache(512 * 1024), ttl: ttl, log: log}
}

func (c *StatsCache) Get(ctx context.Context, fetch func(context.Context) (*models.MarketStats, error)) (*models.MarketStats, error) {
	if raw, err := c.cache.Get([]byte(statsKey)); err == nil {
		var stats models.MarketStats
		if err := json.Unmarshal(raw, &stats); err == nil {
			return &stats, nil
		}
	} else if !errors.Is(err, freecache.ErrNotFound) {
		c.log.Warn("stats cache get failed", zap.Error(err))
	}

	stats, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		raw, _ := json.Marshal(stats)
		if err := c.cache.Set([]byte(statsKey), raw, int(c.ttl.Seconds())); err != nil {
			c.log.Warn("stats cache set failed", zap.Error(err))
		}
	}
	return stats, nil
}

func (c *StatsCache) Invalidate() {
	c.cache.Del([]byte(statsKey))
}
