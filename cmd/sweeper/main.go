package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/db"
	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/market"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.MarketAdminToken == "" {
		log.Fatal("MARKET_ADMIN_TOKEN is required for the cleanup sweep")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	client := market.NewClient(market.ClientConfig{
		BaseURL:    cfg.MarketAPIURL,
		Timeout:    cfg.MarketTimeout,
		RPS:        cfg.MarketRPS,
		Burst:      cfg.MarketBurst,
		AdminToken: cfg.MarketAdminToken,
	}, log)
	publisher := events.NewRedisPublisher(rdb, log)

	log.Info("sweeper started", zap.Duration("interval", cfg.SweepInterval))

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCleanup(ctx, client, publisher, log)
		case <-ctx.Done():
			log.Info("shutting down sweeper")
			return
		}
	}
}

// runCleanup expires stale reservations. When any expired, every connected
// player is told to refresh Browse, since the listings are buyable again.
func runCleanup(ctx context.Context, client *market.Client, publisher events.Publisher, log *zap.Logger) {
	res, err := client.Cleanup(ctx)
	if err != nil {
		log.Error("cleanup sweep failed", zap.Bool("retryable", market.Retryable(err)), zap.Error(err))
		return
	}
	if res.ExpiredCount == 0 {
		return
	}

	log.Info("expired stale reservations", zap.Int("count", res.ExpiredCount), zap.String("message", res.Message))
	err = publisher.Publish(ctx, events.StreamSettlement, events.Event{
		Type:    events.EventListingsChanged,
		Payload: map[string]any{"expired_count": res.ExpiredCount},
	})
	if err != nil {
		log.Warn("failed to announce listing changes", zap.Error(err))
	}
}
