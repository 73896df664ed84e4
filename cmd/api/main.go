package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/db"
	"github.com/clicker-market/bff/internal/events"
	apphttp "github.com/clicker-market/bff/internal/http"
	"github.com/clicker-market/bff/internal/http/handlers"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/metrics"
	"github.com/clicker-market/bff/internal/repositories"
	"github.com/clicker-market/bff/internal/services"
	"github.com/clicker-market/bff/internal/settlement"
	"github.com/clicker-market/bff/internal/ton"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Metrics
	sink, closeMetrics, err := metrics.NewStatsd(cfg.StatsdAddr, log)
	if err != nil {
		log.Fatal("failed to init statsd", zap.Error(err))
	}
	defer closeMetrics()

	// Repositories
	playerRepo := repositories.NewPlayerRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	sessionStore := repositories.NewSessionStore(rdb, cfg.JWTExpiration)
	pendingStore := repositories.NewPendingStore(rdb)

	// Events
	publisher := metrics.NewCountingPublisher(events.NewRedisPublisher(rdb, log), sink, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Market backend
	marketClient := market.NewClient(market.ClientConfig{
		BaseURL:    cfg.MarketAPIURL,
		Timeout:    cfg.MarketTimeout,
		RPS:        cfg.MarketRPS,
		Burst:      cfg.MarketBurst,
		AdminToken: cfg.MarketAdminToken,
	}, log)

	// Services
	walletService := services.NewWalletService(walletRepo, cfg, log)
	settlementService := services.NewSettlementService(services.SettlementDeps{
		NewMarket: func(initData string) services.PlayerMarket { return marketClient.ForPlayer(initData) },
		Admin:     marketClient,
		InitData:  sessionStore,
		Pending:   pendingStore,
		Audit:     auditRepo,
		Wallets:   walletService,
		Publisher: publisher,
		Stats:     services.NewStatsCache(cfg.StatsCacheTTL, log),
	}, settlement.Config{
		PlatformWallet:   cfg.PlatformWalletAddress,
		CommissionBPS:    cfg.CommissionBPS,
		TxValidity:       cfg.TxValidity,
		SignatureWaitMax: cfg.SignatureWaitMax,
		Network:          ton.NetworkID(cfg.TONNetwork),
	}, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	h := apphttp.Handlers{
		Auth:     handlers.NewAuthHandler(playerRepo, settlementService, cfg, log),
		Market:   handlers.NewMarketHandler(settlementService, log),
		Purchase: handlers.NewPurchaseHandler(settlementService, log),
		Wallet:   handlers.NewWalletHandler(walletService, log),
		WS:       wsHub,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	apphttp.SetupRouter(app, cfg, log, rdb, h)

	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start ws hub", zap.Error(err))
	}
	if err := settlementService.Recover(ctx); err != nil {
		log.Warn("pending payment recovery incomplete", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		settlementService.Run(gctx, cfg.StatusPollInterval)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.APIPort)
		log.Info("starting API server", zap.String("addr", addr))
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
