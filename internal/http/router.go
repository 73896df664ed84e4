package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/http/handlers"
	"github.com/clicker-market/bff/internal/middleware"
)

type Handlers struct {
	Auth     *handlers.AuthHandler
	Market   *handlers.MarketHandler
	Purchase *handlers.PurchaseHandler
	Wallet   *handlers.WalletHandler
	WS       *handlers.WSHub
}

// SetupRouter mounts the BFF API. rdb may be nil, which disables rate limiting.
func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb redis.Cmdable, h Handlers) {
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	api.Post("/auth/telegram", h.Auth.TelegramAuth)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		protected.Use(middleware.RateLimitMiddleware(rdb, 120, time.Minute))
	}

	protected.Get("/me", h.Auth.GetMe)

	// Wallet (TON Connect + Proof)
	protected.Post("/me/wallet/proof-payload", h.Wallet.GeneratePayload)
	protected.Post("/me/wallet/connect", h.Wallet.ConnectWallet)
	protected.Delete("/me/wallet", h.Wallet.DisconnectWallet)
	protected.Get("/me/wallet", h.Wallet.GetWallet)

	// Listing Store
	protected.Get("/market/listings", h.Market.ListListings)
	protected.Post("/market/listings", h.Market.CreateListing)
	protected.Delete("/market/listings/:id", h.Market.CancelListing)
	protected.Get("/market/my-listings", h.Market.MyListings)
	protected.Get("/market/stats", h.Market.Stats)

	// Purchase and settlement
	protected.Post("/market/purchase", h.Purchase.Purchase)
	protected.Get("/market/purchase/:uuid/transfer", h.Purchase.Transfer)
	protected.Post("/market/purchase/:uuid/result", h.Purchase.SubmitResult)
	protected.Post("/market/purchase/:uuid/cancel", h.Purchase.Cancel)
	protected.Get("/market/transactions/:uuid/status", h.Purchase.Status)
	protected.Get("/market/transactions/:uuid/history", h.Purchase.History)
	protected.Get("/market/pending", h.Purchase.Pending)

	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Post("/market/cleanup", h.Purchase.Cleanup)

	if h.WS != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}
}
