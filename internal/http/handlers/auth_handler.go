package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/auth"
	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/http/dto"
	"github.com/clicker-market/bff/internal/middleware"
	"github.com/clicker-market/bff/internal/models"
)

type PlayerStore interface {
	UpsertByTelegramID(ctx context.Context, telegramID int64, username, firstName *string) (*models.Player, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error)
}

// SessionBinder keeps the player's init data for market calls made on
// their behalf.
type SessionBinder interface {
	BindSession(ctx context.Context, playerID uuid.UUID, initData string) error
}

type AuthHandler struct {
	players  PlayerStore
	sessions SessionBinder
	cfg      *config.Config
	log      *zap.Logger
}

func NewAuthHandler(players PlayerStore, sessions SessionBinder, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{players: players, sessions: sessions, cfg: cfg, log: log}
}

// TelegramAuth exchanges Mini App init data for a BFF session token.
// POST /auth/telegram
func (h *AuthHandler) TelegramAuth(c *fiber.Ctx) error {
	var req dto.AuthTelegramRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.InitData == "" {
		return badRequest(c, "init_data is required")
	}

	data, err := auth.ValidateInitData(req.InitData, h.cfg.WebAppSecret, h.cfg.InitDataMaxAge, time.Now())
	if err != nil {
		h.log.Debug("telegram auth validation failed", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	player, err := h.players.UpsertByTelegramID(c.Context(), data.User.ID, optional(data.User.Username), optional(data.User.FirstName))
	if err != nil {
		h.log.Error("failed to upsert player", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	if err := h.sessions.BindSession(c.Context(), player.ID, data.Raw); err != nil {
		h.log.Error("failed to bind market session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, player.ID, player.TelegramUserID, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, Player: player})
}

// GetMe returns the authenticated player.
// GET /me
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	player, err := h.players.GetByID(c.Context(), middleware.GetPlayerID(c))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "player not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: player})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
