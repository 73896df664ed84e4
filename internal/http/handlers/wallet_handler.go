package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/http/dto"
	"github.com/clicker-market/bff/internal/middleware"
	"github.com/clicker-market/bff/internal/services"
)

type WalletHandler struct {
	walletService *services.WalletService
	validate      *validator.Validate
	log           *zap.Logger
}

func NewWalletHandler(walletService *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletService: walletService, validate: validator.New(), log: log}
}

// GeneratePayload issues the TON Proof nonce.
// POST /me/wallet/proof-payload
func (h *WalletHandler) GeneratePayload(c *fiber.Ctx) error {
	payload, err := h.walletService.GeneratePayload(c.Context(), middleware.GetPlayerID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"payload": payload})
}

// ConnectWallet binds the buyer wallet after TON Proof verification.
// POST /me/wallet/connect
func (h *WalletHandler) ConnectWallet(c *fiber.Ctx) error {
	var req dto.ConnectWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return respondError(c, h.log, err)
	}
	if req.Proof.Signature == "" || req.Proof.Payload == "" {
		return badRequest(c, "proof.signature and proof.payload are required")
	}

	w, err := h.walletService.ConnectWallet(c.Context(), middleware.GetPlayerID(c), services.ConnectWalletRequest{
		Address:         req.Address,
		AddressFriendly: req.AddressFriendly,
		Network:         req.Network,
		PublicKey:       req.PublicKey,
		Proof:           req.Proof,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: w})
}

// DisconnectWallet DELETE /me/wallet
func (h *WalletHandler) DisconnectWallet(c *fiber.Ctx) error {
	if err := h.walletService.DisconnectWallet(c.Context(), middleware.GetPlayerID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// GetWallet GET /me/wallet
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	w, err := h.walletService.GetActiveWallet(c.Context(), middleware.GetPlayerID(c))
	if errors.Is(err, services.ErrWalletNotConnected) {
		return c.JSON(dto.SuccessResponse{OK: true, Data: nil})
	}
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: w})
}
