package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/http/dto"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/middleware"
	"github.com/clicker-market/bff/internal/services"
	"github.com/clicker-market/bff/internal/settlement"
	"github.com/clicker-market/bff/internal/wallet"
)

type errorMapping struct {
	kind   error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{market.ErrReserved, fiber.StatusConflict, "reserved"},
	{market.ErrAlreadySold, fiber.StatusConflict, "already_sold"},
	{settlement.ErrDispatchInFlight, fiber.StatusConflict, "payment_in_flight"},
	{settlement.ErrReservationExpired, fiber.StatusGone, "reservation_expired"},
	{wallet.ErrUserDeclined, fiber.StatusConflict, "user_declined"},
	{wallet.ErrBridge, fiber.StatusBadGateway, "wallet_error"},
	{market.ErrValidation, fiber.StatusBadRequest, "validation"},
	{services.ErrInvalidProof, fiber.StatusBadRequest, "invalid_proof"},
	{market.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{settlement.ErrUnknownReservation, fiber.StatusNotFound, "not_found"},
	{services.ErrNoPendingSignature, fiber.StatusNotFound, "no_pending_signature"},
	{services.ErrSessionExpired, fiber.StatusUnauthorized, "session_expired"},
	{services.ErrWalletNotConnected, fiber.StatusPreconditionFailed, "wallet_not_connected"},
	{market.ErrRejected, fiber.StatusUnprocessableEntity, "rejected"},
	{market.ErrNetwork, fiber.StatusServiceUnavailable, "market_unavailable"},
	{market.ErrServer, fiber.StatusBadGateway, "market_error"},
}

// respondError maps domain error kinds to HTTP statuses. Unknown errors are
// logged and reported as a generic 500.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID := middleware.GetRequestID(c)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: verrs.Error(), Code: "validation", RequestID: reqID})
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			if m.status >= fiber.StatusInternalServerError {
				log.Warn("upstream failure", zap.String("request_id", reqID), zap.Error(err))
			}
			return c.Status(m.status).JSON(dto.ErrorResponse{Error: err.Error(), Code: m.code, RequestID: reqID})
		}
	}

	log.Error("unhandled error", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error", RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}
