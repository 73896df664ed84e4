package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/http/dto"
	"github.com/clicker-market/bff/internal/middleware"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/services"
	"github.com/clicker-market/bff/internal/ton"
)

type PurchaseHandler struct {
	svc      *services.SettlementService
	validate *validator.Validate
	log      *zap.Logger
}

func NewPurchaseHandler(svc *services.SettlementService, log *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, validate: validator.New(), log: log}
}

// Purchase reserves a listing. The wallet prompt follows over the socket as
// a sign_request event.
// POST /market/purchase
func (h *PurchaseHandler) Purchase(c *fiber.Ctx) error {
	var req dto.PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return respondError(c, h.log, err)
	}

	r, err := h.svc.Purchase(c.Context(), middleware.GetPlayerID(c), req.ListingID)
	if err != nil {
		return respondError(c, h.log, err)
	}

	resp := dto.ReservationResponse{Reservation: r, PriceDisplay: ton.FormatTON(r.PriceNano, displayPlaces)}
	if r.SellerAmountNano != nil {
		resp.SellerDisplay = ton.FormatTON(*r.SellerAmountNano, displayPlaces)
	}
	if r.CommissionNano != nil {
		resp.CommissionDisplay = ton.FormatTON(*r.CommissionNano, displayPlaces)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.SuccessResponse{OK: true, Data: resp})
}

// Transfer GET /market/purchase/:uuid/transfer
func (h *PurchaseHandler) Transfer(c *fiber.Ctx) error {
	id, err := reservationParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	t, err := h.svc.Transfer(c.Context(), middleware.GetPlayerID(c), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.TransferResponse{
		ReservationID: id.String(),
		Transfer:      t,
		TotalDisplay:  ton.FormatTON(t.TotalNano(), displayPlaces),
	}})
}

// SubmitResult POST /market/purchase/:uuid/result
func (h *PurchaseHandler) SubmitResult(c *fiber.Ctx) error {
	id, err := reservationParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req dto.SignResultRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.BOC == "" && req.ErrorCode == 0 && req.ErrorMessage == "" {
		return badRequest(c, "boc or error is required")
	}

	err = h.svc.SubmitSignResult(c.Context(), middleware.GetPlayerID(c), id, services.SignResult{
		BOC:          req.BOC,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// Cancel POST /market/purchase/:uuid/cancel
func (h *PurchaseHandler) Cancel(c *fiber.Ctx) error {
	id, err := reservationParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.svc.CancelSignature(c.Context(), middleware.GetPlayerID(c), id); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// Status GET /market/transactions/:uuid/status
func (h *PurchaseHandler) Status(c *fiber.Ctx) error {
	id, err := reservationParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	view, err := h.svc.Status(c.Context(), middleware.GetPlayerID(c), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view})
}

// History GET /market/transactions/:uuid/history
func (h *PurchaseHandler) History(c *fiber.Ctx) error {
	id, err := reservationParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	entries, err := h.svc.History(c.Context(), middleware.GetPlayerID(c), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if entries == nil {
		entries = []models.SettlementAudit{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// Pending GET /market/pending
func (h *PurchaseHandler) Pending(c *fiber.Ctx) error {
	payments, err := h.svc.Pending(c.Context(), middleware.GetPlayerID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payments})
}

// Cleanup expires stale reservations on the backend.
// POST /admin/market/cleanup
func (h *PurchaseHandler) Cleanup(c *fiber.Ctx) error {
	res, err := h.svc.Cleanup(c.Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info("market cleanup",
		zap.Int64("admin_telegram_id", middleware.GetTelegramUserID(c)),
		zap.Int("expired", res.ExpiredCount),
	)
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func reservationParam(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("uuid"))
}
