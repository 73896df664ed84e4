package handlers

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/http/dto"
	"github.com/clicker-market/bff/internal/middleware"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/services"
	"github.com/clicker-market/bff/internal/ton"
)

const displayPlaces = 3

type MarketHandler struct {
	svc      *services.SettlementService
	validate *validator.Validate
	log      *zap.Logger
}

func NewMarketHandler(svc *services.SettlementService, log *zap.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, validate: validator.New(), log: log}
}

// ListListings returns Browse minus the player's locally hidden listings.
// GET /market/listings
func (h *MarketHandler) ListListings(c *fiber.Ctx) error {
	filter, err := parseListingFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	listings, err := h.svc.Listings(c.Context(), middleware.GetPlayerID(c), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: withDisplay(listings)})
}

// MyListings GET /market/my-listings
func (h *MarketHandler) MyListings(c *fiber.Ctx) error {
	listings, err := h.svc.MyListings(c.Context(), middleware.GetPlayerID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: withDisplay(listings)})
}

// Stats GET /market/stats
func (h *MarketHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.svc.Stats(c.Context(), middleware.GetPlayerID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
}

// CreateListing POST /market/listings
func (h *MarketHandler) CreateListing(c *fiber.Ctx) error {
	var req dto.CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return respondError(c, h.log, err)
	}

	price := req.PriceNano
	if req.PriceTON != "" {
		nano, err := ton.ParseTON(req.PriceTON)
		if err != nil {
			return badRequest(c, err.Error())
		}
		price = nano
	}
	if price < 1 {
		return badRequest(c, "price must be at least 1 nanoton")
	}

	listing, err := h.svc.CreateListing(c.Context(), middleware.GetPlayerID(c), models.CreateListingRequest{
		UserCharacterID: req.UserCharacterID,
		PriceNano:       price,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: listing})
}

// CancelListing DELETE /market/listings/:id
func (h *MarketHandler) CancelListing(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "invalid listing id")
	}
	if err := h.svc.CancelListing(c.Context(), middleware.GetPlayerID(c), int64(id)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func parseListingFilter(c *fiber.Ctx) (models.ListingFilter, error) {
	f := models.ListingFilter{
		CharacterName: c.Query("character_filter"),
		SortBy:        c.Query("sort_by"),
		Limit:         c.QueryInt("limit"),
		Offset:        c.QueryInt("offset"),
	}

	var err error
	if f.MinPriceNano, err = priceQuery(c, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPriceNano, err = priceQuery(c, "max_price"); err != nil {
		return f, err
	}
	return f, nil
}

// priceQuery reads <name>_nanoton, falling back to <name>_ton.
func priceQuery(c *fiber.Ctx, name string) (*int64, error) {
	if s := c.Query(name + "_nanoton"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_nanoton", name)
		}
		return &v, nil
	}
	if s := c.Query(name + "_ton"); s != "" {
		v, err := ton.ParseTON(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_ton: %w", name, err)
		}
		return &v, nil
	}
	return nil, nil
}

func withDisplay(listings []models.Listing) []dto.ListingResponse {
	out := make([]dto.ListingResponse, len(listings))
	for i, l := range listings {
		out[i] = dto.ListingResponse{Listing: l, PriceDisplay: ton.FormatTON(l.PriceNano, displayPlaces)}
	}
	return out
}
