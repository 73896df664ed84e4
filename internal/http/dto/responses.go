package dto

import "github.com/clicker-market/bff/internal/models"

type AuthResponse struct {
	Token  string         `json:"token"`
	Player *models.Player `json:"player"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// ListingResponse adds display amounts to a listing.
type ListingResponse struct {
	models.Listing
	PriceDisplay string `json:"price_display"`
}

type ReservationResponse struct {
	*models.Reservation
	PriceDisplay      string `json:"price_display"`
	SellerDisplay     string `json:"seller_amount_display,omitempty"`
	CommissionDisplay string `json:"commission_display,omitempty"`
}

type TransferResponse struct {
	ReservationID string `json:"reservation_id"`
	Transfer      any    `json:"transfer"`
	TotalDisplay  string `json:"total_display"`
}
