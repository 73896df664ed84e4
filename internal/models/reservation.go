package models

import (
	"time"

	"github.com/google/uuid"
)

// Server-side reservation (market transaction) statuses.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusConfirmed = "confirmed"
	TxStatusExpired   = "expired"
	TxStatusCancelled = "cancelled"
	TxStatusFailed    = "failed"
)

// Settlement states reported by the reconciler.
const (
	SettlementPending   = "pending"
	SettlementConfirmed = "confirmed"
	SettlementExpired   = "expired"
	SettlementNotFound  = "not_found"
)

// Reservation is the buyer's read-only, time-limited view of a server-held
// purchase intent. ID is echoed as the on-chain memo of the seller transfer.
type Reservation struct {
	ID               uuid.UUID `json:"transaction_uuid"`
	ListingID        int64     `json:"listing_id"`
	CharacterName    string    `json:"character_name"`
	CharacterLevel   int       `json:"character_level"`
	PriceNano        int64     `json:"price_nanoton"`
	PriceTON         float64   `json:"price_ton"`
	CommissionNano   *int64    `json:"commission_nanoton,omitempty"`
	CommissionTON    float64   `json:"commission_ton"`
	SellerAmountNano *int64    `json:"seller_amount_nanoton,omitempty"`
	SellerWallet     string    `json:"seller_wallet"`
	BuyerWallet      string    `json:"buyer_wallet"`
	ExpiresAt        Time      `json:"expires_at"`
}

func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt.Time)
}

type PurchaseResponse struct {
	Success            bool         `json:"success"`
	Error              string       `json:"error,omitempty"`
	PaymentRequired    bool         `json:"payment_required,omitempty"`
	TransactionDetails *Reservation `json:"transaction_details,omitempty"`
}

type CompletePurchaseResponse struct {
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	Transaction *TransactionStatus `json:"transaction,omitempty"`
}

// TransactionStatus mirrors GET /market/transactions/{uuid}/status.
type TransactionStatus struct {
	UUID                 uuid.UUID `json:"uuid"`
	Status               string    `json:"status"`
	ListingID            int64     `json:"listing_id"`
	ExpiresAt            Time      `json:"expires_at"`
	TimeRemainingSeconds int       `json:"time_remaining_seconds"`
	CharacterName        string    `json:"character_name"`
	PriceTON             float64   `json:"price_ton"`
	BlockchainHash       *string   `json:"blockchain_hash,omitempty"`
	ConfirmedAt          *Time     `json:"confirmed_at,omitempty"`
}

// SettlementView is what callers see when asking about a reservation.
type SettlementView struct {
	ReservationID    uuid.UUID `json:"reservation_id"`
	ListingID        int64     `json:"listing_id,omitempty"`
	State            string    `json:"state"`
	RemainingSeconds int       `json:"remaining_seconds,omitempty"`
	BlockchainHash   string    `json:"blockchain_hash,omitempty"`
}
