package models

import (
	"time"

	"github.com/google/uuid"
)

// Pending payment (dispatch) states
const (
	PaymentStateIdle              = "idle"
	PaymentStateAwaitingSignature = "awaiting_signature"
	PaymentStateSubmitted         = "submitted"
	PaymentStateConfirmed         = "confirmed"
	PaymentStateFailed            = "failed"
)

// Valid state transitions: from -> []to
var ValidPaymentTransitions = map[string][]string{
	PaymentStateIdle:              {PaymentStateAwaitingSignature, PaymentStateFailed},
	PaymentStateAwaitingSignature: {PaymentStateSubmitted, PaymentStateFailed},
	PaymentStateSubmitted:         {PaymentStateConfirmed, PaymentStateFailed},
	PaymentStateConfirmed:         {},
	PaymentStateFailed:            {},
}

func IsValidPaymentTransition(from, to string) bool {
	allowed, ok := ValidPaymentTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Failure reasons recorded on a failed pending payment.
const (
	FailureDeclined = "user_declined"
	FailureWallet   = "wallet_error"
	FailureExpired  = "reservation_expired"
	FailureNotFound = "reservation_not_found"
	FailureInvalid  = "invalid_payment_details"
)

// PendingPayment tracks one in-flight dispatch. It lives only as long as
// the dispatch is not terminal.
type PendingPayment struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ListingID     int64     `json:"listing_id"`
	State         string    `json:"state"`
	ExpiresAt     time.Time `json:"expires_at"`
	ValidUntil    time.Time `json:"valid_until,omitempty"`
	MessageHash   string    `json:"message_hash,omitempty"`
	HashReported  bool      `json:"hash_reported,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *PendingPayment) IsTerminal() bool {
	return p.State == PaymentStateConfirmed || p.State == PaymentStateFailed
}

// SettlementAudit is one recorded pending-payment transition.
type SettlementAudit struct {
	ID            uuid.UUID  `json:"id"`
	PlayerID      *uuid.UUID `json:"player_id,omitempty"`
	ReservationID uuid.UUID  `json:"reservation_id"`
	ListingID     int64      `json:"listing_id"`
	FromState     string     `json:"from_state"`
	ToState       string     `json:"to_state"`
	Meta          any        `json:"meta,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
