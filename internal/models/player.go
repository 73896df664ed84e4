package models

import (
	"time"

	"github.com/google/uuid"
)

type Player struct {
	ID             uuid.UUID `json:"id"`
	TelegramUserID int64     `json:"telegram_user_id"`
	Username       *string   `json:"username,omitempty"`
	FirstName      *string   `json:"first_name,omitempty"`
	WalletAddress  *string   `json:"wallet_address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// PlayerWallet is the TON wallet a player bound through TON Proof. Its
// address is the implicit buyer wallet of every purchase.
type PlayerWallet struct {
	ID              uuid.UUID  `json:"id"`
	PlayerID        uuid.UUID  `json:"player_id"`
	Address         string     `json:"address"`          // raw: 0:<hex>
	AddressFriendly string     `json:"address_friendly"` // EQ.../UQ...
	Network         string     `json:"network"`
	PublicKey       string     `json:"public_key"`
	ProofTimestamp  int64      `json:"-"`
	ProofDomain     string     `json:"-"`
	ConnectedAt     time.Time  `json:"connected_at"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	IsActive        bool       `json:"is_active"`
}

// TonProofPayload is a single-use nonce handed to TON Connect.
type TonProofPayload struct {
	ID        uuid.UUID  `json:"id"`
	Payload   string     `json:"payload"`
	PlayerID  *uuid.UUID `json:"player_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
}
