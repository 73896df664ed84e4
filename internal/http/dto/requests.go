package dto

import "github.com/clicker-market/bff/internal/ton"

type AuthTelegramRequest struct {
	InitData string `json:"init_data" validate:"required"`
}

type CreateListingRequest struct {
	UserCharacterID int64  `json:"user_character_id" validate:"required,gt=0"`
	PriceNano       int64  `json:"price_nanoton" validate:"omitempty,gte=1"`
	PriceTON        string `json:"price_ton,omitempty"` // alternative to price_nanoton
}

type PurchaseRequest struct {
	ListingID int64 `json:"listing_id" validate:"required,gt=0"`
}

// SignResultRequest carries the TON Connect outcome: the signed BOC on
// success, the wallet error otherwise.
type SignResultRequest struct {
	BOC          string `json:"boc"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error"`
}

type ConnectWalletRequest struct {
	Address         string    `json:"address" validate:"required"`
	AddressFriendly string    `json:"address_friendly"`
	Network         string    `json:"network"`
	PublicKey       string    `json:"public_key" validate:"required,hexadecimal,len=64"`
	Proof           ton.Proof `json:"proof"`
}
