package models

// Sort orders accepted by the market listings endpoint.
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortLevelDesc = "level_desc"
)

// Listing is a seller's offer of one character at a fixed price.
// PriceNano is authoritative; PriceTON is a display convenience.
type Listing struct {
	ID              int64   `json:"id"`
	SellerID        int64   `json:"seller_id"`
	SellerUsername  string  `json:"seller_username,omitempty"`
	UserCharacterID int64   `json:"user_character_id"`
	CharacterName   string  `json:"character_name"`
	CharacterLevel  int     `json:"character_level"`
	Rarity          string  `json:"rarity"`
	FarmRate        float64 `json:"farm_rate"`
	PriceNano       int64   `json:"price_nanoton"`
	PriceTON        float64 `json:"price_ton"`
	SellerWallet    string  `json:"seller_wallet"`
	CreatedAt       Time    `json:"created_at"`
}

type ListingFilter struct {
	CharacterName string `json:"character_filter,omitempty" validate:"omitempty,max=64"`
	MinPriceNano  *int64 `json:"min_price_nanoton,omitempty" validate:"omitempty,gte=0"`
	MaxPriceNano  *int64 `json:"max_price_nanoton,omitempty" validate:"omitempty,gte=0"`
	SortBy        string `json:"sort_by,omitempty" validate:"omitempty,oneof=newest price_asc price_desc level_desc"`
	Limit         int    `json:"limit,omitempty" validate:"gte=0,lte=100"`
	Offset        int    `json:"offset,omitempty" validate:"gte=0"`
}

type CreateListingRequest struct {
	UserCharacterID int64 `json:"user_character_id" validate:"required,gt=0"`
	PriceNano       int64 `json:"price_nanoton" validate:"required,gte=1"`
}

type CreateListingResult struct {
	Success bool     `json:"success"`
	Listing *Listing `json:"listing,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type MarketStats struct {
	ActiveListings    int64 `json:"active_listings"`
	TotalTransactions int64 `json:"total_transactions"`
}

type CleanupResult struct {
	Success      bool   `json:"success"`
	ExpiredCount int    `json:"expired_count"`
	Message      string `json:"message,omitempty"`
}
