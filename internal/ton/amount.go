package ton

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NanoPerTON: 1 TON = 1_000_000_000 nanoTON.
const NanoPerTON = 1_000_000_000

const bpsDenominator = 10_000

// SplitAmount splits price into the seller proceeds and the platform
// commission for a commission expressed in basis points. Both parts are
// truncated independently, so seller+commission may fall short of price.
func SplitAmount(priceNano int64, commissionBPS int) (sellerNano, commissionNano int64) {
	if priceNano <= 0 {
		return 0, 0
	}
	if commissionBPS < 0 {
		commissionBPS = 0
	}
	if commissionBPS > bpsDenominator {
		commissionBPS = bpsDenominator
	}

	// big.Int: price * 10000 overflows int64 for prices above ~922k TON.
	price := big.NewInt(priceNano)
	denom := big.NewInt(bpsDenominator)

	commission := new(big.Int).Mul(price, big.NewInt(int64(commissionBPS)))
	commission.Quo(commission, denom)

	seller := new(big.Int).Mul(price, big.NewInt(int64(bpsDenominator-commissionBPS)))
	seller.Quo(seller, denom)

	return seller.Int64(), commission.Int64()
}

// FormatTON renders a nanoTON amount as TON with a fixed number of places,
// e.g. FormatTON(1_000_000_000, 3) == "1.000".
func FormatTON(nano int64, places int32) string {
	return decimal.New(nano, -9).StringFixed(places)
}

// ParseTON converts a decimal TON string (e.g. "5.5") to nanoTON. Digits
// beyond the ninth decimal place are truncated.
func ParseTON(tonStr string) (int64, error) {
	tonStr = strings.TrimSpace(tonStr)
	if tonStr == "" {
		return 0, fmt.Errorf("empty TON amount")
	}

	d, err := decimal.NewFromString(tonStr)
	if err != nil {
		return 0, fmt.Errorf("invalid TON amount %q: %w", tonStr, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative TON amount %q", tonStr)
	}

	nano := d.Shift(9).Truncate(0)
	if nano.GreaterThan(decimal.NewFromInt(1<<63 - 1)) {
		return 0, fmt.Errorf("TON amount %q out of range", tonStr)
	}
	return nano.IntPart(), nil
}
