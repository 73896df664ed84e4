package ton

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/clicker-market/bff/internal/models"
)

const (
	sellerRaw   = "0:1111111111111111111111111111111111111111111111111111111111111111"
	platformRaw = "0:2222222222222222222222222222222222222222222222222222222222222222"
)

func int64p(v int64) *int64 { return &v }

func TestPaymentForReservation(t *testing.T) {
	id := uuid.MustParse("7c1e6f2e-4b0a-4d7e-9a52-3f0f2c1d9e11")

	tests := []struct {
		name           string
		res            models.Reservation
		wantSeller     int64
		wantCommission int64
		wantErr        bool
	}{
		{
			name:           "configured fraction when server sends no commission",
			res:            models.Reservation{ID: id, PriceNano: 5_000_000_000, SellerWallet: sellerRaw},
			wantSeller:     4_750_000_000,
			wantCommission: 250_000_000,
		},
		{
			name:           "server commission used verbatim",
			res:            models.Reservation{ID: id, PriceNano: 1_000, SellerWallet: sellerRaw, CommissionNano: int64p(40)},
			wantSeller:     950,
			wantCommission: 40,
		},
		{
			name:           "server commission seller floored at one nanoton",
			res:            models.Reservation{ID: id, PriceNano: 1, SellerWallet: sellerRaw, CommissionNano: int64p(0)},
			wantSeller:     0,
			wantCommission: 0,
		},
		{
			name:           "server commission seller floored at nineteen nanoton",
			res:            models.Reservation{ID: id, PriceNano: 19, SellerWallet: sellerRaw, CommissionNano: int64p(0)},
			wantSeller:     18,
			wantCommission: 0,
		},
		{
			name:           "server commission seller floored on odd price",
			res:            models.Reservation{ID: id, PriceNano: 1_000_000_001, SellerWallet: sellerRaw, CommissionNano: int64p(50_000_000)},
			wantSeller:     950_000_000,
			wantCommission: 50_000_000,
		},
		{
			name:    "server commission above configured share",
			res:     models.Reservation{ID: id, PriceNano: 1_000, SellerWallet: sellerRaw, CommissionNano: int64p(100)},
			wantErr: true,
		},
		{
			name: "server seller amount used verbatim",
			res: models.Reservation{ID: id, PriceNano: 1_000, SellerWallet: sellerRaw,
				CommissionNano: int64p(30), SellerAmountNano: int64p(960)},
			wantSeller:     960,
			wantCommission: 30,
		},
		{
			name:           "one nanoton listing",
			res:            models.Reservation{ID: id, PriceNano: 1, SellerWallet: sellerRaw},
			wantSeller:     0,
			wantCommission: 0,
		},
		{
			name:    "commission above price",
			res:     models.Reservation{ID: id, PriceNano: 100, SellerWallet: sellerRaw, CommissionNano: int64p(101)},
			wantErr: true,
		},
		{
			name: "seller plus commission above price",
			res: models.Reservation{ID: id, PriceNano: 100, SellerWallet: sellerRaw,
				CommissionNano: int64p(10), SellerAmountNano: int64p(95)},
			wantErr: true,
		},
		{
			name:    "missing seller wallet",
			res:     models.Reservation{ID: id, PriceNano: 100},
			wantErr: true,
		},
		{
			name:    "zero price",
			res:     models.Reservation{ID: id, SellerWallet: sellerRaw},
			wantErr: true,
		},
		{
			name:    "nil reservation id",
			res:     models.Reservation{PriceNano: 100, SellerWallet: sellerRaw},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PaymentForReservation(&tt.res, 500)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPayment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeller, p.SellerNano, "seller")
			assert.Equal(t, tt.wantCommission, p.CommissionNano, "commission")
			assert.LessOrEqual(t, p.SellerNano+p.CommissionNano, p.PriceNano)
			assert.Equal(t, id, p.ReservationID)
		})
	}
}

func TestBuildPurchaseTransfer(t *testing.T) {
	id := uuid.New()
	validUntil := time.Unix(1_750_000_300, 0)

	req, err := BuildPurchaseTransfer(PurchasePayment{
		ReservationID:  id,
		SellerWallet:   sellerRaw,
		PriceNano:      5_000_000_000,
		SellerNano:     4_750_000_000,
		CommissionNano: 250_000_000,
	}, platformRaw, validUntil)
	require.NoError(t, err)

	assert.EqualValues(t, 1_750_000_300, req.ValidUntil)
	require.Len(t, req.Messages, 2)

	seller, platform := req.Messages[0], req.Messages[1]
	assert.Equal(t, sellerRaw, seller.Address)
	assert.Equal(t, "4750000000", seller.Amount)
	assert.Equal(t, platformRaw, platform.Address)
	assert.Equal(t, "250000000", platform.Amount)
	assert.Empty(t, platform.Payload)

	memo, err := DecodeMemo(seller.Payload)
	require.NoError(t, err)
	assert.Equal(t, id.String(), memo)
	assert.EqualValues(t, 5_000_000_000, req.TotalNano())
}

func TestBuildPurchaseTransferRejectsBadAddresses(t *testing.T) {
	p := PurchasePayment{ReservationID: uuid.New(), SellerWallet: "not-an-address", PriceNano: 10, SellerNano: 9, CommissionNano: 0}
	_, err := BuildPurchaseTransfer(p, platformRaw, time.Now())
	assert.ErrorIs(t, err, ErrInvalidPayment, "bad seller wallet")

	p.SellerWallet = sellerRaw
	_, err = BuildPurchaseTransfer(p, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidPayment, "empty platform wallet")
}

func TestParseAddressFriendlyRoundTrip(t *testing.T) {
	raw, err := ParseAddress(sellerRaw)
	require.NoError(t, err)
	friendly, err := ParseAddress(raw.String())
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(raw.Data()), hex.EncodeToString(friendly.Data()))
}

func TestDecodeMemoRejectsNonComment(t *testing.T) {
	c := cell.BeginCell().MustStoreUInt(0x0f8a7ea5, 32).MustStoreUInt(1, 64).EndCell()
	_, err := DecodeMemo(base64.StdEncoding.EncodeToString(c.ToBOC()))
	assert.Error(t, err, "non-comment payload")
	_, err = DecodeMemo("%%%")
	assert.Error(t, err, "invalid base64")
}

func TestMessageHashFromBOC(t *testing.T) {
	c := cell.BeginCell().MustStoreUInt(42, 64).EndCell()
	boc := base64.StdEncoding.EncodeToString(c.ToBOC())

	got, err := MessageHashFromBOC(boc)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(c.Hash()), got)
}
