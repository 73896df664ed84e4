package ton

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/clicker-market/bff/internal/models"
)

// ErrInvalidPayment is returned when a reservation cannot be turned into a
// transfer: missing wallet, bad address or inconsistent amounts.
var ErrInvalidPayment = errors.New("invalid payment details")

// Message is one outgoing internal message of a TON Connect transfer.
// Amount is an integer nanoton string.
type Message struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Payload string `json:"payload,omitempty"` // base64 BOC
}

// TransferRequest is the payload handed to a wallet bridge for signing.
type TransferRequest struct {
	ValidUntil int64     `json:"validUntil"`
	Network    string    `json:"network,omitempty"`
	From       string    `json:"from,omitempty"`
	Messages   []Message `json:"messages"`
}

func (t TransferRequest) Deadline() time.Time {
	return time.Unix(t.ValidUntil, 0)
}

// TotalNano sums the message amounts.
func (t TransferRequest) TotalNano() int64 {
	var total int64
	for _, m := range t.Messages {
		n, _ := strconv.ParseInt(m.Amount, 10, 64)
		total += n
	}
	return total
}

// PurchasePayment is the settled split of one reservation.
type PurchasePayment struct {
	ReservationID  uuid.UUID
	SellerWallet   string
	PriceNano      int64
	SellerNano     int64
	CommissionNano int64
}

// PaymentForReservation derives the payment split for r. Amounts sent by the
// backend are used verbatim. Without a server seller amount the seller part is
// floored from commissionBPS, never derived as price minus commission.
func PaymentForReservation(r *models.Reservation, commissionBPS int) (PurchasePayment, error) {
	if r == nil {
		return PurchasePayment{}, fmt.Errorf("%w: no reservation", ErrInvalidPayment)
	}
	if r.ID == uuid.Nil {
		return PurchasePayment{}, fmt.Errorf("%w: missing reservation id", ErrInvalidPayment)
	}
	if r.PriceNano <= 0 {
		return PurchasePayment{}, fmt.Errorf("%w: price must be positive, got %d", ErrInvalidPayment, r.PriceNano)
	}
	if strings.TrimSpace(r.SellerWallet) == "" {
		return PurchasePayment{}, fmt.Errorf("%w: seller wallet is empty", ErrInvalidPayment)
	}

	p := PurchasePayment{
		ReservationID: r.ID,
		SellerWallet:  r.SellerWallet,
		PriceNano:     r.PriceNano,
	}

	if r.CommissionNano == nil {
		p.SellerNano, p.CommissionNano = SplitAmount(r.PriceNano, commissionBPS)
		return p, nil
	}

	p.CommissionNano = *r.CommissionNano
	if r.SellerAmountNano != nil {
		p.SellerNano = *r.SellerAmountNano
	} else {
		p.SellerNano, _ = SplitAmount(r.PriceNano, commissionBPS)
	}

	if p.CommissionNano < 0 || p.SellerNano < 0 {
		return PurchasePayment{}, fmt.Errorf("%w: negative amount (seller %d, commission %d)",
			ErrInvalidPayment, p.SellerNano, p.CommissionNano)
	}
	if p.SellerNano+p.CommissionNano > p.PriceNano {
		return PurchasePayment{}, fmt.Errorf("%w: seller %d + commission %d exceeds price %d",
			ErrInvalidPayment, p.SellerNano, p.CommissionNano, p.PriceNano)
	}
	return p, nil
}

// BuildPurchaseTransfer assembles the two-message transfer: seller proceeds
// tagged with the reservation memo, then the platform commission.
func BuildPurchaseTransfer(p PurchasePayment, platformWallet string, validUntil time.Time) (TransferRequest, error) {
	if _, err := ParseAddress(p.SellerWallet); err != nil {
		return TransferRequest{}, fmt.Errorf("%w: seller wallet: %v", ErrInvalidPayment, err)
	}
	if _, err := ParseAddress(platformWallet); err != nil {
		return TransferRequest{}, fmt.Errorf("%w: platform wallet: %v", ErrInvalidPayment, err)
	}

	memo, err := EncodeMemo(p.ReservationID.String())
	if err != nil {
		return TransferRequest{}, err
	}

	return TransferRequest{
		ValidUntil: validUntil.Unix(),
		Messages: []Message{
			{
				Address: p.SellerWallet,
				Amount:  strconv.FormatInt(p.SellerNano, 10),
				Payload: memo,
			},
			{
				Address: platformWallet,
				Amount:  strconv.FormatInt(p.CommissionNano, 10),
			},
		},
	}, nil
}

// ParseAddress accepts both raw ("0:<hex>") and user-friendly addresses.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

// EncodeMemo builds a text comment cell (op 0 + snake string) and returns
// it as a base64 BOC.
func EncodeMemo(text string) (string, error) {
	b := cell.BeginCell().MustStoreUInt(0, 32)
	if err := b.StoreStringSnake(text); err != nil {
		return "", fmt.Errorf("store memo: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b.EndCell().ToBOC()), nil
}

// DecodeMemo is the inverse of EncodeMemo.
func DecodeMemo(payload string) (string, error) {
	root, err := cellFromBase64(payload)
	if err != nil {
		return "", err
	}

	s := root.BeginParse()
	if s.BitsLeft() < 32 {
		return "", fmt.Errorf("payload too short for a comment")
	}
	op, err := s.LoadUInt(32)
	if err != nil {
		return "", fmt.Errorf("load op: %w", err)
	}
	if op != 0 {
		return "", fmt.Errorf("not a text comment (op 0x%x)", op)
	}
	text, err := s.LoadStringSnake()
	if err != nil {
		return "", fmt.Errorf("load comment: %w", err)
	}
	return text, nil
}

// MessageHashFromBOC returns the hex representation hash of a signed
// external message as returned by the wallet.
func MessageHashFromBOC(boc string) (string, error) {
	root, err := cellFromBase64(boc)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root.Hash()), nil
}

func cellFromBase64(s string) (*cell.Cell, error) {
	s = strings.TrimSpace(s)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 boc: %w", err)
		}
	}
	c, err := cell.FromBOC(raw)
	if err != nil {
		return nil, fmt.Errorf("parse boc: %w", err)
	}
	return c, nil
}
