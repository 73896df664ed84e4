package wallet

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
	tonwallet "github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/ton"
)

// HotWallet signs with a V4R2 seed-phrase wallet and broadcasts through a
// lite client. Used by marketctl and headless buyers.
type HotWallet struct {
	w   *tonwallet.Wallet
	log *zap.Logger
}

func NewHotWallet(api tonwallet.TonAPI, seed []string, log *zap.Logger) (*HotWallet, error) {
	w, err := tonwallet.FromSeed(api, seed, tonwallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("load wallet from seed: %w", err)
	}
	return &HotWallet{w: w, log: log}, nil
}

func (h *HotWallet) Address() string {
	return h.w.WalletAddress().String()
}

func (h *HotWallet) SendTransaction(ctx context.Context, req ton.TransferRequest) (*Result, error) {
	ttl := time.Until(req.Deadline())
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: transfer valid_until already passed", ErrBridge)
	}
	if spec, ok := h.w.GetSpec().(*tonwallet.SpecV4R2); ok {
		spec.SetMessagesTTL(uint32(ttl.Seconds()))
	}

	msgs := make([]*tonwallet.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		msg, err := toWalletMessage(m)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrBridge, i, err)
		}
		msgs = append(msgs, msg)
	}

	hash, err := h.w.SendManyWaitTxHash(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: send: %v", ErrBridge, err)
	}

	res := &Result{MessageHash: hex.EncodeToString(hash)}
	h.log.Info("hot wallet transfer sent",
		zap.String("from", h.Address()),
		zap.Int("messages", len(msgs)),
		zap.String("hash", res.MessageHash),
	)
	return res, nil
}

func toWalletMessage(m ton.Message) (*tonwallet.Message, error) {
	to, err := ton.ParseAddress(m.Address)
	if err != nil {
		return nil, err
	}
	nano, err := strconv.ParseInt(m.Amount, 10, 64)
	if err != nil || nano < 0 {
		return nil, fmt.Errorf("invalid amount %q", m.Amount)
	}

	var body *cell.Cell
	if m.Payload != "" {
		raw, err := base64.StdEncoding.DecodeString(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload base64: %w", err)
		}
		if body, err = cell.FromBOC(raw); err != nil {
			return nil, fmt.Errorf("payload boc: %w", err)
		}
	}

	return tonwallet.SimpleMessageAutoBounce(to, tlb.FromNanoTON(big.NewInt(nano)), body), nil
}
