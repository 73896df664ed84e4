package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/config"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/repositories"
	"github.com/clicker-market/bff/internal/ton"
)

const proofPayloadTTL = 5 * time.Minute

var (
	ErrWalletNotConnected = errors.New("no wallet connected")
	ErrInvalidProof       = errors.New("wallet proof rejected")
)

type WalletService struct {
	walletRepo *repositories.WalletRepo
	cfg        *config.Config
	log        *zap.Logger
}

func NewWalletService(walletRepo *repositories.WalletRepo, cfg *config.Config, log *zap.Logger) *WalletService {
	return &WalletService{walletRepo: walletRepo, cfg: cfg, log: log}
}

// GeneratePayload issues a single-use nonce that TON Connect signs into the proof.
func (s *WalletService) GeneratePayload(ctx context.Context, playerID uuid.UUID) (string, error) {
	p, err := s.walletRepo.CreateProofPayload(ctx, playerID, proofPayloadTTL)
	if err != nil {
		return "", fmt.Errorf("create proof payload: %w", err)
	}
	return p.Payload, nil
}

type ConnectWalletRequest struct {
	Address         string    `json:"address" validate:"required"`
	AddressFriendly string    `json:"address_friendly"`
	Network         string    `json:"network"`
	PublicKey       string    `json:"public_key" validate:"required,hexadecimal,len=64"`
	Proof           ton.Proof `json:"proof"`
}

// ConnectWallet verifies the TON Proof and binds the address as the
// player's buyer wallet.
func (s *WalletService) ConnectWallet(ctx context.Context, playerID uuid.UUID, req ConnectWalletRequest) (*models.PlayerWallet, error) {
	want := ton.NetworkID(s.cfg.TONNetwork)
	if req.Network != "" && chainID(req.Network) != want {
		return nil, fmt.Errorf("%w: network mismatch, expected %s", ErrInvalidProof, want)
	}

	if _, err := s.walletRepo.ConsumeProofPayload(ctx, playerID, req.Proof.Payload); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown or expired proof payload", ErrInvalidProof)
		}
		return nil, fmt.Errorf("consume proof payload: %w", err)
	}

	if err := ton.VerifyProof(req.PublicKey, req.Address, req.Proof, s.cfg.TONProofAllowedDomains, time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	friendly := req.AddressFriendly
	if friendly == "" {
		addr, err := ton.ParseAddress(req.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		friendly = addr.String()
	}

	w := &models.PlayerWallet{
		PlayerID:        playerID,
		Address:         req.Address,
		AddressFriendly: friendly,
		Network:         want,
		PublicKey:       req.PublicKey,
		ProofTimestamp:  req.Proof.Timestamp,
		ProofDomain:     req.Proof.Domain.Value,
	}
	if err := s.walletRepo.ConnectWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}

	s.log.Info("wallet connected",
		zap.String("player_id", playerID.String()),
		zap.String("address", friendly),
	)
	return w, nil
}

func (s *WalletService) DisconnectWallet(ctx context.Context, playerID uuid.UUID) error {
	if err := s.walletRepo.DisconnectAll(ctx, playerID); err != nil {
		return fmt.Errorf("disconnect wallet: %w", err)
	}
	s.log.Info("wallet disconnected", zap.String("player_id", playerID.String()))
	return nil
}

func (s *WalletService) GetActiveWallet(ctx context.Context, playerID uuid.UUID) (*models.PlayerWallet, error) {
	w, err := s.walletRepo.GetActiveWallet(ctx, playerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrWalletNotConnected
	}
	return w, err
}

// chainID accepts either a network name or a TON Connect chain id.
func chainID(network string) string {
	if network == ton.NetworkMainnet || network == ton.NetworkTestnet {
		return network
	}
	return ton.NetworkID(network)
}
