package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clicker-market/bff/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// --- TON Proof nonces ---

func (r *WalletRepo) CreateProofPayload(ctx context.Context, playerID uuid.UUID, ttl time.Duration) (*models.TonProofPayload, error) {
	p := &models.TonProofPayload{
		Payload:  generateNonce(32),
		PlayerID: &playerID,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ton_proof_payloads (payload, player_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, expires_at
	`, p.Payload, playerID, time.Now().Add(ttl)).Scan(&p.ID, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ConsumeProofPayload marks a nonce used. It fails for unknown, expired,
// reused or foreign nonces.
func (r *WalletRepo) ConsumeProofPayload(ctx context.Context, playerID uuid.UUID, payload string) (*models.TonProofPayload, error) {
	var p models.TonProofPayload
	err := r.pool.QueryRow(ctx, `
		UPDATE ton_proof_payloads
		SET used = true
		WHERE payload = $1 AND player_id = $2 AND used = false AND expires_at > now()
		RETURNING id, payload, player_id, created_at, expires_at, used
	`, payload, playerID).Scan(&p.ID, &p.Payload, &p.PlayerID, &p.CreatedAt, &p.ExpiresAt, &p.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Player wallets ---

// ConnectWallet deactivates the player's previous wallets and stores w as
// the active one, atomically.
func (r *WalletRepo) ConnectWallet(ctx context.Context, w *models.PlayerWallet) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE player_wallets SET is_active = false, disconnected_at = now()
			WHERE player_id = $1 AND is_active AND address <> $2
		`, w.PlayerID, w.Address); err != nil {
			return err
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO player_wallets (
				player_id, address, address_friendly, network, public_key,
				proof_timestamp, proof_domain, is_active
			) VALUES ($1, $2, $3, $4, $5, $6, $7, true)
			ON CONFLICT (player_id, address) DO UPDATE SET
				address_friendly = EXCLUDED.address_friendly,
				network = EXCLUDED.network,
				public_key = EXCLUDED.public_key,
				proof_timestamp = EXCLUDED.proof_timestamp,
				proof_domain = EXCLUDED.proof_domain,
				is_active = true,
				disconnected_at = NULL,
				connected_at = now()
			RETURNING id, connected_at, is_active
		`, w.PlayerID, w.Address, w.AddressFriendly, w.Network, w.PublicKey,
			w.ProofTimestamp, w.ProofDomain,
		).Scan(&w.ID, &w.ConnectedAt, &w.IsActive)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE players SET wallet_address = $1 WHERE id = $2`, w.AddressFriendly, w.PlayerID)
		return err
	})
}

func (r *WalletRepo) DisconnectAll(ctx context.Context, playerID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE player_wallets SET is_active = false, disconnected_at = now()
			WHERE player_id = $1 AND is_active
		`, playerID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE players SET wallet_address = NULL WHERE id = $1`, playerID)
		return err
	})
}

func (r *WalletRepo) GetActiveWallet(ctx context.Context, playerID uuid.UUID) (*models.PlayerWallet, error) {
	var w models.PlayerWallet
	err := r.pool.QueryRow(ctx, `
		SELECT id, player_id, address, address_friendly, network, public_key,
		       proof_timestamp, proof_domain, connected_at, disconnected_at, is_active
		FROM player_wallets
		WHERE player_id = $1 AND is_active
		ORDER BY connected_at DESC LIMIT 1
	`, playerID).Scan(
		&w.ID, &w.PlayerID, &w.Address, &w.AddressFriendly, &w.Network, &w.PublicKey,
		&w.ProofTimestamp, &w.ProofDomain, &w.ConnectedAt, &w.DisconnectedAt, &w.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func generateNonce(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
