package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clicker-market/bff/internal/models"
)

var ErrNotFound = errors.New("not found")

type PlayerRepo struct {
	pool *pgxpool.Pool
}

func NewPlayerRepo(pool *pgxpool.Pool) *PlayerRepo {
	return &PlayerRepo{pool: pool}
}

const playerColumns = `id, telegram_user_id, username, first_name, wallet_address, created_at, last_active_at`

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	err := row.Scan(&p.ID, &p.TelegramUserID, &p.Username, &p.FirstName, &p.WalletAddress, &p.CreatedAt, &p.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertByTelegramID creates the player on first login and refreshes the
// profile fields Telegram sent on later ones.
func (r *PlayerRepo) UpsertByTelegramID(ctx context.Context, telegramID int64, username, firstName *string) (*models.Player, error) {
	return scanPlayer(r.pool.QueryRow(ctx, `
		INSERT INTO players (telegram_user_id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_user_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, players.username),
			first_name = COALESCE(EXCLUDED.first_name, players.first_name),
			last_active_at = now()
		RETURNING `+playerColumns, telegramID, username, firstName))
}

func (r *PlayerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	return scanPlayer(r.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
}

func (r *PlayerRepo) SetWalletAddress(ctx context.Context, id uuid.UUID, address *string) error {
	_, err := r.pool.Exec(ctx, `UPDATE players SET wallet_address = $1 WHERE id = $2`, address, id)
	return err
}
