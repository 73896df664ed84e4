package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clicker-market/bff/internal/models"
)

// AuditRepo stores one row per pending payment transition.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, e models.SettlementAudit) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settlement_audit (player_id, reservation_id, listing_id, from_state, to_state, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.PlayerID, e.ReservationID, e.ListingID, e.FromState, e.ToState, e.Meta)
	return err
}

// History returns a player's transitions for one reservation, oldest first.
func (r *AuditRepo) History(ctx context.Context, playerID, reservationID uuid.UUID) ([]models.SettlementAudit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, player_id, reservation_id, listing_id, from_state, to_state, meta, created_at
		FROM settlement_audit WHERE reservation_id = $1 AND player_id = $2
		ORDER BY created_at
	`, reservationID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SettlementAudit
	for rows.Next() {
		var e models.SettlementAudit
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.ReservationID, &e.ListingID, &e.FromState, &e.ToState, &e.Meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
