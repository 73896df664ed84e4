package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clicker-market/bff/internal/models"
)

const pendingPlayersKey = "settlement:pending:players"

// PendingStore persists in-flight payments per player in a redis hash
// keyed by reservation id, plus a set of players that have any.
type PendingStore struct {
	rdb *redis.Client
}

func NewPendingStore(rdb *redis.Client) *PendingStore {
	return &PendingStore{rdb: rdb}
}

func pendingKey(playerID uuid.UUID) string {
	return "settlement:pending:" + playerID.String()
}

func (s *PendingStore) Save(ctx context.Context, playerID uuid.UUID, p models.PendingPayment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending payment: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, pendingKey(playerID), p.ReservationID.String(), data)
		pipe.SAdd(ctx, pendingPlayersKey, playerID.String())
		return nil
	})
	return err
}

func (s *PendingStore) Delete(ctx context.Context, playerID, reservationID uuid.UUID) error {
	key := pendingKey(playerID)
	if err := s.rdb.HDel(ctx, key, reservationID.String()).Err(); err != nil {
		return err
	}
	left, err := s.rdb.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if left == 0 {
		return s.rdb.SRem(ctx, pendingPlayersKey, playerID.String()).Err()
	}
	return nil
}

func (s *PendingStore) List(ctx context.Context, playerID uuid.UUID) ([]models.PendingPayment, error) {
	raw, err := s.rdb.HGetAll(ctx, pendingKey(playerID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.PendingPayment, 0, len(raw))
	for field, v := range raw {
		var p models.PendingPayment
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode pending payment %s: %w", field, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Players lists every player with at least one persisted payment.
func (s *PendingStore) Players(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.rdb.SMembers(ctx, pendingPlayersKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
