package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/wallet"
)

var (
	ErrDispatchInFlight   = errors.New("a payment for this listing is already in flight")
	ErrReservationExpired = errors.New("reservation expired")
	ErrUnknownReservation = errors.New("unknown reservation")
	ErrInvalidTransition  = errors.New("invalid payment state transition")
)

// Market is the slice of the market backend the coordinator needs.
type Market interface {
	ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error)
	MyListings(ctx context.Context) ([]models.Listing, error)
	CancelListing(ctx context.Context, listingID int64) error
	Purchase(ctx context.Context, listingID int64) (*models.Reservation, error)
	CompletePurchase(ctx context.Context, reservationID uuid.UUID, blockchainHash string) (*models.TransactionStatus, error)
	TransactionStatus(ctx context.Context, reservationID uuid.UUID) (*models.TransactionStatus, error)
}

// PendingStore keeps in-flight payments across restarts.
type PendingStore interface {
	Save(ctx context.Context, playerID uuid.UUID, p models.PendingPayment) error
	Delete(ctx context.Context, playerID, reservationID uuid.UUID) error
	List(ctx context.Context, playerID uuid.UUID) ([]models.PendingPayment, error)
}

type AuditLog interface {
	Log(ctx context.Context, entry models.SettlementAudit) error
}

type Config struct {
	PlatformWallet   string
	CommissionBPS    int
	TxValidity       time.Duration
	SignatureWaitMax time.Duration
	Network          string
}

// Coordinator runs the purchase and settlement flow for one player session.
type Coordinator struct {
	playerID  uuid.UUID
	market    Market
	bridge    wallet.Bridge
	publisher events.Publisher
	pending   PendingStore
	audit     AuditLog
	cfg       Config
	log       *zap.Logger
	now       func() time.Time

	store      *Store
	visibility *Visibility

	mu        sync.Mutex
	payments  map[uuid.UUID]*models.PendingPayment
	byListing map[int64]uuid.UUID
}

// NewCoordinator wires a session coordinator. pending and audit may be nil.
func NewCoordinator(
	playerID uuid.UUID,
	m Market,
	bridge wallet.Bridge,
	publisher events.Publisher,
	pending PendingStore,
	audit AuditLog,
	cfg Config,
	log *zap.Logger,
) *Coordinator {
	if cfg.TxValidity <= 0 {
		cfg.TxValidity = 5 * time.Minute
	}
	log = log.With(zap.String("player_id", playerID.String()))
	visibility := NewVisibility()
	return &Coordinator{
		playerID:   playerID,
		market:     m,
		bridge:     bridge,
		publisher:  publisher,
		pending:    pending,
		audit:      audit,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		store:      NewStore(m, visibility, log),
		visibility: visibility,
		payments:   make(map[uuid.UUID]*models.PendingPayment),
		byListing:  make(map[int64]uuid.UUID),
	}
}

func (c *Coordinator) PlayerID() uuid.UUID { return c.playerID }

func (c *Coordinator) Store() *Store { return c.store }

func (c *Coordinator) Visibility() *Visibility { return c.visibility }

func (c *Coordinator) Bridge() wallet.Bridge { return c.bridge }

// InitiatePurchase asks the backend to reserve listingID. A sold listing
// triggers a Browse refresh before the error is returned.
func (c *Coordinator) InitiatePurchase(ctx context.Context, listingID int64) (*models.Reservation, error) {
	c.mu.Lock()
	_, inFlight := c.byListing[listingID]
	c.mu.Unlock()
	if inFlight {
		return nil, ErrDispatchInFlight
	}

	r, err := c.market.Purchase(ctx, listingID)
	if err != nil {
		if errors.Is(err, market.ErrAlreadySold) {
			if rerr := c.store.Refresh(ctx); rerr != nil {
				c.log.Warn("browse refresh after sold listing failed", zap.Int64("listing_id", listingID), zap.Error(rerr))
			}
		}
		return nil, err
	}

	c.log.Info("listing reserved",
		zap.Int64("listing_id", listingID),
		zap.String("reservation", r.ID.String()),
		zap.Time("expires_at", r.ExpiresAt.Time),
	)
	return r, nil
}

// Buy reserves a listing and dispatches its payment in one call.
func (c *Coordinator) Buy(ctx context.Context, listingID int64) (*models.PendingPayment, error) {
	r, err := c.InitiatePurchase(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return c.Dispatch(ctx, r)
}

// PendingPayments lists the non-terminal payments, oldest first.
func (c *Coordinator) PendingPayments() []models.PendingPayment {
	c.mu.Lock()
	out := make([]models.PendingPayment, 0, len(c.payments))
	for _, p := range c.payments {
		out = append(out, *p)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (c *Coordinator) Payment(reservationID uuid.UUID) (models.PendingPayment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.payments[reservationID]
	if !ok {
		return models.PendingPayment{}, false
	}
	return *p, true
}

// register creates the idle record for a new dispatch.
func (c *Coordinator) register(r *models.Reservation) (models.PendingPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byListing[r.ListingID]; ok {
		return models.PendingPayment{}, ErrDispatchInFlight
	}
	if _, ok := c.payments[r.ID]; ok {
		return models.PendingPayment{}, ErrDispatchInFlight
	}

	now := c.now()
	p := &models.PendingPayment{
		ReservationID: r.ID,
		ListingID:     r.ListingID,
		State:         models.PaymentStateIdle,
		ExpiresAt:     r.ExpiresAt.Time,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.payments[r.ID] = p
	c.byListing[r.ListingID] = r.ID
	return *p, nil
}

// adopt tracks a payment recovered from the pending store.
func (c *Coordinator) adopt(p models.PendingPayment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.payments[p.ReservationID]; ok {
		return false
	}
	if _, ok := c.byListing[p.ListingID]; ok {
		return false
	}
	cp := p
	c.payments[p.ReservationID] = &cp
	c.byListing[p.ListingID] = p.ReservationID
	return true
}

// advance moves a payment to state to, applying mutate first. Terminal
// payments are forgotten. Audit and persistence happen outside the lock.
func (c *Coordinator) advance(ctx context.Context, reservationID uuid.UUID, to string, mutate func(*models.PendingPayment), meta map[string]any) (models.PendingPayment, error) {
	c.mu.Lock()
	p, ok := c.payments[reservationID]
	if !ok {
		c.mu.Unlock()
		return models.PendingPayment{}, fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	from := p.State
	if !models.IsValidPaymentTransition(from, to) {
		c.mu.Unlock()
		return *p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if mutate != nil {
		mutate(p)
	}
	p.State = to
	p.UpdatedAt = c.now()
	snapshot := *p
	if snapshot.IsTerminal() {
		delete(c.payments, reservationID)
		if c.byListing[p.ListingID] == reservationID {
			delete(c.byListing, p.ListingID)
		}
	}
	c.mu.Unlock()

	c.record(ctx, from, snapshot, meta)
	return snapshot, nil
}

func (c *Coordinator) record(ctx context.Context, from string, p models.PendingPayment, meta map[string]any) {
	log := c.log.With(
		zap.String("reservation", p.ReservationID.String()),
		zap.Int64("listing_id", p.ListingID),
	)
	log.Info("payment state changed", zap.String("from", from), zap.String("to", p.State))

	if c.pending != nil {
		var err error
		if p.IsTerminal() {
			err = c.pending.Delete(ctx, c.playerID, p.ReservationID)
		} else if p.State != models.PaymentStateIdle {
			err = c.pending.Save(ctx, c.playerID, p)
		}
		if err != nil {
			log.Warn("failed to persist pending payment", zap.Error(err))
		}
	}

	if c.audit != nil {
		playerID := c.playerID
		if meta == nil {
			meta = map[string]any{}
		}
		if p.FailureReason != "" {
			meta["reason"] = p.FailureReason
		}
		if p.MessageHash != "" {
			meta["message_hash"] = p.MessageHash
		}
		err := c.audit.Log(ctx, models.SettlementAudit{
			PlayerID:      &playerID,
			ReservationID: p.ReservationID,
			ListingID:     p.ListingID,
			FromState:     from,
			ToState:       p.State,
			Meta:          meta,
		})
		if err != nil {
			log.Warn("failed to write settlement audit", zap.Error(err))
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType string, payload map[string]any) {
	payload["player_id"] = c.playerID.String()
	if err := c.publisher.Publish(ctx, events.StreamSettlement, events.Event{Type: eventType, Payload: payload}); err != nil {
		c.log.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func paymentPayload(p models.PendingPayment) map[string]any {
	payload := map[string]any{
		"reservation_id": p.ReservationID.String(),
		"listing_id":     p.ListingID,
		"state":          p.State,
	}
	if p.MessageHash != "" {
		payload["message_hash"] = p.MessageHash
	}
	if p.FailureReason != "" {
		payload["reason"] = p.FailureReason
	}
	return payload
}
