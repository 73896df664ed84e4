package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/repositories"
	"github.com/clicker-market/bff/internal/settlement"
	"github.com/clicker-market/bff/internal/ton"
	"github.com/clicker-market/bff/internal/wallet"
)

// sessionIdleTTL is how long a session without in-flight payments is kept.
const sessionIdleTTL = time.Hour

var (
	ErrSessionExpired     = errors.New("market session expired, re-authenticate")
	ErrNoPendingSignature = errors.New("no transfer awaiting signature")
)

// PlayerMarket is the market API bound to one player's init data.
type PlayerMarket interface {
	settlement.Market
	Stats(ctx context.Context) (*models.MarketStats, error)
	CreateListing(ctx context.Context, req models.CreateListingRequest) (*models.Listing, error)
}

// MarketFactory binds the market API to a player's init data.
type MarketFactory func(initData string) PlayerMarket

type AdminMarket interface {
	Cleanup(ctx context.Context) (*models.CleanupResult, error)
}

type InitDataStore interface {
	Save(ctx context.Context, playerID uuid.UUID, initData string) error
	InitData(ctx context.Context, playerID uuid.UUID) (string, error)
}

type PendingStore interface {
	settlement.PendingStore
	Players(ctx context.Context) ([]uuid.UUID, error)
}

type AuditStore interface {
	settlement.AuditLog
	History(ctx context.Context, playerID, reservationID uuid.UUID) ([]models.SettlementAudit, error)
}

type BuyerWallets interface {
	GetActiveWallet(ctx context.Context, playerID uuid.UUID) (*models.PlayerWallet, error)
}

type playerSession struct {
	coord    *settlement.Coordinator
	relay    *wallet.RelayBridge
	market   *sessionMarket
	lastUsed time.Time
}

// SettlementService owns one settlement coordinator per player session.
type SettlementService struct {
	newMarket MarketFactory
	admin     AdminMarket
	initData  InitDataStore
	pending   PendingStore
	audit     AuditStore
	wallets   BuyerWallets
	publisher events.Publisher
	stats     *StatsCache
	cfg       settlement.Config
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*playerSession
	baseCtx  context.Context
	now      func() time.Time
}

type SettlementDeps struct {
	NewMarket MarketFactory
	Admin     AdminMarket
	InitData  InitDataStore
	Pending   PendingStore // optional
	Audit     AuditStore   // optional
	Wallets   BuyerWallets // optional
	Publisher events.Publisher
	Stats     *StatsCache
}

func NewSettlementService(deps SettlementDeps, cfg settlement.Config, log *zap.Logger) *SettlementService {
	return &SettlementService{
		newMarket: deps.NewMarket,
		admin:     deps.Admin,
		initData:  deps.InitData,
		pending:   deps.Pending,
		audit:     deps.Audit,
		wallets:   deps.Wallets,
		publisher: deps.Publisher,
		stats:     deps.Stats,
		cfg:       cfg,
		log:       log,
		sessions:  make(map[uuid.UUID]*playerSession),
		baseCtx:   context.Background(),
		now:       time.Now,
	}
}

// BindSession stores fresh init data for the player and rebinds a live session to it.
func (s *SettlementService) BindSession(ctx context.Context, playerID uuid.UUID, initData string) error {
	if err := s.initData.Save(ctx, playerID, initData); err != nil {
		return fmt.Errorf("save init data: %w", err)
	}

	s.mu.Lock()
	sess, ok := s.sessions[playerID]
	s.mu.Unlock()
	if ok {
		sess.market.rebind(s.newMarket(initData))
	}
	return nil
}

func (s *SettlementService) session(ctx context.Context, playerID uuid.UUID) (*playerSession, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[playerID]; ok {
		sess.lastUsed = s.now()
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	initData, err := s.initData.InitData(ctx, playerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load init data: %w", err)
	}

	m := newSessionMarket(s.newMarket(initData))
	relay := wallet.NewRelayBridge(playerID, s.publisher, s.log)
	sess := &playerSession{
		coord:    settlement.NewCoordinator(playerID, m, relay, s.publisher, s.pending, s.audit, s.cfg, s.log),
		relay:    relay,
		market:   m,
		lastUsed: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[playerID]; ok {
		return existing, nil
	}
	s.sessions[playerID] = sess
	return sess, nil
}

// --- Listing Store ---

func (s *SettlementService) Listings(ctx context.Context, playerID uuid.UUID, filter models.ListingFilter) ([]models.Listing, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if _, err := sess.coord.Store().FetchListings(ctx, filter); err != nil {
		return nil, err
	}
	return sess.coord.Store().Visible(), nil
}

func (s *SettlementService) MyListings(ctx context.Context, playerID uuid.UUID) ([]models.Listing, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return sess.coord.Store().FetchOwnListings(ctx)
}

func (s *SettlementService) CreateListing(ctx context.Context, playerID uuid.UUID, req models.CreateListingRequest) (*models.Listing, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return nil, err
	}
	listing, err := sess.market.CreateListing(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := sess.coord.Store().FetchOwnListings(ctx); err != nil {
		s.log.Warn("own listings refresh after create failed", zap.Error(err))
	}
	if s.stats != nil {
		s.stats.Invalidate()
	}
	return listing, nil
}

func (s *SettlementService) CancelListing(ctx context.Context, playerID uuid.UUID, listingID int64) error {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return err
	}
	if err := sess.coord.Store().CancelListing(ctx, listingID); err != nil {
		return err
	}
	if s.stats != nil {
		s.stats.Invalidate()
	}
	return nil
}

func (s *SettlementService) Stats(ctx context.Context, playerID uuid.UUID) (*models.MarketStats, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if s.stats == nil {
		return sess.market.Stats(ctx)
	}
	return s.stats.Get(ctx, sess.market.Stats)
}

// --- Purchase ---

// Purchase reserves listingID and starts the dispatch in the background.
// The reservation is returned as soon as the backend grants it; progress
// is reported through settlement events.
func (s *SettlementService) Purchase(ctx context.Context, playerID uuid.UUID, listingID int64) (*models.Reservation, error) {
	if s.wallets != nil {
		if _, err := s.wallets.GetActiveWallet(ctx, playerID); err != nil {
			return nil, err
		}
	}

	sess, err := s.session(ctx, playerID)
	if err != nil {
		return nil, err
	}

	r, err := sess.coord.InitiatePurchase(ctx, listingID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	go func() {
		if _, err := sess.coord.Dispatch(base, r); err != nil {
			s.log.Info("dispatch ended without payment",
				zap.String("player_id", playerID.String()),
				zap.String("reservation", r.ID.String()),
				zap.Error(err),
			)
		}
	}()
	return r, nil
}

// Transfer returns the transfer awaiting the player's signature.
func (s *SettlementService) Transfer(ctx context.Context, playerID, reservationID uuid.UUID) (ton.TransferRequest, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return ton.TransferRequest{}, err
	}
	t, ok := sess.relay.Transfer(reservationID.String())
	if !ok {
		return ton.TransferRequest{}, ErrNoPendingSignature
	}
	return t, nil
}

// SignResult is what the Mini App posts back after TON Connect returns.
type SignResult struct {
	BOC          string `json:"boc"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error"`
}

func (s *SettlementService) SubmitSignResult(ctx context.Context, playerID, reservationID uuid.UUID, res SignResult) error {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return err
	}
	id := reservationID.String()
	if res.BOC != "" {
		err = sess.relay.Resolve(id, res.BOC)
	} else {
		err = sess.relay.Reject(id, res.ErrorCode, res.ErrorMessage)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoPendingSignature, err)
	}
	return nil
}

func (s *SettlementService) CancelSignature(ctx context.Context, playerID, reservationID uuid.UUID) error {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return err
	}
	if err := sess.relay.Cancel(reservationID.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrNoPendingSignature, err)
	}
	return nil
}

// --- Settlement ---

func (s *SettlementService) Status(ctx context.Context, playerID, reservationID uuid.UUID) (models.SettlementView, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return models.SettlementView{}, err
	}
	return sess.coord.Status(ctx, reservationID)
}

func (s *SettlementService) Pending(ctx context.Context, playerID uuid.UUID) ([]models.PendingPayment, error) {
	sess, err := s.session(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return sess.coord.PendingPayments(), nil
}

func (s *SettlementService) History(ctx context.Context, playerID, reservationID uuid.UUID) ([]models.SettlementAudit, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.History(ctx, playerID, reservationID)
}

func (s *SettlementService) Cleanup(ctx context.Context) (*models.CleanupResult, error) {
	res, err := s.admin.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	if s.stats != nil {
		s.stats.Invalidate()
	}
	return res, nil
}

// --- Background ---

// Recover rebuilds sessions for every player with persisted payments.
// Players whose init data has expired are skipped until they log in again.
func (s *SettlementService) Recover(ctx context.Context) error {
	if s.pending == nil {
		return nil
	}
	players, err := s.pending.Players(ctx)
	if err != nil {
		return fmt.Errorf("list players with pending payments: %w", err)
	}

	var errs []error
	for _, id := range players {
		sess, err := s.session(ctx, id)
		if errors.Is(err, ErrSessionExpired) {
			s.log.Warn("cannot recover payments without init data", zap.String("player_id", id.String()))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := sess.coord.Recover(ctx); err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Run drives reconciliation for every live session until ctx is done and
// uses ctx as the parent of background dispatches.
func (s *SettlementService) Run(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAll(ctx)
		}
	}
}

func (s *SettlementService) pollAll(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*playerSession, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if len(sess.coord.PendingPayments()) == 0 && s.now().Sub(sess.lastUsed) > sessionIdleTTL {
			delete(s.sessions, id)
			continue
		}
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.coord.Poll(ctx); err != nil {
			s.log.Warn("reconciliation pass failed",
				zap.String("player_id", sess.coord.PlayerID().String()),
				zap.Error(err),
			)
		}
	}
}
