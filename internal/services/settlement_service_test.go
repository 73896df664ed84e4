package services

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/repositories"
	"github.com/clicker-market/bff/internal/settlement"
)

const (
	testSeller   = "0:1111111111111111111111111111111111111111111111111111111111111111"
	testPlatform = "0:2222222222222222222222222222222222222222222222222222222222222222"
	testBuyer    = "0:3333333333333333333333333333333333333333333333333333333333333333"
)

type stubMarket struct {
	mu         sync.Mutex
	initData   string
	listings   []models.Listing
	statsCalls int
	completed  []string
	statuses   map[uuid.UUID]*models.TransactionStatus
}

func (m *stubMarket) ListListings(context.Context, models.ListingFilter) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Listing(nil), m.listings...), nil
}

func (m *stubMarket) MyListings(context.Context) ([]models.Listing, error) { return nil, nil }

func (m *stubMarket) Stats(context.Context) (*models.MarketStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsCalls++
	return &models.MarketStats{ActiveListings: int64(len(m.listings))}, nil
}

func (m *stubMarket) CreateListing(_ context.Context, req models.CreateListingRequest) (*models.Listing, error) {
	return &models.Listing{ID: 99, UserCharacterID: req.UserCharacterID, PriceNano: req.PriceNano}, nil
}

func (m *stubMarket) CancelListing(context.Context, int64) error { return nil }

func (m *stubMarket) Purchase(_ context.Context, listingID int64) (*models.Reservation, error) {
	return &models.Reservation{
		ID:           uuid.New(),
		ListingID:    listingID,
		PriceNano:    10_000_000_000,
		SellerWallet: testSeller,
		BuyerWallet:  testBuyer,
		ExpiresAt:    models.Time{Time: time.Now().Add(5 * time.Minute)},
	}, nil
}

func (m *stubMarket) CompletePurchase(_ context.Context, id uuid.UUID, hash string) (*models.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id.String()+":"+hash)
	return &models.TransactionStatus{UUID: id, Status: models.TxStatusPending}, nil
}

func (m *stubMarket) TransactionStatus(_ context.Context, id uuid.UUID) (*models.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[id]; ok {
		return st, nil
	}
	return nil, &market.APIError{Op: "transaction status", Kind: market.ErrNotFound}
}

type memInitData struct {
	mu   sync.Mutex
	data map[uuid.UUID]string
}

func (s *memInitData) Save(_ context.Context, id uuid.UUID, initData string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = initData
	return nil
}

func (s *memInitData) InitData(_ context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[id]
	if !ok {
		return "", repositories.ErrNotFound
	}
	return v, nil
}

type noWallet struct{}

func (noWallet) GetActiveWallet(context.Context, uuid.UUID) (*models.PlayerWallet, error) {
	return nil, ErrWalletNotConnected
}

type serviceHarness struct {
	svc     *SettlementService
	markets map[string]*stubMarket
	events  chan events.Event
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	h := &serviceHarness{markets: make(map[string]*stubMarket), events: make(chan events.Event, 16)}
	bus := events.NewLocalBus()
	require.NoError(t, bus.Subscribe(context.Background(), events.StreamSettlement, func(e events.Event) {
		h.events <- e
	}))

	var mu sync.Mutex
	h.svc = NewSettlementService(SettlementDeps{
		NewMarket: func(initData string) PlayerMarket {
			mu.Lock()
			defer mu.Unlock()
			m := &stubMarket{
				initData: initData,
				listings: []models.Listing{{ID: 1, PriceNano: 10_000_000_000}, {ID: 2, PriceNano: 1}},
				statuses: make(map[uuid.UUID]*models.TransactionStatus),
			}
			h.markets[initData] = m
			return m
		},
		InitData:  &memInitData{data: make(map[uuid.UUID]string)},
		Publisher: bus,
		Stats:     NewStatsCache(time.Minute, zap.NewNop()),
	}, settlement.Config{
		PlatformWallet: testPlatform,
		CommissionBPS:  500,
		TxValidity:     5 * time.Minute,
	}, zap.NewNop())
	return h
}

func (h *serviceHarness) waitFor(t *testing.T, eventType string) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == eventType {
				return e
			}
		case <-timeout:
			require.FailNowf(t, "event not published", "no %s event", eventType)
		}
	}
}

func signedBOC(t *testing.T) string {
	t.Helper()
	c := cell.BeginCell().MustStoreUInt(0xdeadbeef, 32).EndCell()
	return base64.StdEncoding.EncodeToString(c.ToBOC())
}

func TestSessionRequiresInitData(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.Listings(context.Background(), uuid.New(), models.ListingFilter{})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestPurchaseRelaysSignatureAndSubmits(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	player := uuid.New()
	require.NoError(t, h.svc.BindSession(ctx, player, "init-a"))

	r, err := h.svc.Purchase(ctx, player, 1)
	require.NoError(t, err)

	ev := h.waitFor(t, events.EventSignRequest)
	require.Equal(t, player.String(), ev.PlayerID())

	transfer, err := h.svc.Transfer(ctx, player, r.ID)
	require.NoError(t, err)
	require.Len(t, transfer.Messages, 2)
	require.Equal(t, "9500000000", transfer.Messages[0].Amount)
	require.Equal(t, "500000000", transfer.Messages[1].Amount)

	require.NoError(t, h.svc.SubmitSignResult(ctx, player, r.ID, SignResult{BOC: signedBOC(t)}))
	h.waitFor(t, events.EventPaymentSubmitted)

	require.Eventually(t, func() bool {
		m := h.markets["init-a"]
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.completed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	listings, err := h.svc.Listings(ctx, player, models.ListingFilter{})
	require.NoError(t, err)
	for _, l := range listings {
		require.NotEqual(t, int64(1), l.ID, "submitted listing must stay hidden")
	}
}

func TestCancelSignatureFailsPayment(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	player := uuid.New()
	require.NoError(t, h.svc.BindSession(ctx, player, "init-a"))

	r, err := h.svc.Purchase(ctx, player, 1)
	require.NoError(t, err)
	h.waitFor(t, events.EventSignRequest)

	require.NoError(t, h.svc.CancelSignature(ctx, player, r.ID))
	ev := h.waitFor(t, events.EventPaymentFailed)
	require.Equal(t, models.FailureDeclined, ev.Payload["reason"])

	require.ErrorIs(t, h.svc.CancelSignature(ctx, player, r.ID), ErrNoPendingSignature)
}

func TestPurchaseRequiresConnectedWallet(t *testing.T) {
	h := newServiceHarness(t)
	h.svc.wallets = noWallet{}
	player := uuid.New()
	require.NoError(t, h.svc.BindSession(context.Background(), player, "init-a"))

	_, err := h.svc.Purchase(context.Background(), player, 1)
	require.ErrorIs(t, err, ErrWalletNotConnected)
}

func TestBindSessionRebindsLiveSession(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	player := uuid.New()
	require.NoError(t, h.svc.BindSession(ctx, player, "init-a"))
	_, err := h.svc.Stats(ctx, player)
	require.NoError(t, err)

	require.NoError(t, h.svc.BindSession(ctx, player, "init-b"))
	_, err = h.svc.MyListings(ctx, player)
	require.NoError(t, err)

	sess, err := h.svc.session(ctx, player)
	require.NoError(t, err)
	require.Equal(t, "init-b", sess.market.current().(*stubMarket).initData)
}

func TestStatsAreCached(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	player := uuid.New()
	require.NoError(t, h.svc.BindSession(ctx, player, "init-a"))

	for i := 0; i < 3; i++ {
		stats, err := h.svc.Stats(ctx, player)
		require.NoError(t, err)
		require.Equal(t, int64(2), stats.ActiveListings)
	}
	require.Equal(t, 1, h.markets["init-a"].statsCalls)

	_, err := h.svc.CreateListing(ctx, player, models.CreateListingRequest{UserCharacterID: 7, PriceNano: 1})
	require.NoError(t, err)
	_, err = h.svc.Stats(ctx, player)
	require.NoError(t, err)
	require.Equal(t, 2, h.markets["init-a"].statsCalls)
}

func TestPollAllEvictsIdleSessions(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	player := uuid.New()
	require.NoError(t, h.svc.BindSession(ctx, player, "init-a"))
	_, err := h.svc.Pending(ctx, player)
	require.NoError(t, err)

	h.svc.now = func() time.Time { return time.Now().Add(2 * sessionIdleTTL) }
	h.svc.pollAll(ctx)

	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	require.Empty(t, h.svc.sessions)
}
