package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/ton"
	"github.com/clicker-market/bff/internal/wallet"
)

const (
	testSeller   = "0:1111111111111111111111111111111111111111111111111111111111111111"
	testBuyer    = "0:3333333333333333333333333333333333333333333333333333333333333333"
	testPlatform = "0:2222222222222222222222222222222222222222222222222222222222222222"
)

type fakeMarket struct {
	mu          sync.Mutex
	listings    []models.Listing
	own         []models.Listing
	listCalls   int
	ownCalls    int
	purchaseErr error
	reservation *models.Reservation
	statuses    map[uuid.UUID]*models.TransactionStatus
	statusErr   error
	completeErr error
	completed   []string
	cancelErr   error
}

func newFakeMarket(ids ...int64) *fakeMarket {
	m := &fakeMarket{statuses: make(map[uuid.UUID]*models.TransactionStatus)}
	for _, id := range ids {
		m.listings = append(m.listings, models.Listing{ID: id, PriceNano: 5_000_000_000, SellerWallet: testSeller})
	}
	return m
}

func (m *fakeMarket) ListListings(_ context.Context, _ models.ListingFilter) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]models.Listing(nil), m.listings...), nil
}

func (m *fakeMarket) MyListings(_ context.Context) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownCalls++
	return append([]models.Listing(nil), m.own...), nil
}

func (m *fakeMarket) CancelListing(_ context.Context, listingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.listings = without(m.listings, listingID)
	m.own = without(m.own, listingID)
	return nil
}

func (m *fakeMarket) Purchase(_ context.Context, listingID int64) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.purchaseErr != nil {
		return nil, m.purchaseErr
	}
	r := *m.reservation
	r.ListingID = listingID
	return &r, nil
}

func (m *fakeMarket) CompletePurchase(_ context.Context, id uuid.UUID, hash string) (*models.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	m.completed = append(m.completed, id.String()+":"+hash)
	return &models.TransactionStatus{UUID: id, Status: models.TxStatusPending}, nil
}

func (m *fakeMarket) TransactionStatus(_ context.Context, id uuid.UUID) (*models.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	st, ok := m.statuses[id]
	if !ok {
		return nil, &market.APIError{Op: "transaction status", Kind: market.ErrNotFound}
	}
	cp := *st
	return &cp, nil
}

func (m *fakeMarket) setStatus(st models.TransactionStatus) {
	m.mu.Lock()
	m.statuses[st.UUID] = &st
	m.mu.Unlock()
}

func (m *fakeMarket) removeListing(id int64) {
	m.mu.Lock()
	m.listings = without(m.listings, id)
	m.mu.Unlock()
}

func (m *fakeMarket) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

type bridgeFunc func(ctx context.Context, req ton.TransferRequest) (*wallet.Result, error)

type fakeBridge struct {
	mu   sync.Mutex
	fn   bridgeFunc
	reqs []ton.TransferRequest
}

func (b *fakeBridge) SendTransaction(ctx context.Context, req ton.TransferRequest) (*wallet.Result, error) {
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	fn := b.fn
	b.mu.Unlock()
	return fn(ctx, req)
}

func (b *fakeBridge) requests() []ton.TransferRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ton.TransferRequest(nil), b.reqs...)
}

func signsWith(hash string) bridgeFunc {
	return func(context.Context, ton.TransferRequest) (*wallet.Result, error) {
		return &wallet.Result{MessageHash: hash}, nil
	}
}

func blocksUntilDone(ctx context.Context, _ ton.TransferRequest) (*wallet.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type memPending struct {
	mu        sync.Mutex
	data      map[uuid.UUID]models.PendingPayment
	deleteErr error
}

func newMemPending() *memPending {
	return &memPending{data: make(map[uuid.UUID]models.PendingPayment)}
}

func (s *memPending) Save(_ context.Context, _ uuid.UUID, p models.PendingPayment) error {
	s.mu.Lock()
	s.data[p.ReservationID] = p
	s.mu.Unlock()
	return nil
}

func (s *memPending) Delete(_ context.Context, _, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.data, id)
	return nil
}

func (s *memPending) List(_ context.Context, _ uuid.UUID) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingPayment, 0, len(s.data))
	for _, p := range s.data {
		out = append(out, p)
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.SettlementAudit
}

func (a *memAudit) Log(_ context.Context, e models.SettlementAudit) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *memAudit) transitions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.FromState+"->"+e.ToState)
	}
	return out
}

type harness struct {
	coord   *Coordinator
	market  *fakeMarket
	bridge  *fakeBridge
	pending *memPending
	audit   *memAudit
	events  chan events.Event
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, m *fakeMarket, fn bridgeFunc) *harness {
	t.Helper()
	h := &harness{
		market:  m,
		bridge:  &fakeBridge{fn: fn},
		pending: newMemPending(),
		audit:   &memAudit{},
		events:  make(chan events.Event, 64),
	}
	core, logs := observer.New(zapcore.WarnLevel)
	h.logs = logs
	bus := events.NewLocalBus()
	require.NoError(t, bus.Subscribe(context.Background(), events.StreamSettlement, func(e events.Event) { h.events <- e }))

	h.coord = NewCoordinator(uuid.New(), m, h.bridge, bus, h.pending, h.audit, Config{
		PlatformWallet: testPlatform,
		CommissionBPS:  500,
		TxValidity:     5 * time.Minute,
		Network:        "testnet",
	}, zap.New(core))
	return h
}

func (h *harness) eventTypes() []string {
	var out []string
	for {
		select {
		case e := <-h.events:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func reservationFor(listingID int64, expiresIn time.Duration) *models.Reservation {
	return &models.Reservation{
		ID:           uuid.New(),
		ListingID:    listingID,
		PriceNano:    5_000_000_000,
		SellerWallet: testSeller,
		BuyerWallet:  testBuyer,
		ExpiresAt:    models.Time{Time: time.Now().Add(expiresIn)},
	}
}

func visibleIDs(c *Coordinator) []int64 {
	var ids []int64
	for _, l := range c.Store().Visible() {
		ids = append(ids, l.ID)
	}
	return ids
}
