package services

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/clicker-market/bff/internal/models"
)

// sessionMarket lets a live coordinator pick up refreshed init data
// without being rebuilt.
type sessionMarket struct {
	mu sync.RWMutex
	m  PlayerMarket
}

func newSessionMarket(m PlayerMarket) *sessionMarket {
	return &sessionMarket{m: m}
}

func (s *sessionMarket) rebind(m PlayerMarket) {
	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
}

func (s *sessionMarket) current() PlayerMarket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

func (s *sessionMarket) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	return s.current().ListListings(ctx, filter)
}

func (s *sessionMarket) MyListings(ctx context.Context) ([]models.Listing, error) {
	return s.current().MyListings(ctx)
}

func (s *sessionMarket) Stats(ctx context.Context) (*models.MarketStats, error) {
	return s.current().Stats(ctx)
}

func (s *sessionMarket) CreateListing(ctx context.Context, req models.CreateListingRequest) (*models.Listing, error) {
	return s.current().CreateListing(ctx, req)
}

func (s *sessionMarket) CancelListing(ctx context.Context, listingID int64) error {
	return s.current().CancelListing(ctx, listingID)
}

func (s *sessionMarket) Purchase(ctx context.Context, listingID int64) (*models.Reservation, error) {
	return s.current().Purchase(ctx, listingID)
}

func (s *sessionMarket) CompletePurchase(ctx context.Context, reservationID uuid.UUID, blockchainHash string) (*models.TransactionStatus, error) {
	return s.current().CompletePurchase(ctx, reservationID, blockchainHash)
}

func (s *sessionMarket) TransactionStatus(ctx context.Context, reservationID uuid.UUID) (*models.TransactionStatus, error) {
	return s.current().TransactionStatus(ctx, reservationID)
}
