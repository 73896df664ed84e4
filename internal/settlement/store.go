package settlement

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/models"
)

// Store caches the Browse and My-Listings views for one session.
type Store struct {
	market     Market
	visibility *Visibility
	log        *zap.Logger

	mu         sync.RWMutex
	browse     []models.Listing
	own        []models.Listing
	lastFilter models.ListingFilter
}

func NewStore(market Market, visibility *Visibility, log *zap.Logger) *Store {
	return &Store{
		market:     market,
		visibility: visibility,
		log:        log,
	}
}

// FetchListings loads Browse from the backend. Errors are returned as is
// and leave the cache untouched.
func (s *Store) FetchListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	listings, err := s.market.ListListings(ctx, filter)
	if err != nil {
		return nil, err
	}

	s.visibility.Supersede(listings)

	s.mu.Lock()
	s.browse = listings
	s.lastFilter = filter
	s.mu.Unlock()

	return listings, nil
}

func (s *Store) FetchOwnListings(ctx context.Context) ([]models.Listing, error) {
	listings, err := s.market.MyListings(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.own = listings
	s.mu.Unlock()

	return listings, nil
}

// Refresh re-runs the last Browse query.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	filter := s.lastFilter
	s.mu.RUnlock()

	_, err := s.FetchListings(ctx, filter)
	return err
}

// CancelListing withdraws an own listing and re-fetches both views so that
// Browse and My-Listings agree.
func (s *Store) CancelListing(ctx context.Context, listingID int64) error {
	if err := s.market.CancelListing(ctx, listingID); err != nil {
		return fmt.Errorf("cancel listing %d: %w", listingID, err)
	}

	s.mu.Lock()
	s.browse = without(s.browse, listingID)
	s.own = without(s.own, listingID)
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("browse refresh after cancel failed", zap.Int64("listing_id", listingID), zap.Error(err))
	}
	if _, err := s.FetchOwnListings(ctx); err != nil {
		s.log.Warn("own listings refresh after cancel failed", zap.Int64("listing_id", listingID), zap.Error(err))
	}
	return nil
}

// Visible is the cached Browse list minus locally hidden listings.
func (s *Store) Visible() []models.Listing {
	s.mu.RLock()
	browse := s.browse
	s.mu.RUnlock()
	return s.visibility.Filter(browse)
}

func (s *Store) Own() []models.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Listing(nil), s.own...)
}

func without(listings []models.Listing, id int64) []models.Listing {
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if l.ID != id {
			out = append(out, l)
		}
	}
	return out
}
