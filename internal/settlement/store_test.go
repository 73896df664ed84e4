package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/models"
)

func TestVisibilitySupersede(t *testing.T) {
	req := require.New(t)
	v := NewVisibility()
	v.Hide(1)
	v.Hide(2)
	v.Hide(3)

	v.Supersede([]models.Listing{{ID: 2}, {ID: 4}})
	req.Equal([]int64{2}, v.IDs())

	v.Unhide(2)
	v.Unhide(2)
	req.Empty(v.IDs())
}

func TestVisibilityFilterKeepsOrder(t *testing.T) {
	v := NewVisibility()
	v.Hide(2)
	got := v.Filter([]models.Listing{{ID: 3}, {ID: 2}, {ID: 1}})
	require.Equal(t, []models.Listing{{ID: 3}, {ID: 1}}, got)
}

func TestStoreCancelListingRefreshesBothViews(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := newFakeMarket(1, 2)
	m.own = []models.Listing{{ID: 2}}
	s := NewStore(m, NewVisibility(), zap.NewNop())

	_, err := s.FetchListings(ctx, models.ListingFilter{SortBy: models.SortNewest})
	req.NoError(err)
	_, err = s.FetchOwnListings(ctx)
	req.NoError(err)

	req.NoError(s.CancelListing(ctx, 2))
	req.Equal(2, m.listCalls)
	req.Equal(2, m.ownCalls)
	req.Len(s.Visible(), 1)
	req.Empty(s.Own())
}

func TestStoreCancelListingFailureLeavesCache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := newFakeMarket(1, 2)
	m.own = []models.Listing{{ID: 2}}
	m.cancelErr = &market.APIError{Op: "cancel listing", Kind: market.ErrRejected, Message: "Listing has an active reservation"}
	s := NewStore(m, NewVisibility(), zap.NewNop())
	_, _ = s.FetchListings(ctx, models.ListingFilter{})
	_, _ = s.FetchOwnListings(ctx)

	err := s.CancelListing(ctx, 2)
	req.ErrorIs(err, market.ErrRejected)
	req.Len(s.Visible(), 2)
	req.Len(s.Own(), 1)
	req.Equal(1, m.listCalls)
}
