package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, AdminToken: "admin-secret"}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListListingsQueryAndAuth(t *testing.T) {
	minPrice := int64(1_000_000_000)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/listings", r.URL.Path)
		assert.Equal(t, "tma query_id=1&user=2", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Admin-Token"), "player requests carry no admin token")

		q := r.URL.Query()
		assert.Equal(t, "Dragon", q.Get("character_filter"))
		assert.Equal(t, "1000000000", q.Get("min_price_nanoton"))
		assert.Equal(t, "price_asc", q.Get("sort_by"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.False(t, q.Has("max_price_nanoton") || q.Has("offset"), "absent options are not sent: %s", r.URL.RawQuery)

		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 2, "character_name": "Dragon", "price_nanoton": 2_000_000_000},
			{"id": 1, "character_name": "Dragon", "price_nanoton": 1_000_000_000},
		})
	})

	listings, err := c.ForPlayer("query_id=1&user=2").ListListings(context.Background(), models.ListingFilter{
		CharacterName: "Dragon",
		MinPriceNano:  &minPrice,
		SortBy:        models.SortPriceAsc,
		Limit:         20,
	})
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.EqualValues(t, 2, listings[0].ID, "backend order preserved")
	assert.EqualValues(t, 1, listings[1].ID)
}

func TestListListingsWrappedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "listings": []map[string]any{{"id": 5}}})
	})
	listings, err := c.ListListings(context.Background(), models.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.EqualValues(t, 5, listings[0].ID)
}

func TestListingsAcceptNaiveCreatedAt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "price_nanoton": 1_000_000_000, "created_at": "2025-03-01T12:00:00.123456"},
			{"id": 2, "price_nanoton": 2_000_000_000, "created_at": "2025-03-01T13:00:00Z"},
		})
	})

	want := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	fetches := map[string]func() ([]models.Listing, error){
		"browse":      func() ([]models.Listing, error) { return c.ListListings(context.Background(), models.ListingFilter{}) },
		"my listings": func() ([]models.Listing, error) { return c.MyListings(context.Background()) },
	}
	for name, fetch := range fetches {
		t.Run(name, func(t *testing.T) {
			listings, err := fetch()
			require.NoError(t, err)
			require.Len(t, listings, 2)
			assert.True(t, listings[0].CreatedAt.Equal(want), "created_at = %s", listings[0].CreatedAt.Time)
			assert.Equal(t, 13, listings[1].CreatedAt.Hour())
		})
	}
}

func TestListListingsValidationBeforeNetwork(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	minP, maxP := int64(10), int64(5)
	tests := []models.ListingFilter{
		{SortBy: "cheapest"},
		{Limit: 1000},
		{Offset: -1},
		{MinPriceNano: &minP, MaxPriceNano: &maxP},
	}
	for _, f := range tests {
		_, err := c.ListListings(context.Background(), f)
		assert.ErrorIs(t, err, ErrValidation, "filter %+v", f)
	}
	assert.False(t, called, "invalid filters never reach the backend")
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"server error", http.StatusInternalServerError, map[string]string{"detail": "boom"}, ErrServer},
		{"bad gateway", http.StatusBadGateway, "upstream", ErrServer},
		{"validation", http.StatusUnprocessableEntity, map[string]any{"detail": []string{"bad"}}, ErrValidation},
		{"unauthorized", http.StatusUnauthorized, map[string]string{"detail": "bad init data"}, ErrRejected},
		{"not found", http.StatusNotFound, map[string]string{"detail": "nope"}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tt.status, tt.body) })
			_, err := c.MyListings(context.Background())
			require.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{BaseURL: url, Timeout: time.Second}, zap.NewNop())
	_, err := c.Stats(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
	assert.True(t, Retryable(err), "network errors are retryable")
}

func TestPurchase(t *testing.T) {
	resID := uuid.New()

	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
	}{
		{
			name:   "payment required",
			status: http.StatusOK,
			body: map[string]any{
				"success":          true,
				"payment_required": true,
				"transaction_details": map[string]any{
					"transaction_uuid":   resID.String(),
					"listing_id":         7,
					"price_nanoton":      5_000_000_000,
					"commission_nanoton": 250_000_000,
					"seller_wallet":      "0:11",
					"buyer_wallet":       "0:22",
					"expires_at":         "2025-03-01T12:30:00",
				},
			},
		},
		{"reserved by status", http.StatusConflict, map[string]string{"detail": "conflict"}, ErrReserved},
		{"reserved by message", http.StatusBadRequest, map[string]string{"detail": "Listing is currently reserved by another buyer"}, ErrReserved},
		{"already sold", http.StatusBadRequest, map[string]string{"detail": "Listing already sold"}, ErrAlreadySold},
		{"listing gone", http.StatusNotFound, map[string]string{"detail": "Listing not found"}, ErrAlreadySold},
		{"success false reserved", http.StatusOK, map[string]any{"success": false, "error": "Listing is reserved"}, ErrReserved},
		{"success false not available", http.StatusOK, map[string]any{"success": false, "error": "Listing not available"}, ErrAlreadySold},
		{"success false other", http.StatusOK, map[string]any{"success": false, "error": "Cannot buy"}, ErrRejected},
		{"success without details", http.StatusOK, map[string]any{"success": true}, ErrServer},
		{"server", http.StatusInternalServerError, map[string]string{"detail": "db down"}, ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]int64
				_ = json.NewDecoder(r.Body).Decode(&body)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/market/purchase", r.URL.Path)
				assert.EqualValues(t, 7, body["listing_id"])
				writeJSON(w, tt.status, tt.body)
			})

			res, err := c.Purchase(context.Background(), 7)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, resID, res.ID)
			assert.EqualValues(t, 7, res.ListingID)
			assert.EqualValues(t, 5_000_000_000, res.PriceNano)
			require.NotNil(t, res.CommissionNano)
			assert.EqualValues(t, 250_000_000, *res.CommissionNano)
			assert.Nil(t, res.SellerAmountNano, "backend sends no seller amount")
			want := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
			assert.True(t, res.ExpiresAt.Equal(want), "expires_at = %s", res.ExpiresAt.Time)
		})
	}
}

func TestCancelListing(t *testing.T) {
	cancelled := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/market/listings/3", r.URL.Path)
		if cancelled {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Listing not found or not active"})
			return
		}
		cancelled = true
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Listing cancelled"})
	})

	require.NoError(t, c.CancelListing(context.Background(), 3))
	require.ErrorIs(t, c.CancelListing(context.Background(), 3), ErrRejected, "second cancel fails")
	require.ErrorIs(t, c.CancelListing(context.Background(), 0), ErrValidation)
}

func TestCreateListingValidation(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "listing": map[string]any{"id": 9, "price_nanoton": 1}})
	})

	_, err := c.CreateListing(context.Background(), models.CreateListingRequest{UserCharacterID: 4, PriceNano: 0})
	require.ErrorIs(t, err, ErrValidation)
	require.False(t, called, "price below one nanoton is rejected locally")

	l, err := c.CreateListing(context.Background(), models.CreateListingRequest{UserCharacterID: 4, PriceNano: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 9, l.ID)
}

func TestTransactionStatus(t *testing.T) {
	id := uuid.New()
	hash := "abcd"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/market/transactions/"+id.String()+"/status" {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Transaction not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"transaction": map[string]any{
				"uuid": id.String(), "status": "completed", "listing_id": 7,
				"expires_at": "2025-03-01T12:30:00", "time_remaining_seconds": 0,
				"blockchain_hash": hash,
			},
		})
	})

	st, err := c.TransactionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, st.Status)
	require.NotNil(t, st.BlockchainHash)
	assert.Equal(t, hash, *st.BlockchainHash)

	_, err = c.TransactionStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound, "unknown reservation")
}

func TestCompletePurchase(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, id.String(), body["transaction_uuid"])
		assert.Equal(t, "feed", body["blockchain_hash"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "transaction": map[string]any{"uuid": id.String(), "status": "completed"}})
	})

	st, err := c.CompletePurchase(context.Background(), id, "feed")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, st.Status)

	_, err = c.CompletePurchase(context.Background(), id, "")
	assert.ErrorIs(t, err, ErrValidation, "empty hash")
}

func TestCleanupUsesAdminToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Token") != "admin-secret" {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "forbidden"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "expired_count": 3, "message": "Cleaned up 3"})
	})

	res, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExpiredCount)

	_, err = c.ForPlayer("x").Cleanup(context.Background())
	assert.ErrorIs(t, err, ErrValidation, "player clients cannot run cleanup")
}
