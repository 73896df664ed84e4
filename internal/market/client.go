package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clicker-market/bff/internal/models"
)

const maxErrorBody = 4 << 10

var validate = validator.New()

// Client talks to the game backend's /market API. A Client bound to a
// player (see ForPlayer) authenticates with the player's Telegram init data.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	adminToken string
	initData   string
	log        *zap.Logger
}

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RPS        float64
	Burst      int
	AdminToken string
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		adminToken: cfg.AdminToken,
		log:        log,
	}
}

// ForPlayer returns a client that acts on behalf of the player identified by
// initData. The HTTP client and the rate limiter are shared; the admin token
// is not.
func (c *Client) ForPlayer(initData string) *Client {
	cp := *c
	cp.initData = initData
	cp.adminToken = ""
	return &cp
}

// ListListings fetches active listings, ordered by the backend.
func (c *Client) ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	if err := validateFilter(f); err != nil {
		return nil, &APIError{Op: "list listings", Kind: ErrValidation, Message: err.Error()}
	}

	q := url.Values{}
	if f.CharacterName != "" {
		q.Set("character_filter", f.CharacterName)
	}
	if f.MinPriceNano != nil {
		q.Set("min_price_nanoton", strconv.FormatInt(*f.MinPriceNano, 10))
	}
	if f.MaxPriceNano != nil {
		q.Set("max_price_nanoton", strconv.FormatInt(*f.MaxPriceNano, 10))
	}
	if f.SortBy != "" {
		q.Set("sort_by", f.SortBy)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var raw json.RawMessage
	if err := c.do(ctx, "list listings", http.MethodGet, "/market/listings", q, nil, &raw); err != nil {
		return nil, err
	}
	return decodeListings("list listings", raw)
}

func (c *Client) MyListings(ctx context.Context) ([]models.Listing, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "my listings", http.MethodGet, "/market/my-listings", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeListings("my listings", raw)
}

func (c *Client) Stats(ctx context.Context) (*models.MarketStats, error) {
	var stats models.MarketStats
	if err := c.do(ctx, "stats", http.MethodGet, "/market/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) CreateListing(ctx context.Context, req models.CreateListingRequest) (*models.Listing, error) {
	const op = "create listing"
	if err := validate.Struct(req); err != nil {
		return nil, &APIError{Op: op, Kind: ErrValidation, Message: err.Error()}
	}

	var resp models.CreateListingResult
	if err := c.do(ctx, op, http.MethodPost, "/market/listings", nil, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Listing == nil {
		return nil, &APIError{Op: op, Kind: ErrRejected, Message: resp.Error}
	}
	return resp.Listing, nil
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CancelListing withdraws a listing the player owns. The backend refuses
// while a reservation is active against it.
func (c *Client) CancelListing(ctx context.Context, listingID int64) error {
	const op = "cancel listing"
	if listingID <= 0 {
		return &APIError{Op: op, Kind: ErrValidation, Message: "listing id must be positive"}
	}

	var resp cancelResponse
	path := fmt.Sprintf("/market/listings/%d", listingID)
	if err := c.do(ctx, op, http.MethodDelete, path, nil, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{Op: op, Kind: ErrRejected, Message: firstNonEmpty(resp.Error, resp.Message)}
	}
	return nil
}

// Purchase reserves a listing for the player. A nil error always carries a
// reservation with payment details.
func (c *Client) Purchase(ctx context.Context, listingID int64) (*models.Reservation, error) {
	const op = "purchase"
	if listingID <= 0 {
		return nil, &APIError{Op: op, Kind: ErrValidation, Message: "listing id must be positive"}
	}

	var resp models.PurchaseResponse
	body := map[string]int64{"listing_id": listingID}
	if err := c.do(ctx, op, http.MethodPost, "/market/purchase", nil, body, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
			apiErr.Kind = classifyPurchase(apiErr.StatusCode, apiErr.Message)
		}
		return nil, err
	}

	if !resp.Success {
		return nil, &APIError{Op: op, Kind: classifyPurchase(0, resp.Error), Message: resp.Error}
	}
	if resp.TransactionDetails == nil || resp.TransactionDetails.ID == uuid.Nil {
		return nil, &APIError{Op: op, Kind: ErrServer, Message: "success without transaction details"}
	}

	r := resp.TransactionDetails
	if r.ListingID == 0 {
		r.ListingID = listingID
	}
	return r, nil
}

// CompletePurchase reports the broadcast message hash for a reservation.
func (c *Client) CompletePurchase(ctx context.Context, reservationID uuid.UUID, blockchainHash string) (*models.TransactionStatus, error) {
	const op = "complete purchase"
	if blockchainHash == "" {
		return nil, &APIError{Op: op, Kind: ErrValidation, Message: "blockchain hash is required"}
	}

	var resp models.CompletePurchaseResponse
	body := map[string]string{
		"transaction_uuid": reservationID.String(),
		"blockchain_hash":  blockchainHash,
	}
	if err := c.do(ctx, op, http.MethodPost, "/market/complete-purchase", nil, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		kind := ErrRejected
		if strings.Contains(strings.ToLower(resp.Error), "expired") {
			kind = ErrNotFound
		}
		return nil, &APIError{Op: op, Kind: kind, Message: resp.Error}
	}
	return resp.Transaction, nil
}

type statusResponse struct {
	Success     bool                      `json:"success"`
	Error       string                    `json:"error"`
	Transaction *models.TransactionStatus `json:"transaction"`
}

func (c *Client) TransactionStatus(ctx context.Context, reservationID uuid.UUID) (*models.TransactionStatus, error) {
	const op = "transaction status"

	var resp statusResponse
	path := "/market/transactions/" + reservationID.String() + "/status"
	if err := c.do(ctx, op, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Transaction == nil {
		kind := ErrRejected
		if resp.Transaction == nil || strings.Contains(strings.ToLower(resp.Error), "not found") {
			kind = ErrNotFound
		}
		return nil, &APIError{Op: op, Kind: kind, Message: resp.Error}
	}
	return resp.Transaction, nil
}

// Cleanup runs the administrative sweep of expired reservations.
func (c *Client) Cleanup(ctx context.Context) (*models.CleanupResult, error) {
	const op = "cleanup"
	if c.adminToken == "" {
		return nil, &APIError{Op: op, Kind: ErrValidation, Message: "admin token is not configured"}
	}

	var resp models.CleanupResult
	if err := c.do(ctx, op, http.MethodPost, "/market/transactions/cleanup", nil, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{Op: op, Kind: ErrRejected, Message: resp.Message}
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.initData != "" {
		req.Header.Set("Authorization", "tma "+c.initData)
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Op: op, Kind: ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	c.log.Debug("market request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Op:         op,
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, Kind: ErrServer, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

func decodeListings(op string, raw json.RawMessage) ([]models.Listing, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []models.Listing{}, nil
	}

	var listings []models.Listing
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &listings); err != nil {
			return nil, &APIError{Op: op, Kind: ErrServer, Message: "decode listings: " + err.Error()}
		}
		return listings, nil
	}

	var wrapped struct {
		Success  *bool            `json:"success"`
		Error    string           `json:"error"`
		Listings []models.Listing `json:"listings"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, &APIError{Op: op, Kind: ErrServer, Message: "decode listings: " + err.Error()}
	}
	if wrapped.Success != nil && !*wrapped.Success {
		return nil, &APIError{Op: op, Kind: ErrRejected, Message: wrapped.Error}
	}
	if wrapped.Listings == nil {
		wrapped.Listings = []models.Listing{}
	}
	return wrapped.Listings, nil
}

func validateFilter(f models.ListingFilter) error {
	if err := validate.Struct(f); err != nil {
		return err
	}
	if f.MinPriceNano != nil && f.MaxPriceNano != nil && *f.MinPriceNano > *f.MaxPriceNano {
		return fmt.Errorf("min price %d exceeds max price %d", *f.MinPriceNano, *f.MaxPriceNano)
	}
	return nil
}

// errorMessage pulls a human readable message out of an error body:
// {"error": ...}, {"detail": ...} or {"message": ...}; falls back to text.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		detail := ""
		switch d := e.Detail.(type) {
		case string:
			detail = d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				detail = string(b)
			}
		}
		if msg := firstNonEmpty(e.Error, detail, e.Message); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
