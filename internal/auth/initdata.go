package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataTTL bounds the age of auth_date when no max age is given.
const DefaultInitDataTTL = 5 * time.Minute

type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// InitData is a validated Mini App launch payload. Raw is the original
// query string, forwarded verbatim to the game backend.
type InitData struct {
	Raw      string
	QueryID  string
	User     TelegramUser
	AuthDate time.Time
}

// ValidateInitData checks the Mini App init data signature and freshness.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	if maxAge <= 0 {
		maxAge = DefaultInitDataTTL
	}

	vals, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid initData format: %w", err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return nil, fmt.Errorf("hash is missing from initData")
	}

	authDateStr := vals.Get("auth_date")
	if authDateStr == "" {
		return nil, fmt.Errorf("auth_date is missing from initData")
	}
	authUnix, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("auth_date is not a valid unix timestamp")
	}
	authDate := time.Unix(authUnix, 0)
	if age := now.Sub(authDate); age > maxAge {
		return nil, fmt.Errorf("initData expired: auth_date is %s old (max %s)", age.Round(time.Second), maxAge)
	}
	if authDate.After(now.Add(time.Minute)) {
		return nil, fmt.Errorf("auth_date is in the future")
	}

	want := signInitData(vals, botToken)
	got, err := hex.DecodeString(receivedHash)
	if err != nil || !hmac.Equal(got, want) {
		return nil, fmt.Errorf("invalid hash: data integrity check failed")
	}

	data := &InitData{Raw: raw, QueryID: vals.Get("query_id"), AuthDate: authDate}
	userJSON := vals.Get("user")
	if userJSON == "" {
		return nil, fmt.Errorf("user is missing from initData")
	}
	if err := json.Unmarshal([]byte(userJSON), &data.User); err != nil {
		return nil, fmt.Errorf("invalid user in initData: %w", err)
	}
	if data.User.ID == 0 {
		return nil, fmt.Errorf("user id is missing from initData")
	}
	return data, nil
}

// signInitData computes HMAC-SHA256(data_check_string) keyed with
// HMAC-SHA256("WebAppData", bot_token).
func signInitData(vals url.Values, botToken string) []byte {
	pairs := make([]string, 0, len(vals))
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)

	secret := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hmacSHA256(secret, []byte(strings.Join(pairs, "\n")))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
