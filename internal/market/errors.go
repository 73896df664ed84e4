package market

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. Every error returned by Client wraps exactly one of them,
// except context errors which are returned as is.
var (
	ErrNetwork     = errors.New("market backend unreachable")
	ErrServer      = errors.New("market backend error")
	ErrValidation  = errors.New("invalid request")
	ErrReserved    = errors.New("listing is currently reserved")
	ErrAlreadySold = errors.New("listing already sold")
	ErrNotFound    = errors.New("not found")
	ErrRejected    = errors.New("request rejected")
)

type APIError struct {
	Op         string
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Kind }

// Retryable reports whether the caller may simply try again later.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer) || errors.Is(err, ErrReserved)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return ErrServer
	default:
		return ErrRejected
	}
}

// classifyPurchase narrows a failed purchase into the two conflict kinds the
// UI must tell apart. The backend signals them through status and message.
func classifyPurchase(status int, message string) error {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "reserved"):
		return ErrReserved
	case strings.Contains(msg, "sold"),
		strings.Contains(msg, "not available"),
		strings.Contains(msg, "not active"),
		strings.Contains(msg, "no longer"),
		status == http.StatusNotFound,
		status == http.StatusGone:
		return ErrAlreadySold
	case status == http.StatusConflict:
		return ErrReserved
	case status == 0:
		if strings.Contains(msg, "wallet") || strings.Contains(msg, "own listing") || strings.Contains(msg, "invalid") {
			return ErrValidation
		}
		return ErrRejected
	default:
		return classifyStatus(status)
	}
}
