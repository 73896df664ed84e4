package wallet

import (
	"context"
	"errors"

	"github.com/clicker-market/bff/internal/ton"
)

var (
	// ErrUserDeclined: the player rejected the transfer in the wallet UI
	// or closed it before signing.
	ErrUserDeclined = errors.New("transaction declined by user")
	// ErrBridge: the wallet or its transport failed.
	ErrBridge = errors.New("wallet bridge error")
)

// TON Connect error code for a user rejection.
const codeUserRejects = 300

// Result of a signed and broadcast transfer.
type Result struct {
	BOC         string `json:"boc,omitempty"`
	MessageHash string `json:"message_hash"`
}

// Bridge signs and broadcasts a transfer. Implementations block until the
// outcome is known or ctx is done, in which case ctx.Err() is returned.
type Bridge interface {
	SendTransaction(ctx context.Context, req ton.TransferRequest) (*Result, error)
}

type requestIDKey struct{}

// WithRequestID tags ctx with the id a relayed request is tracked under.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
