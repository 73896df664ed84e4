package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/ton"
)

type relayOutcome struct {
	result *Result
	err    error
}

type relayRequest struct {
	transfer  ton.TransferRequest
	createdAt time.Time
	done      chan relayOutcome
}

// RelayBridge forwards transfers to the player's Mini App, where TON Connect
// signs them, and waits for the UI to post the outcome back. Outcomes must be
// posted to the same process that issued the request.
type RelayBridge struct {
	playerID  uuid.UUID
	publisher events.Publisher
	log       *zap.Logger

	mu      sync.Mutex
	pending map[string]*relayRequest
}

func NewRelayBridge(playerID uuid.UUID, publisher events.Publisher, log *zap.Logger) *RelayBridge {
	return &RelayBridge{
		playerID:  playerID,
		publisher: publisher,
		log:       log.With(zap.String("player_id", playerID.String())),
		pending:   make(map[string]*relayRequest),
	}
}

func (b *RelayBridge) SendTransaction(ctx context.Context, req ton.TransferRequest) (*Result, error) {
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}

	r := &relayRequest{
		transfer:  req,
		createdAt: time.Now(),
		done:      make(chan relayOutcome, 1),
	}

	b.mu.Lock()
	if _, exists := b.pending[id]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: request %s already awaiting signature", ErrBridge, id)
	}
	b.pending[id] = r
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	err := b.publisher.Publish(ctx, events.StreamSettlement, events.Event{
		Type: events.EventSignRequest,
		Payload: map[string]any{
			"player_id":      b.playerID.String(),
			"reservation_id": id,
			"transfer":       req,
		},
	})
	if err != nil {
		// The UI can still pick the request up through the transfer endpoint.
		b.log.Warn("failed to publish sign request", zap.String("request_id", id), zap.Error(err))
	}

	select {
	case out := <-r.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Transfer returns the request awaiting signature under id.
func (b *RelayBridge) Transfer(id string) (ton.TransferRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.pending[id]
	if !ok {
		return ton.TransferRequest{}, false
	}
	return r.transfer, true
}

// Resolve completes request id with the signed external message BOC.
func (b *RelayBridge) Resolve(id, boc string) error {
	hash, err := ton.MessageHashFromBOC(boc)
	if err != nil {
		return b.finish(id, relayOutcome{err: fmt.Errorf("%w: bad boc from wallet: %v", ErrBridge, err)})
	}
	return b.finish(id, relayOutcome{result: &Result{BOC: boc, MessageHash: hash}})
}

// Reject completes request id with a TON Connect error.
func (b *RelayBridge) Reject(id string, code int, message string) error {
	kind := ErrBridge
	if code == codeUserRejects {
		kind = ErrUserDeclined
	}
	return b.finish(id, relayOutcome{err: fmt.Errorf("%w: %s", kind, message)})
}

// Cancel is the player closing the signing prompt.
func (b *RelayBridge) Cancel(id string) error {
	return b.finish(id, relayOutcome{err: ErrUserDeclined})
}

func (b *RelayBridge) finish(id string, out relayOutcome) error {
	b.mu.Lock()
	r, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("no transfer awaiting signature for %s", id)
	}
	r.done <- out
	return nil
}
