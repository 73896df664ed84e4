package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/models"
	"github.com/clicker-market/bff/internal/ton"
	"github.com/clicker-market/bff/internal/wallet"
)

// Dispatch turns reservation r into a two-message transfer and hands it to
// the wallet bridge. It returns once the wallet has broadcast the transfer
// (state submitted) or the dispatch failed. Submission is not settlement:
// confirmation comes from the reconciler.
func (c *Coordinator) Dispatch(ctx context.Context, r *models.Reservation) (*models.PendingPayment, error) {
	p, err := c.register(r)
	if err != nil {
		return nil, err
	}
	log := c.log.With(
		zap.String("reservation", r.ID.String()),
		zap.Int64("listing_id", r.ListingID),
	)

	now := c.now()
	if r.Expired(now) {
		return c.fail(ctx, p, models.FailureExpired, ErrReservationExpired)
	}

	payment, err := ton.PaymentForReservation(r, c.cfg.CommissionBPS)
	if err != nil {
		return c.fail(ctx, p, models.FailureInvalid, err)
	}

	validUntil := now.Add(c.cfg.TxValidity)
	transfer, err := ton.BuildPurchaseTransfer(payment, c.cfg.PlatformWallet, validUntil)
	if err != nil {
		return c.fail(ctx, p, models.FailureInvalid, err)
	}
	transfer.Network = ton.NetworkID(c.cfg.Network)
	transfer.From = r.BuyerWallet

	p, err = c.advance(ctx, r.ID, models.PaymentStateAwaitingSignature, func(pp *models.PendingPayment) {
		pp.ValidUntil = validUntil
	}, map[string]any{
		"seller_nanoton":     payment.SellerNano,
		"commission_nanoton": payment.CommissionNano,
	})
	if err != nil {
		return nil, err
	}

	deadline := c.signatureDeadline(now, validUntil, r)
	signCtx, cancel := context.WithDeadline(wallet.WithRequestID(ctx, r.ID.String()), deadline)
	defer cancel()

	log.Info("awaiting wallet signature",
		zap.String("seller_nanoton", transfer.Messages[0].Amount),
		zap.String("commission_nanoton", transfer.Messages[1].Amount),
		zap.Time("deadline", deadline),
	)

	res, err := c.bridge.SendTransaction(signCtx, transfer)
	if err != nil {
		reason, kind := classifyBridgeError(err)
		return c.fail(ctx, p, reason, fmt.Errorf("%w: %v", kind, err))
	}
	if res == nil || res.MessageHash == "" {
		return c.fail(ctx, p, models.FailureWallet, fmt.Errorf("%w: wallet returned no message", wallet.ErrBridge))
	}

	p, err = c.advance(ctx, r.ID, models.PaymentStateSubmitted, func(pp *models.PendingPayment) {
		pp.MessageHash = res.MessageHash
	}, nil)
	if err != nil {
		return nil, err
	}

	c.visibility.Hide(r.ListingID)
	c.publish(ctx, events.EventPaymentSubmitted, paymentPayload(p))
	log.Info("payment submitted", zap.String("message_hash", res.MessageHash))

	if err := c.Complete(ctx, r.ID, res.MessageHash); err != nil {
		// The reconciler retries the report on its next pass.
		log.Warn("failed to report message hash", zap.Error(err))
	}

	if cur, ok := c.Payment(r.ID); ok {
		p = cur
	}
	return &p, nil
}

// signatureDeadline bounds the wait by validUntil, the reservation expiry
// and the configured maximum, whichever comes first.
func (c *Coordinator) signatureDeadline(now, validUntil time.Time, r *models.Reservation) time.Time {
	deadline := validUntil
	if !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(deadline) {
		deadline = r.ExpiresAt.Time
	}
	if c.cfg.SignatureWaitMax > 0 {
		if limit := now.Add(c.cfg.SignatureWaitMax); limit.Before(deadline) {
			deadline = limit
		}
	}
	return deadline
}

func classifyBridgeError(err error) (reason string, kind error) {
	switch {
	case errors.Is(err, wallet.ErrUserDeclined), errors.Is(err, context.Canceled):
		return models.FailureDeclined, wallet.ErrUserDeclined
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailureExpired, ErrReservationExpired
	default:
		return models.FailureWallet, wallet.ErrBridge
	}
}

// fail terminates a dispatch: the listing is unhidden and Browse refreshed
// so it reappears for the player.
func (c *Coordinator) fail(ctx context.Context, p models.PendingPayment, reason string, cause error) (*models.PendingPayment, error) {
	// ctx may be the one whose cancellation caused the failure.
	ctx = context.WithoutCancel(ctx)

	failed, err := c.advance(ctx, p.ReservationID, models.PaymentStateFailed, func(pp *models.PendingPayment) {
		pp.FailureReason = reason
	}, map[string]any{"error": cause.Error()})
	if err != nil {
		return nil, errors.Join(cause, err)
	}

	c.visibility.Unhide(p.ListingID)
	c.publish(ctx, events.EventPaymentFailed, paymentPayload(failed))

	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.store.Refresh(refreshCtx); err != nil {
		c.log.Warn("browse refresh after failed payment", zap.Int64("listing_id", p.ListingID), zap.Error(err))
	} else {
		c.publish(ctx, events.EventListingsChanged, map[string]any{"listing_id": p.ListingID})
	}

	c.log.Info("payment failed",
		zap.String("reservation", p.ReservationID.String()),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	return &failed, cause
}
