package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clicker-market/bff/internal/events"
	"github.com/clicker-market/bff/internal/market"
	"github.com/clicker-market/bff/internal/models"
)

// Status reports where a reservation stands. A reservation past its expiry
// without an on-chain hash is expired, whatever the backend still says.
func (c *Coordinator) Status(ctx context.Context, reservationID uuid.UUID) (models.SettlementView, error) {
	view := models.SettlementView{ReservationID: reservationID}

	st, err := c.market.TransactionStatus(ctx, reservationID)
	if err != nil {
		if errors.Is(err, market.ErrNotFound) {
			view.State = models.SettlementNotFound
			return view, nil
		}
		return view, err
	}

	view.ListingID = st.ListingID
	hash := ""
	if st.BlockchainHash != nil {
		hash = *st.BlockchainHash
	}

	switch st.Status {
	case models.TxStatusCompleted, models.TxStatusConfirmed:
		view.State = models.SettlementConfirmed
		view.BlockchainHash = hash
		if view.BlockchainHash == "" {
			if p, ok := c.Payment(reservationID); ok {
				view.BlockchainHash = p.MessageHash
			}
		}
	case models.TxStatusExpired, models.TxStatusCancelled, models.TxStatusFailed:
		view.State = models.SettlementExpired
	default:
		now := c.now()
		expired := !st.ExpiresAt.IsZero() && !now.Before(st.ExpiresAt.Time)
		if expired && hash == "" {
			view.State = models.SettlementExpired
			break
		}
		view.State = models.SettlementPending
		view.BlockchainHash = hash
		view.RemainingSeconds = remainingSeconds(now, st)
	}
	return view, nil
}

func remainingSeconds(now time.Time, st *models.TransactionStatus) int {
	if !st.ExpiresAt.IsZero() {
		if d := st.ExpiresAt.Sub(now); d > 0 {
			return int(d.Seconds())
		}
		return 0
	}
	if st.TimeRemainingSeconds > 0 {
		return st.TimeRemainingSeconds
	}
	return 0
}

// Complete reports the broadcast message hash to the backend.
func (c *Coordinator) Complete(ctx context.Context, reservationID uuid.UUID, messageHash string) error {
	if _, err := c.market.CompletePurchase(ctx, reservationID, messageHash); err != nil {
		return fmt.Errorf("complete purchase %s: %w", reservationID, err)
	}

	c.mu.Lock()
	p, ok := c.payments[reservationID]
	if ok {
		p.HashReported = true
	}
	var snapshot models.PendingPayment
	if ok {
		snapshot = *p
	}
	c.mu.Unlock()

	if ok && c.pending != nil {
		if err := c.pending.Save(ctx, c.playerID, snapshot); err != nil {
			c.log.Warn("failed to persist reported hash", zap.String("reservation", reservationID.String()), zap.Error(err))
		}
	}
	return nil
}

// Poll runs one reconciliation pass over submitted payments.
func (c *Coordinator) Poll(ctx context.Context) error {
	var errs []error
	for _, p := range c.PendingPayments() {
		if p.State != models.PaymentStateSubmitted {
			continue
		}
		if err := c.reconcile(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("reservation %s: %w", p.ReservationID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) reconcile(ctx context.Context, p models.PendingPayment) error {
	if !p.HashReported && p.MessageHash != "" {
		if err := c.Complete(ctx, p.ReservationID, p.MessageHash); err != nil {
			c.log.Debug("hash report retry failed", zap.String("reservation", p.ReservationID.String()), zap.Error(err))
		}
	}

	view, err := c.Status(ctx, p.ReservationID)
	if err != nil {
		return err
	}

	switch view.State {
	case models.SettlementConfirmed:
		confirmed, err := c.advance(ctx, p.ReservationID, models.PaymentStateConfirmed, func(pp *models.PendingPayment) {
			if view.BlockchainHash != "" {
				pp.MessageHash = view.BlockchainHash
			}
		}, nil)
		if err != nil {
			return ignoreGone(err)
		}
		c.publish(ctx, events.EventPaymentConfirmed, paymentPayload(confirmed))
		// The listing stays hidden until this fetch no longer returns it.
		c.refreshBrowse(ctx, p.ListingID)
		return nil

	case models.SettlementExpired, models.SettlementNotFound:
		reason := models.FailureExpired
		if view.State == models.SettlementNotFound {
			reason = models.FailureNotFound
		}
		failed, err := c.advance(ctx, p.ReservationID, models.PaymentStateFailed, func(pp *models.PendingPayment) {
			pp.FailureReason = reason
		}, nil)
		if err != nil {
			return ignoreGone(err)
		}
		c.visibility.Unhide(p.ListingID)
		c.publish(ctx, events.EventPaymentFailed, paymentPayload(failed))
		c.refreshBrowse(ctx, p.ListingID)
		return nil
	}
	return nil
}

func (c *Coordinator) refreshBrowse(ctx context.Context, listingID int64) {
	if err := c.store.Refresh(ctx); err != nil {
		c.log.Warn("browse refresh failed", zap.Int64("listing_id", listingID), zap.Error(err))
		return
	}
	c.publish(ctx, events.EventListingsChanged, map[string]any{"listing_id": listingID})
}

// ignoreGone drops errors caused by a concurrent terminal transition.
func ignoreGone(err error) error {
	if errors.Is(err, ErrUnknownReservation) || errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

// Run polls on every tick until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil {
				c.log.Warn("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// Recover reloads the session's persisted payments after a restart.
// Submitted payments resume reconciliation with their listing hidden; a
// signature request cannot survive a restart, so those are failed.
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.pending == nil {
		return nil
	}

	saved, err := c.pending.List(ctx, c.playerID)
	if err != nil {
		return fmt.Errorf("load pending payments: %w", err)
	}

	recovered := 0
	for _, p := range saved {
		if p.IsTerminal() {
			if err := c.pending.Delete(ctx, c.playerID, p.ReservationID); err != nil {
				c.log.Warn("drop terminal pending payment failed",
					zap.String("reservation", p.ReservationID.String()), zap.Error(err))
			}
			continue
		}
		if !c.adopt(p) {
			continue
		}
		switch p.State {
		case models.PaymentStateSubmitted:
			c.visibility.Hide(p.ListingID)
			recovered++
		default:
			if _, err := c.advance(ctx, p.ReservationID, models.PaymentStateFailed, func(pp *models.PendingPayment) {
				pp.FailureReason = models.FailureWallet
			}, map[string]any{"error": "signature request lost on restart"}); err != nil {
				c.log.Warn("failed to close stale payment", zap.Error(err))
			}
		}
	}

	if recovered == 0 {
		return nil
	}
	c.log.Info("recovered pending payments", zap.Int("count", recovered))
	return c.Poll(ctx)
}
