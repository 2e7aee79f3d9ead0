package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
)

// ChargeReconciler completes ledger writes for charges the provider has
// already taken.
type ChargeReconciler interface {
	RecordProviderCharge(ctx context.Context, rec ProviderChargeRecord) (recorded bool, err error)
	ReconcileSeller(ctx context.Context, sellerID uuid.UUID) (recorded int, err error)
}

// ProviderChargeRecord is a confirmed provider payment to be written to the
// ledger.
type ProviderChargeRecord struct {
	OrderID         string
	SellerID        string
	PaymentIntentID string
	Amount          int64
	Currency        string
}

type Reconciler struct {
	journal   UnrecordedChargeJournal
	ledger    repository.ChargeLedger
	sellers   repository.SellerRepository
	provider  PaymentProvider
	metrics   MetricsRecorder
	batchSize int32
	logger    *zap.Logger

	// provider sweep, off unless sweepBatch > 0
	sweepMinOrders int64
	sweepBatch     int
}

func NewReconciler(
	journal UnrecordedChargeJournal,
	ledger repository.ChargeLedger,
	sellers repository.SellerRepository,
	provider PaymentProvider,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		journal:   journal,
		ledger:    ledger,
		sellers:   sellers,
		provider:  provider,
		metrics:   metrics,
		batchSize: 25,
		logger:    logger,
	}
}

// RecordProviderCharge writes one provider charge. recorded is false when
// the ledger already had it.
func (r *Reconciler) RecordProviderCharge(ctx context.Context, rec ProviderChargeRecord) (bool, error) {
	orderID, err := uuid.Parse(rec.OrderID)
	if err != nil {
		return false, fmt.Errorf("%w: bad order id %q", ErrInvalidOrder, rec.OrderID)
	}
	sellerID, err := uuid.Parse(rec.SellerID)
	if err != nil {
		return false, fmt.Errorf("%w: bad seller id %q", ErrMissingSeller, rec.SellerID)
	}
	if rec.PaymentIntentID == "" {
		return false, fmt.Errorf("%w: missing payment intent id", ErrInvalidOrder)
	}

	duplicate, err := r.ledger.RecordCharge(ctx, &models.SubscriptionCharge{
		OrderID:         orderID,
		SellerID:        sellerID,
		PaymentIntentID: rec.PaymentIntentID,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
	})
	if err != nil {
		return false, err
	}
	if !duplicate {
		r.logger.Info("Reconciled provider charge into ledger",
			zap.String("order_id", rec.OrderID),
			zap.String("payment_intent_id", rec.PaymentIntentID),
		)
		recordCount(ctx, r.metrics, awspkg.MetricChargesReconciled, nil)
	}
	return !duplicate, nil
}

// DrainJournal records every journaled charge it can and removes the entries
// that made it into the ledger.
func (r *Reconciler) DrainJournal(ctx context.Context) (int, error) {
	if r.journal == nil {
		return 0, nil
	}
	entries, err := r.journal.List(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	var recorded int
	var errs []error
	for _, e := range entries {
		ok, err := r.RecordProviderCharge(ctx, ProviderChargeRecord{
			OrderID:         e.OrderID,
			SellerID:        e.SellerID,
			PaymentIntentID: e.PaymentIntentID,
			Amount:          e.Amount,
			Currency:        e.Currency,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", e.OrderID, err))
			continue
		}
		if ok {
			recorded++
		}
		if err := r.journal.Delete(ctx, e.OrderID); err != nil {
			errs = append(errs, err)
		}
	}
	return recorded, errors.Join(errs...)
}

// ReconcileSeller cross-checks the seller's provider charges against the
// ledger and records any succeeded subscription charge it is missing.
func (r *Reconciler) ReconcileSeller(ctx context.Context, sellerID uuid.UUID) (int, error) {
	seller, err := r.sellers.FindByID(ctx, sellerID)
	if err != nil {
		return 0, err
	}
	customerID := seller.CustomerID()
	if customerID == "" {
		return 0, nil
	}

	charges, err := r.provider.ListSubscriptionCharges(ctx, customerID)
	if err != nil {
		return 0, err
	}

	var recorded int
	var errs []error
	for _, pc := range charges {
		if pc.Status != models.ChargeStatusSucceeded || pc.PaymentIntentID == "" {
			continue
		}
		orderID, err := uuid.Parse(pc.OrderID)
		if err != nil {
			r.logger.Warn("Provider charge without usable order id", zap.String("charge_id", pc.ID))
			continue
		}
		existing, err := r.ledger.FindSucceededCharge(ctx, orderID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil {
			continue
		}
		ok, err := r.RecordProviderCharge(ctx, ProviderChargeRecord{
			OrderID:         pc.OrderID,
			SellerID:        sellerID.String(),
			PaymentIntentID: pc.PaymentIntentID,
			Amount:          pc.Amount,
			Currency:        pc.Currency,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			recorded++
		}
	}
	return recorded, errors.Join(errs...)
}

// WithProviderSweep makes every periodic pass also reconcile up to batch
// sellers with more than minTotalOrders orders and an unflagged order.
func (r *Reconciler) WithProviderSweep(minTotalOrders int64, batch int) *Reconciler {
	r.sweepMinOrders = minTotalOrders
	r.sweepBatch = batch
	return r
}

// SweepSellers runs ReconcileSeller for each seller that may have a charge
// the ledger has not seen. One seller failing does not stop the others.
func (r *Reconciler) SweepSellers(ctx context.Context) (int, error) {
	if r.sweepBatch <= 0 {
		return 0, nil
	}
	ids, err := r.sellers.ListWithUnchargedOrders(ctx, r.sweepMinOrders, r.sweepBatch)
	if err != nil {
		return 0, err
	}

	var recorded int
	var errs []error
	for _, id := range ids {
		n, err := r.ReconcileSeller(ctx, id)
		recorded += n
		if err != nil {
			errs = append(errs, fmt.Errorf("seller %s: %w", id, err))
		}
	}
	return recorded, errors.Join(errs...)
}

// Start drains the journal and, when enabled, sweeps provider charges every
// interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if (r.journal == nil && r.sweepBatch <= 0) || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	n, err := r.DrainJournal(ctx)
	if err != nil {
		r.logger.Error("Journal reconciliation incomplete", zap.Int("recorded", n), zap.Error(err))
	} else if n > 0 {
		r.logger.Info("Journal reconciliation finished", zap.Int("recorded", n))
	}

	n, err = r.SweepSellers(ctx)
	if err != nil {
		r.logger.Error("Provider sweep incomplete", zap.Int("recorded", n), zap.Error(err))
	} else if n > 0 {
		r.logger.Info("Provider sweep finished", zap.Int("recorded", n))
	}
}
