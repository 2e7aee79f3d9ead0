package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
	"github.com/Receptionally/firewood-marketplace/services/common/logger"
)

type ChargeState string

const (
	StateUnknown        ChargeState = "UNKNOWN"
	StateChecking       ChargeState = "CHECKING"
	StateAlreadyCharged ChargeState = "ALREADY_CHARGED"
	StateCharging       ChargeState = "CHARGING"
	StateCharged        ChargeState = "CHARGED"
	StateFailed         ChargeState = "FAILED"
)

// ChargeOutcome is where the state machine stopped for one order.
type ChargeOutcome struct {
	OrderID         uuid.UUID            `json:"orderId"`
	State           ChargeState          `json:"state"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	Status          models.PaymentStatus `json:"paymentStatus"`
}

// Unlocked is true only for confirmed CHARGED or ALREADY_CHARGED.
func (o *ChargeOutcome) Unlocked() bool {
	return o != nil && (o.State == StateCharged || o.State == StateAlreadyCharged)
}

// SubscriptionCharger is the single entry point every caller uses to read or
// drive an order's subscription charge.
type SubscriptionCharger interface {
	CheckStatus(ctx context.Context, orderID uuid.UUID) (*ChargeOutcome, error)
	Charge(ctx context.Context, orderID uuid.UUID) (*ChargeOutcome, error)
}

// OrchestratorDeps wires a ChargeOrchestrator. Locker, Journal, Events and
// Metrics are optional.
type OrchestratorDeps struct {
	Oracle   *PaymentStatusOracle
	Gateway  PaymentGateway
	Ledger   repository.ChargeLedger
	Orders   repository.OrderRepository
	Locker   OrderLocker
	Journal  UnrecordedChargeJournal
	Events   *EventPublisher
	Metrics  MetricsRecorder
	Fee      int64
	Currency string
	// RecordTimeout bounds the ledger write after a successful charge.
	RecordTimeout time.Duration
}

type ChargeOrchestrator struct {
	deps   OrchestratorDeps
	group  singleflight.Group
	logger *zap.Logger
}

func NewChargeOrchestrator(deps OrchestratorDeps, logger *zap.Logger) *ChargeOrchestrator {
	if deps.RecordTimeout <= 0 {
		deps.RecordTimeout = 10 * time.Second
	}
	return &ChargeOrchestrator{deps: deps, logger: logger}
}

// CheckStatus asks the Oracle and, when it reports charged, brings the
// order's flag up to date. It never charges.
func (o *ChargeOrchestrator) CheckStatus(ctx context.Context, orderID uuid.UUID) (*ChargeOutcome, error) {
	check, err := o.deps.Oracle.GetStatus(ctx, orderID)
	if err != nil {
		return &ChargeOutcome{OrderID: orderID, State: StateUnknown}, err
	}
	if check.Result == Charged {
		o.syncFlag(ctx, orderID)
		return &ChargeOutcome{
			OrderID:         orderID,
			State:           StateAlreadyCharged,
			PaymentIntentID: check.Status.PaymentIntentID,
			Status:          check.Status,
		}, nil
	}
	return &ChargeOutcome{OrderID: orderID, State: StateUnknown, Status: check.Status}, nil
}

// Charge drives the order to CHARGED or ALREADY_CHARGED. Concurrent calls
// for the same order inside this process share one execution.
func (o *ChargeOrchestrator) Charge(ctx context.Context, orderID uuid.UUID) (*ChargeOutcome, error) {
	if orderID == uuid.Nil {
		return &ChargeOutcome{OrderID: orderID, State: StateFailed}, fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}

	v, err, shared := o.group.Do(orderID.String(), func() (interface{}, error) {
		return o.charge(ctx, orderID)
	})
	if shared {
		logger.For(ctx, o.logger).Debug("Joined in-flight charge", zap.String("order_id", orderID.String()))
	}

	outcome, _ := v.(*ChargeOutcome)
	if outcome == nil {
		return &ChargeOutcome{OrderID: orderID, State: StateFailed}, err
	}
	copied := *outcome
	return &copied, err
}

func (o *ChargeOrchestrator) charge(ctx context.Context, orderID uuid.UUID) (*ChargeOutcome, error) {
	log := logger.For(ctx, o.logger).With(zap.String("order_id", orderID.String()))
	failed := &ChargeOutcome{OrderID: orderID, State: StateFailed}

	order, err := o.deps.Orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return failed, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return failed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if done, outcome, err := o.check(ctx, order); done {
		return outcome, err
	}

	if order.SellerID == uuid.Nil {
		return failed, fmt.Errorf("%w: order %s", ErrMissingSeller, orderID)
	}

	if o.deps.Locker != nil {
		release, acquired, err := o.deps.Locker.TryLock(ctx, orderID)
		switch {
		case err != nil:
			log.Warn("Order lock unavailable, relying on idempotency key", zap.Error(err))
		case !acquired:
			return &ChargeOutcome{OrderID: orderID, State: StateCharging}, ErrChargeInProgress
		default:
			defer release()
		}
	}

	// Double check right before moving money; another caller may have just
	// finished.
	if done, outcome, err := o.check(ctx, order); done {
		return outcome, err
	}

	// From here on the work must finish even if the caller goes away.
	detached := context.WithoutCancel(ctx)
	sellerID := order.SellerID.String()
	log = log.With(zap.String("seller_id", sellerID), zap.String("state", string(StateCharging)))

	start := time.Now()
	result, err := o.deps.Gateway.Charge(detached, order.SellerID, orderID)
	recordLatency(detached, o.deps.Metrics, awspkg.MetricGatewayLatency, time.Since(start), nil)
	if err != nil {
		log.Error("Subscription charge failed", zap.Error(err))
		o.recordFailure(detached, order, err)
		recordCount(detached, o.deps.Metrics, awspkg.MetricSubscriptionChargeFailed, nil)
		o.deps.Events.Publish(detached, models.BillingEvent{
			Type:     models.EventChargeFailed,
			OrderID:  orderID.String(),
			SellerID: sellerID,
			Amount:   o.deps.Fee,
			Currency: o.deps.Currency,
			Error:    err.Error(),
		})
		return failed, err
	}

	charge := &models.SubscriptionCharge{
		OrderID:         orderID,
		SellerID:        order.SellerID,
		PaymentIntentID: result.PaymentIntentID,
		Amount:          result.Amount,
		Currency:        result.Currency,
	}
	recordCtx, cancel := context.WithTimeout(detached, o.deps.RecordTimeout)
	duplicate, err := o.deps.Ledger.RecordCharge(recordCtx, charge)
	cancel()
	if err != nil {
		log.Error("Charge succeeded but ledger write failed",
			zap.String("payment_intent_id", result.PaymentIntentID),
			zap.Error(err),
		)
		o.journalUnrecorded(detached, order, result, err)
		recordCount(detached, o.deps.Metrics, awspkg.MetricSubscriptionUnrecorded, nil)
		o.deps.Events.Publish(detached, models.BillingEvent{
			Type:            models.EventChargeUnrecorded,
			OrderID:         orderID.String(),
			SellerID:        sellerID,
			PaymentIntentID: result.PaymentIntentID,
			Amount:          result.Amount,
			Currency:        result.Currency,
			Error:           err.Error(),
		})
		return &ChargeOutcome{OrderID: orderID, State: StateFailed, PaymentIntentID: result.PaymentIntentID},
			fmt.Errorf("%w: payment intent %s: %v", ErrChargeUnrecorded, result.PaymentIntentID, err)
	}

	log.Info("Subscription charge recorded",
		zap.String("payment_intent_id", result.PaymentIntentID),
		zap.Bool("duplicate", duplicate),
	)
	recordCount(detached, o.deps.Metrics, awspkg.MetricSubscriptionCharged, nil)
	o.deps.Events.Publish(detached, models.BillingEvent{
		Type:            models.EventChargeSucceeded,
		OrderID:         orderID.String(),
		SellerID:        sellerID,
		PaymentIntentID: result.PaymentIntentID,
		Amount:          result.Amount,
		Currency:        result.Currency,
	})

	processedAt := charge.CreatedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	return &ChargeOutcome{
		OrderID:         orderID,
		State:           StateCharged,
		PaymentIntentID: result.PaymentIntentID,
		Status: models.PaymentStatus{
			IsCharged:       true,
			PaymentIntentID: result.PaymentIntentID,
			Amount:          result.Amount,
			ProcessedAt:     &processedAt,
		},
	}, nil
}

// check runs the CHECKING step. done is true when the state machine stops
// here, either ALREADY_CHARGED or FAILED because the Oracle is unavailable.
func (o *ChargeOrchestrator) check(ctx context.Context, order *models.Order) (bool, *ChargeOutcome, error) {
	st, err := o.deps.Oracle.GetStatus(ctx, order.ID)
	if err != nil {
		return true, &ChargeOutcome{OrderID: order.ID, State: StateFailed}, err
	}
	if st.Result != Charged {
		return false, nil, nil
	}
	if !order.SubscriptionChargeProcessed {
		o.syncFlag(ctx, order.ID)
	}
	recordCount(ctx, o.deps.Metrics, awspkg.MetricSubscriptionAlreadyCharge, nil)
	return true, &ChargeOutcome{
		OrderID:         order.ID,
		State:           StateAlreadyCharged,
		PaymentIntentID: st.Status.PaymentIntentID,
		Status:          st.Status,
	}, nil
}

// syncFlag sets the projection flag after the Oracle confirmed a ledger row.
func (o *ChargeOrchestrator) syncFlag(ctx context.Context, orderID uuid.UUID) {
	if err := o.deps.Orders.MarkChargeProcessed(ctx, orderID); err != nil {
		logger.For(ctx, o.logger).Warn("Failed to sync subscription flag",
			zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// recordFailure leaves a seller-visible marker once the gateway has given up
// on a charge, whatever the failure kind. Its own errors are logged and
// dropped.
func (o *ChargeOrchestrator) recordFailure(ctx context.Context, order *models.Order, chargeErr error) {
	reason := string(KindUnknown)
	var gwErr *GatewayError
	if errors.As(chargeErr, &gwErr) {
		reason = string(gwErr.Kind)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	orderID := order.ID
	if err := o.deps.Ledger.RecordFailedCharge(ctx, &models.FailedCharge{
		SellerID: order.SellerID,
		OrderID:  &orderID,
		Amount:   o.deps.Fee,
		Reason:   reason,
	}); err != nil {
		o.logger.Warn("Failed to record failed charge marker",
			zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

func (o *ChargeOrchestrator) journalUnrecorded(ctx context.Context, order *models.Order, result *ChargeResult, cause error) {
	if o.deps.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := o.deps.Journal.Put(ctx, models.UnrecordedCharge{
		OrderID:         order.ID.String(),
		SellerID:        order.SellerID.String(),
		PaymentIntentID: result.PaymentIntentID,
		Amount:          result.Amount,
		Currency:        result.Currency,
		Error:           cause.Error(),
	}); err != nil {
		o.logger.Error("Failed to journal unrecorded charge",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_intent_id", result.PaymentIntentID),
			zap.Error(err),
		)
	}
}
