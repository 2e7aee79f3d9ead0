package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
)

// PaymentGateway moves the subscription fee for one order.
type PaymentGateway interface {
	Charge(ctx context.Context, sellerID, orderID uuid.UUID) (*ChargeResult, error)
}

type ChargeResult struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	IdempotencyKey  string
}

// IdempotencyKey is stable for a (seller, order) pair so every retry of the
// same charge collapses to one provider-side payment.
func IdempotencyKey(sellerID, orderID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", models.ChargeTypeSubscription, sellerID, orderID)
}

// SubscriptionGateway charges the seller's default payment method off-session.
type SubscriptionGateway struct {
	sellers  repository.SellerRepository
	provider PaymentProvider
	fee      int64
	currency string
	logger   *zap.Logger
}

func NewSubscriptionGateway(sellers repository.SellerRepository, provider PaymentProvider, fee int64, currency string, logger *zap.Logger) *SubscriptionGateway {
	return &SubscriptionGateway{
		sellers:  sellers,
		provider: provider,
		fee:      fee,
		currency: currency,
		logger:   logger,
	}
}

func (g *SubscriptionGateway) Charge(ctx context.Context, sellerID, orderID uuid.UUID) (*ChargeResult, error) {
	seller, err := g.sellers.FindByID(ctx, sellerID)
	if errors.Is(err, repository.ErrSellerNotFound) {
		return nil, fmt.Errorf("%w: seller %s not found", ErrMissingSeller, sellerID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	customerID := seller.CustomerID()
	if customerID == "" {
		return nil, newGatewayError(KindNoPaymentMethod, fmt.Errorf("seller %s has no payment method set up", sellerID))
	}

	paymentMethodID, err := g.provider.DefaultPaymentMethod(ctx, customerID)
	if err != nil {
		return nil, err
	}

	key := IdempotencyKey(sellerID, orderID)
	payment, err := g.provider.CreateOffSessionCharge(ctx, OffSessionCharge{
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
		Amount:          g.fee,
		Currency:        g.currency,
		Description:     "Subscription fee for order " + orderID.String()[:8],
		IdempotencyKey:  key,
		Metadata: map[string]string{
			"seller_id": sellerID.String(),
			"order_id":  orderID.String(),
			"type":      models.ChargeTypeSubscription,
		},
	})
	if err != nil {
		return nil, err
	}
	if payment.Status != "succeeded" {
		return nil, newGatewayError(KindUnknown, fmt.Errorf("payment intent %s ended in status %s", payment.PaymentIntentID, payment.Status))
	}

	return &ChargeResult{
		PaymentIntentID: payment.PaymentIntentID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		IdempotencyKey:  key,
	}, nil
}

// RetryingGateway bounds each attempt with a timeout and retries retryable
// failures with exponential backoff. Every attempt reuses the same
// idempotency key, so a retry after a lost response returns the original
// payment instead of creating a new one.
type RetryingGateway struct {
	next        PaymentGateway
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
	logger      *zap.Logger
}

func NewRetryingGateway(next PaymentGateway, maxAttempts int, timeout, backoff time.Duration, logger *zap.Logger) *RetryingGateway {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingGateway{next: next, maxAttempts: maxAttempts, timeout: timeout, backoff: backoff, logger: logger}
}

func (g *RetryingGateway) Charge(ctx context.Context, sellerID, orderID uuid.UUID) (*ChargeResult, error) {
	var lastErr error
	delay := g.backoff
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		res, err := g.attempt(ctx, sellerID, orderID)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var gwErr *GatewayError
		if !errors.As(err, &gwErr) || !gwErr.Retryable || attempt == g.maxAttempts {
			break
		}
		g.logger.Warn("Retrying subscription charge",
			zap.String("order_id", orderID.String()),
			zap.Int("attempt", attempt),
			zap.String("kind", string(gwErr.Kind)),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (g *RetryingGateway) attempt(ctx context.Context, sellerID, orderID uuid.UUID) (*ChargeResult, error) {
	if g.timeout <= 0 {
		return g.next.Charge(ctx, sellerID, orderID)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.next.Charge(attemptCtx, sellerID, orderID)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) || gwErr.Kind != KindTimeout {
			return nil, newGatewayError(KindTimeout, err)
		}
	}
	return res, err
}
