package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

// PaymentProvider is the external payment processor.
type PaymentProvider interface {
	DefaultPaymentMethod(ctx context.Context, customerID string) (string, error)
	CreateOffSessionCharge(ctx context.Context, req OffSessionCharge) (*ProviderPayment, error)
	ListSubscriptionCharges(ctx context.Context, customerID string) ([]models.ProviderCharge, error)
}

// OffSessionCharge is a create-and-confirm request against a stored method.
type OffSessionCharge struct {
	CustomerID      string
	PaymentMethodID string
	Amount          int64
	Currency        string
	Description     string
	IdempotencyKey  string
	Metadata        map[string]string
}

type ProviderPayment struct {
	PaymentIntentID string
	Status          string
	Amount          int64
	Currency        string
}

const stripeListLimit = 100

// StripeProvider implements PaymentProvider on a dedicated Stripe client.
type StripeProvider struct {
	api    *client.API
	logger *zap.Logger
}

// NewStripeProvider builds a client whose HTTP calls are bounded by timeout.
// Stripe's own network retries are off; RetryingGateway owns retries.
func NewStripeProvider(apiKey string, timeout time.Duration, logger *zap.Logger) *StripeProvider {
	httpClient := &http.Client{Timeout: timeout}
	backendConfig := func() *stripe.BackendConfig {
		return &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		}
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig()),
	}
	return &StripeProvider{api: client.New(apiKey, backends), logger: logger}
}

func (p *StripeProvider) DefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return "", translateStripeError(err)
	}
	if cust.Deleted {
		return "", newGatewayError(KindCustomerNotFound, fmt.Errorf("customer %s is deleted", customerID))
	}
	if cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil || cust.InvoiceSettings.DefaultPaymentMethod.ID == "" {
		return "", newGatewayError(KindNoPaymentMethod, fmt.Errorf("no default payment method found for customer %s", customerID))
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID, nil
}

func (p *StripeProvider) CreateOffSessionCharge(ctx context.Context, req OffSessionCharge) (*ProviderPayment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		Customer:           stripe.String(req.CustomerID),
		PaymentMethod:      stripe.String(req.PaymentMethodID),
		Description:        stripe.String(req.Description),
		OffSession:         stripe.Bool(true),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, translateStripeError(err)
	}
	p.logger.Info("Stripe payment intent confirmed",
		zap.String("payment_intent_id", pi.ID),
		zap.String("status", string(pi.Status)),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return &ProviderPayment{
		PaymentIntentID: pi.ID,
		Status:          string(pi.Status),
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
	}, nil
}

// ListSubscriptionCharges returns the customer's charges tagged as
// subscription charges, newest first as Stripe lists them.
func (p *StripeProvider) ListSubscriptionCharges(ctx context.Context, customerID string) ([]models.ProviderCharge, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(stripeListLimit)

	var out []models.ProviderCharge
	iter := p.api.Charges.List(params)
	for n := 0; n < stripeListLimit && iter.Next(); n++ {
		ch := iter.Charge()
		if ch.Metadata["type"] != models.ChargeTypeSubscription {
			continue
		}
		pc := models.ProviderCharge{
			ID:          ch.ID,
			OrderID:     ch.Metadata["order_id"],
			SellerID:    ch.Metadata["seller_id"],
			Amount:      ch.Amount,
			Currency:    string(ch.Currency),
			Status:      string(ch.Status),
			Description: ch.Description,
			Created:     time.Unix(ch.Created, 0).UTC(),
		}
		if ch.PaymentIntent != nil {
			pc.PaymentIntentID = ch.PaymentIntent.ID
		}
		out = append(out, pc)
	}
	if err := iter.Err(); err != nil {
		return nil, translateStripeError(err)
	}
	return out, nil
}

// translateStripeError maps Stripe and transport failures onto the gateway
// error taxonomy.
func translateStripeError(err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeIdempotency, se.HTTPStatusCode == http.StatusConflict:
			// The earlier request with this key is still in flight; its
			// outcome is unknown, not failed.
			return newGatewayError(KindTimeout, err)
		case se.Type == stripe.ErrorTypeCard:
			return newGatewayError(KindCardDeclined, err)
		case se.Code == stripe.ErrorCodeResourceMissing:
			return newGatewayError(KindCustomerNotFound, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.Type == stripe.ErrorTypeAPI:
			return newGatewayError(KindProviderUnavailable, err)
		default:
			return newGatewayError(KindUnknown, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newGatewayError(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newGatewayError(KindTimeout, err)
		}
		return newGatewayError(KindProviderUnavailable, err)
	}
	return newGatewayError(KindUnknown, err)
}
