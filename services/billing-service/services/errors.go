package services

import (
	"errors"
	"fmt"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrOrderNotFound    = fmt.Errorf("%w: order not found", ErrInvalidOrder)
	ErrMissingSeller    = errors.New("order has no seller")
	ErrNoPaymentMethod  = errors.New("seller has no payment method set up")
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrChargeFailed is a hard ledger failure.
	ErrChargeFailed = repository.ErrChargeFailed
	// ErrChargeUnrecorded means money moved at the provider but the ledger
	// write failed. The charge is journaled for the reconciler.
	ErrChargeUnrecorded  = errors.New("charge succeeded at provider but was not recorded")
	ErrOracleUnavailable = errors.New("payment status unavailable")
	ErrChargeInProgress  = errors.New("charge already in progress for order")
	ErrStoreUnavailable  = errors.New("billing store unavailable")
	ErrInvalidStatus     = errors.New("invalid order status transition")
	ErrValidation        = errors.New("missing required fields")
)

type GatewayErrorKind string

const (
	KindCardDeclined        GatewayErrorKind = "card_declined"
	KindNoPaymentMethod     GatewayErrorKind = "no_payment_method"
	KindCustomerNotFound    GatewayErrorKind = "customer_not_found"
	KindProviderUnavailable GatewayErrorKind = "provider_unavailable"
	KindTimeout             GatewayErrorKind = "timeout"
	KindUnknown             GatewayErrorKind = "unknown"
)

// GatewayError is a translated payment provider failure.
type GatewayError struct {
	Kind      GatewayErrorKind
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment gateway %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("payment gateway %s", e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets callers match permanent precondition failures with the sentinels.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrNoPaymentMethod:
		return e.Kind == KindNoPaymentMethod
	case ErrCustomerNotFound:
		return e.Kind == KindCustomerNotFound
	}
	return false
}

func newGatewayError(kind GatewayErrorKind, err error) *GatewayError {
	return &GatewayError{
		Kind:      kind,
		Retryable: kind == KindProviderUnavailable || kind == KindTimeout,
		Err:       err,
	}
}

// IsRetryable reports whether a charge attempt that failed with err may be
// attempted again later with the same idempotency key.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return errors.Is(err, ErrChargeUnrecorded) ||
		errors.Is(err, ErrOracleUnavailable) ||
		errors.Is(err, ErrChargeInProgress) ||
		errors.Is(err, ErrStoreUnavailable)
}
