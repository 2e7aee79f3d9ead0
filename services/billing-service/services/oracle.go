package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
)

type OracleResult int

const (
	NotCharged OracleResult = iota
	Charged
	OracleUnavailable
)

func (r OracleResult) String() string {
	switch r {
	case Charged:
		return "charged"
	case OracleUnavailable:
		return "oracle_unavailable"
	default:
		return "not_charged"
	}
}

// StatusCheck is one Oracle answer. Status.IsCharged is false whenever
// Result is not Charged.
type StatusCheck struct {
	Result OracleResult
	Status models.PaymentStatus
}

// PaymentStatusOracle answers "has this order's subscription fee been
// charged" from the ledger. A failed lookup is reported as OracleUnavailable
// together with the error, never as NotCharged.
type PaymentStatusOracle struct {
	ledger  repository.ChargeLedger
	metrics MetricsRecorder
	logger  *zap.Logger
}

func NewPaymentStatusOracle(ledger repository.ChargeLedger, metrics MetricsRecorder, logger *zap.Logger) *PaymentStatusOracle {
	return &PaymentStatusOracle{ledger: ledger, metrics: metrics, logger: logger}
}

func (o *PaymentStatusOracle) GetStatus(ctx context.Context, orderID uuid.UUID) (StatusCheck, error) {
	charge, err := o.ledger.FindSucceededCharge(ctx, orderID)
	if err != nil {
		o.logger.Error("Payment status lookup failed", zap.String("order_id", orderID.String()), zap.Error(err))
		recordCount(ctx, o.metrics, awspkg.MetricOracleUnavailable, nil)
		return StatusCheck{Result: OracleUnavailable}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if charge == nil {
		return StatusCheck{Result: NotCharged}, nil
	}
	return StatusCheck{Result: Charged, Status: models.StatusFromCharge(charge)}, nil
}
