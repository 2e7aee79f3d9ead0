package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
)

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) RecordCount(ctx context.Context, name string, dims map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[name]++
	return nil
}

func (m *countingMetrics) RecordLatency(ctx context.Context, name string, d time.Duration, dims map[string]string) error {
	return nil
}

func (m *countingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func TestPaymentStatusOracle(t *testing.T) {
	store := newFakeStore()
	metrics := &countingMetrics{}
	oracle := services.NewPaymentStatusOracle(fakeLedger{store}, metrics, zap.NewNop())
	orderID := uuid.New()

	check, err := oracle.GetStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, services.NotCharged, check.Result)
	assert.False(t, check.Status.IsCharged)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.charges[orderID] = models.SubscriptionCharge{OrderID: orderID, PaymentIntentID: "pi_9", Amount: 1000, CreatedAt: created}

	check, err = oracle.GetStatus(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, services.Charged, check.Result)
	assert.True(t, check.Status.IsCharged)
	assert.Equal(t, "pi_9", check.Status.PaymentIntentID)
	assert.Equal(t, int64(1000), check.Status.Amount)
	require.NotNil(t, check.Status.ProcessedAt)
	assert.True(t, created.Equal(*check.Status.ProcessedAt))

	store.findErr = errors.New("too many connections")
	check, err = oracle.GetStatus(context.Background(), orderID)
	assert.ErrorIs(t, err, services.ErrOracleUnavailable)
	assert.Equal(t, services.OracleUnavailable, check.Result)
	assert.False(t, check.Status.IsCharged)
	assert.Equal(t, 1, metrics.count(awspkg.MetricOracleUnavailable))
}

func TestOracleResultString(t *testing.T) {
	assert.Equal(t, "not_charged", services.NotCharged.String())
	assert.Equal(t, "charged", services.Charged.String())
	assert.Equal(t, "oracle_unavailable", services.OracleUnavailable.String())
}

func TestGate(t *testing.T) {
	locked := &models.Order{ID: uuid.New()}
	unlocked := &models.Order{ID: uuid.New(), SubscriptionChargeProcessed: true}

	assert.False(t, services.IsUnlocked(nil))
	assert.False(t, services.IsUnlocked(locked))
	assert.True(t, services.IsUnlocked(unlocked))

	charged := &services.ChargeOutcome{State: services.StateAlreadyCharged}
	assert.True(t, services.GateFor(unlocked, charged, nil))
	assert.True(t, services.GateFor(locked, charged, nil), "a confirmed charge unlocks before the flag catches up")
	assert.True(t, services.GateFor(locked, &services.ChargeOutcome{State: services.StateCharged}, nil))
	assert.False(t, services.GateFor(locked, &services.ChargeOutcome{State: services.StateUnknown}, nil))
	assert.False(t, services.GateFor(unlocked, &services.ChargeOutcome{State: services.StateUnknown}, services.ErrOracleUnavailable))
	assert.False(t, services.GateFor(unlocked, nil, nil))
	assert.False(t, services.GateFor(nil, charged, nil))
}
