package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
	"github.com/Receptionally/firewood-marketplace/services/common/logger"
)

// BillingPolicy decides when an order triggers the subscription charge.
type BillingPolicy struct {
	// ThresholdPriorOrders is how many earlier orders a seller gets free.
	ThresholdPriorOrders int64
}

func (p BillingPolicy) ShouldBill(priorOrders int64) bool {
	return priorOrders >= p.ThresholdPriorOrders
}

type CreateOrderResult struct {
	Order         *models.Order
	PriorOrders   int64
	BillingQueued bool
}

// OrderService defines order placement and fulfilment operations.
type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Order, error)
}

type orderServiceImpl struct {
	orders  repository.OrderRepository
	queue   BillingQueue
	policy  BillingPolicy
	metrics MetricsRecorder
	logger  *zap.Logger
}

func NewOrderService(orders repository.OrderRepository, queue BillingQueue, policy BillingPolicy, metrics MetricsRecorder, logger *zap.Logger) OrderService {
	return &orderServiceImpl{orders: orders, queue: queue, policy: policy, metrics: metrics, logger: logger}
}

const enqueueAttempts = 3

func (s *orderServiceImpl) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*CreateOrderResult, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		return nil, fmt.Errorf("%w: sellerId must be a UUID", ErrValidation)
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	order := &models.Order{
		SellerID:            sellerID,
		CustomerName:        strings.TrimSpace(req.CustomerName),
		CustomerEmail:       strings.TrimSpace(req.Email),
		CustomerPhone:       req.Phone,
		DeliveryAddress:     req.Address,
		ProductName:         req.ProductName,
		Quantity:            quantity,
		TotalAmount:         req.TotalAmount,
		Status:              models.OrderStatusPending,
		StripeAccountID:     req.StripeAccountID,
		StripePaymentStatus: models.ProviderStatusPending,
	}

	prior, err := s.orders.CreateForSeller(ctx, order)
	if errors.Is(err, repository.ErrSellerNotFound) {
		return nil, fmt.Errorf("%w: seller %s not found", ErrMissingSeller, sellerID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log := logger.For(ctx, s.logger).With(
		zap.String("order_id", order.ID.String()),
		zap.String("seller_id", sellerID.String()),
		zap.Int64("prior_orders", prior),
	)
	log.Info("Order created")
	recordCount(ctx, s.metrics, awspkg.MetricOrdersCreated, nil)

	result := &CreateOrderResult{Order: order, PriorOrders: prior}
	if !s.policy.ShouldBill(prior) {
		return result, nil
	}

	billing := models.BillingRequest{
		SellerID:   sellerID.String(),
		OrderID:    order.ID.String(),
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
enqueue:
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		if err = s.queue.Enqueue(ctx, billing, 0); err == nil {
			result.BillingQueued = true
			log.Info("Subscription charge queued")
			return result, nil
		}
		log.Warn("Failed to queue subscription charge", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == enqueueAttempts {
			break
		}
		select {
		case <-ctx.Done():
			break enqueue
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	log.Error("Subscription charge not queued; order stays locked until the seller unlocks it", zap.Error(err))
	recordCount(ctx, s.metrics, awspkg.MetricBillingRequestsDropped, nil)
	return result, nil
}

func (s *orderServiceImpl) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return order, nil
}

// UpdateStatus applies a fulfilment transition. Only pending -> completed is
// allowed; repeating the current status is a no-op.
func (s *orderServiceImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == status {
		return order, nil
	}
	if order.Status != models.OrderStatusPending || status != models.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, order.Status, status)
	}
	if err := s.orders.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	order.Status = status
	logger.For(ctx, s.logger).Info("Order status updated",
		zap.String("order_id", id.String()), zap.String("status", status))
	return order, nil
}
