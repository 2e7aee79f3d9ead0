package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

var ErrQueueFull = errors.New("billing queue is full")

// BillingQueue carries BillingRequests to the worker outside the request
// that produced them.
type BillingQueue interface {
	Enqueue(ctx context.Context, req models.BillingRequest, delay time.Duration) error
	Start(ctx context.Context, handler awspkg.MessageHandler) error
}

type SQSBillingQueue struct {
	queue *awspkg.Queue
}

func NewSQSBillingQueue(queue *awspkg.Queue) *SQSBillingQueue {
	return &SQSBillingQueue{queue: queue}
}

func (q *SQSBillingQueue) Enqueue(ctx context.Context, req models.BillingRequest, delay time.Duration) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal billing request: %w", err)
	}
	return q.queue.SendMessageWithDelay(ctx, string(body), int32(delay/time.Second))
}

func (q *SQSBillingQueue) Start(ctx context.Context, handler awspkg.MessageHandler) error {
	return q.queue.StartPolling(ctx, handler)
}

// InlineBillingQueue is the in-process fallback when no SQS queue is
// configured. Pending requests are lost on restart.
type InlineBillingQueue struct {
	jobs   chan string
	logger *zap.Logger
}

func NewInlineBillingQueue(buffer int, logger *zap.Logger) *InlineBillingQueue {
	return &InlineBillingQueue{jobs: make(chan string, buffer), logger: logger}
}

func (q *InlineBillingQueue) Enqueue(ctx context.Context, req models.BillingRequest, delay time.Duration) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal billing request: %w", err)
	}
	if delay <= 0 {
		return q.offer(string(body))
	}
	time.AfterFunc(delay, func() {
		if err := q.offer(string(body)); err != nil {
			q.logger.Error("Dropped delayed billing request", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	})
	return nil
}

func (q *InlineBillingQueue) offer(body string) error {
	select {
	case q.jobs <- body:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InlineBillingQueue) Start(ctx context.Context, handler awspkg.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case body := <-q.jobs:
			if err := handler(ctx, body); err != nil {
				q.logger.Error("Billing request handler failed", zap.Error(err))
			}
		}
	}
}

// BillingWorker runs queued BillingRequests through the orchestrator and
// re-enqueues retryable failures with exponential delay until maxAttempts.
type BillingWorker struct {
	charger     SubscriptionCharger
	queue       BillingQueue
	maxAttempts int
	baseDelay   time.Duration
	metrics     MetricsRecorder
	logger      *zap.Logger
}

func NewBillingWorker(charger SubscriptionCharger, queue BillingQueue, maxAttempts int, baseDelay time.Duration, metrics MetricsRecorder, logger *zap.Logger) *BillingWorker {
	return &BillingWorker{
		charger:     charger,
		queue:       queue,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		metrics:     metrics,
		logger:      logger,
	}
}

// Handle processes one message body. It returns an error only when a retry
// could not be enqueued, so the transport redelivers the original message.
func (w *BillingWorker) Handle(ctx context.Context, body string) error {
	var req models.BillingRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		w.logger.Error("Discarding malformed billing request", zap.Error(err))
		return nil
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		w.logger.Error("Discarding billing request with bad order id", zap.String("order_id", req.OrderID))
		return nil
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	log := w.logger.With(zap.String("order_id", req.OrderID), zap.Int("attempt", req.Attempt))

	outcome, err := w.charger.Charge(ctx, orderID)
	if err == nil {
		log.Info("Billing request completed", zap.String("state", string(outcome.State)))
		return nil
	}

	if !IsRetryable(err) || req.Attempt >= w.maxAttempts {
		log.Error("Billing request abandoned", zap.Error(err))
		recordCount(ctx, w.metrics, awspkg.MetricBillingRequestsDropped, nil)
		return nil
	}

	delay := w.baseDelay << (req.Attempt - 1)
	req.Attempt++
	req.EnqueuedAt = time.Now().UTC()
	if err := w.queue.Enqueue(ctx, req, delay); err != nil {
		log.Error("Failed to re-enqueue billing request", zap.Error(err))
		return err
	}
	log.Warn("Billing request re-enqueued", zap.Duration("delay", delay), zap.Error(err))
	return nil
}
