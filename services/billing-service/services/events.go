package services

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/Receptionally/firewood-marketplace/pkg/aws"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

// MetricsRecorder is satisfied by *aws.MetricsClient.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// EventPublisher publishes billing events to SNS. It is a no-op when no
// topic is configured, and publish failures are logged, never returned.
type EventPublisher struct {
	sns      awspkg.SNSPublisher
	topicArn string
	logger   *zap.Logger
}

func NewEventPublisher(sns awspkg.SNSPublisher, topicArn string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{sns: sns, topicArn: topicArn, logger: logger}
}

func (p *EventPublisher) Publish(ctx context.Context, event models.BillingEvent) {
	if p == nil || p.sns == nil || p.topicArn == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal billing event", zap.Error(err))
		return
	}
	if err := p.sns.Publish(ctx, p.topicArn, data); err != nil {
		p.logger.Error("Failed to publish billing event",
			zap.String("type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("Published billing event", zap.String("type", event.Type), zap.String("order_id", event.OrderID))
}

func recordCount(ctx context.Context, m MetricsRecorder, name string, dims map[string]string) {
	if m == nil {
		return
	}
	_ = m.RecordCount(ctx, name, dims)
}

func recordLatency(ctx context.Context, m MetricsRecorder, name string, d time.Duration, dims map[string]string) {
	if m == nil {
		return
	}
	_ = m.RecordLatency(ctx, name, d, dims)
}
