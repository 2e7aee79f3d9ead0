package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
	apperrors "github.com/Receptionally/firewood-marketplace/services/common/errors"
)

const maxWebhookBody = int64(65536)

// WebhookController records subscription charges reported by Stripe, closing
// the gap left when a charge succeeded but its ledger write did not.
type WebhookController struct {
	reconciler services.ChargeReconciler
	secret     string
	logger     *zap.Logger
}

func NewWebhookController(reconciler services.ChargeReconciler, secret string, logger *zap.Logger) *WebhookController {
	return &WebhookController{reconciler: reconciler, secret: secret, logger: logger}
}

// StripeWebhook handles POST /billing/stripe/webhook.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), wc.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		wc.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	wc.logger.Info("Processing Stripe webhook",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)

	switch event.Type {
	case "payment_intent.succeeded":
		if err := wc.handlePaymentIntentSucceeded(c, event); err != nil {
			// Stripe redelivers on non-2xx.
			_ = c.Error(apperrors.Wrap(apperrors.ErrInternalServer, err))
			c.Abort()
			return
		}
	default:
		wc.logger.Debug("Unhandled webhook event type", zap.String("event_type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (wc *WebhookController) handlePaymentIntentSucceeded(c *gin.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		wc.logger.Error("Failed to unmarshal payment intent", zap.Error(err))
		return nil
	}
	if pi.Metadata["type"] != models.ChargeTypeSubscription {
		return nil
	}

	recorded, err := wc.reconciler.RecordProviderCharge(c.Request.Context(), services.ProviderChargeRecord{
		OrderID:         pi.Metadata["order_id"],
		SellerID:        pi.Metadata["seller_id"],
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
	})
	if errors.Is(err, services.ErrInvalidOrder) || errors.Is(err, services.ErrMissingSeller) {
		wc.logger.Warn("Ignoring subscription payment with unusable metadata",
			zap.String("payment_intent_id", pi.ID),
			zap.Any("metadata", pi.Metadata),
		)
		return nil
	}
	if err != nil {
		wc.logger.Error("Failed to record subscription payment from webhook",
			zap.String("payment_intent_id", pi.ID),
			zap.Error(err),
		)
		return err
	}
	wc.logger.Info("Subscription payment confirmed by webhook",
		zap.String("payment_intent_id", pi.ID),
		zap.String("order_id", pi.Metadata["order_id"]),
		zap.Bool("recorded", recorded),
	)
	return nil
}
