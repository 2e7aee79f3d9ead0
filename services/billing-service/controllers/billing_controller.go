package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
)

// BillingController exposes the subscription charge trigger, charge history
// and on-demand reconciliation.
type BillingController struct {
	charger    services.SubscriptionCharger
	orders     services.OrderService
	history    services.ChargeHistoryService
	reconciler services.ChargeReconciler
	logger     *zap.Logger
}

func NewBillingController(
	charger services.SubscriptionCharger,
	orders services.OrderService,
	history services.ChargeHistoryService,
	reconciler services.ChargeReconciler,
	logger *zap.Logger,
) *BillingController {
	return &BillingController{
		charger:    charger,
		orders:     orders,
		history:    history,
		reconciler: reconciler,
		logger:     logger,
	}
}

type chargeSellerRequest struct {
	SellerID string `json:"sellerId" binding:"required,uuid"`
	OrderID  string `json:"orderId" binding:"required,uuid"`
}

type sellerRequest struct {
	SellerID string `json:"sellerId" binding:"required,uuid"`
}

// ChargeSeller handles POST /billing/charge-seller.
func (bc *BillingController) ChargeSeller(c *gin.Context) {
	var req chargeSellerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bc.logger, services.ValidationError(err))
		return
	}
	sellerID := uuid.MustParse(req.SellerID)
	orderID := uuid.MustParse(req.OrderID)

	order, err := bc.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, bc.logger, err)
		return
	}
	if order.SellerID != sellerID {
		respondError(c, bc.logger, fmt.Errorf("%w: order %s does not belong to seller %s", services.ErrInvalidOrder, orderID, sellerID))
		return
	}

	outcome, err := bc.charger.Charge(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, bc.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"paymentIntentId": outcome.PaymentIntentID,
		"alreadyCharged":  outcome.State == services.StateAlreadyCharged,
		"state":           outcome.State,
	})
}

// Preflight answers CORS pre-flight requests for the billing endpoints.
func (bc *BillingController) Preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// ListCharges handles POST /billing/charges. With ?source=provider it lists
// the charges as Stripe sees them instead of the ledger.
func (bc *BillingController) ListCharges(c *gin.Context) {
	sellerID, ok := bc.bindSeller(c)
	if !ok {
		return
	}

	if c.Query("source") == "provider" {
		charges, err := bc.history.ProviderCharges(c.Request.Context(), sellerID)
		if err != nil {
			respondError(c, bc.logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"charges": charges, "source": "provider"})
		return
	}

	charges, err := bc.history.LedgerCharges(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, bc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"charges": charges, "source": "ledger"})
}

// Reconcile handles POST /billing/reconcile.
func (bc *BillingController) Reconcile(c *gin.Context) {
	sellerID, ok := bc.bindSeller(c)
	if !ok {
		return
	}
	recorded, err := bc.reconciler.ReconcileSeller(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, bc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": recorded})
}

func (bc *BillingController) bindSeller(c *gin.Context) (uuid.UUID, bool) {
	var req sellerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bc.logger, services.ValidationError(err))
		return uuid.Nil, false
	}
	return uuid.MustParse(req.SellerID), true
}
