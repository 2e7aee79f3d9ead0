package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
)

type OrderController struct {
	orders  services.OrderService
	charger services.SubscriptionCharger
	logger  *zap.Logger
}

func NewOrderController(orders services.OrderService, charger services.SubscriptionCharger, logger *zap.Logger) *OrderController {
	return &OrderController{orders: orders, charger: charger, logger: logger}
}

// orderView hides the buyer's contact details until the order is unlocked.
func orderView(order *models.Order, unlocked bool) models.Order {
	view := *order
	if unlocked {
		view.SubscriptionChargeProcessed = true
		return view
	}
	view.CustomerName = ""
	view.CustomerEmail = ""
	view.CustomerPhone = ""
	view.DeliveryAddress = ""
	return view
}

func (oc *OrderController) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, oc.logger, fmt.Errorf("%w: order id must be a UUID", services.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

// CreateOrder handles POST /orders.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, oc.logger, services.ValidationError(err))
		return
	}

	result, err := oc.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":         orderView(result.Order, false),
		"unlocked":      false,
		"billingQueued": result.BillingQueued,
	})
}

// GetOrder handles GET /orders/:id. Visibility is decided from a fresh
// status check on every load.
func (oc *OrderController) GetOrder(c *gin.Context) {
	id, ok := oc.orderID(c)
	if !ok {
		return
	}
	order, err := oc.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}

	outcome, checkErr := oc.charger.CheckStatus(c.Request.Context(), id)
	unlocked := services.GateFor(order, outcome, checkErr)
	if checkErr != nil {
		oc.logger.Warn("Order shown locked, status check failed",
			zap.String("order_id", id.String()), zap.Error(checkErr))
	}

	c.JSON(http.StatusOK, gin.H{
		"order":              orderView(order, unlocked),
		"unlocked":           unlocked,
		"oracle_unavailable": checkErr != nil,
	})
}

// UnlockOrder handles POST /orders/:id/unlock, charging the subscription fee
// if it has not been charged yet.
func (oc *OrderController) UnlockOrder(c *gin.Context) {
	id, ok := oc.orderID(c)
	if !ok {
		return
	}

	outcome, err := oc.charger.Charge(c.Request.Context(), id)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}

	order, err := oc.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	unlocked := outcome.Unlocked()
	c.JSON(http.StatusOK, gin.H{
		"state":           outcome.State,
		"unlocked":        unlocked,
		"paymentIntentId": outcome.PaymentIntentID,
		"order":           orderView(order, unlocked),
	})
}

// PaymentStatus handles GET /orders/:id/payment-status.
func (oc *OrderController) PaymentStatus(c *gin.Context) {
	id, ok := oc.orderID(c)
	if !ok {
		return
	}
	outcome, err := oc.charger.CheckStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, outcome.Status)
}

// UpdateStatus handles PATCH /orders/:id/status.
func (oc *OrderController) UpdateStatus(c *gin.Context) {
	id, ok := oc.orderID(c)
	if !ok {
		return
	}
	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, oc.logger, services.ValidationError(err))
		return
	}

	order, err := oc.orders.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	unlocked := services.IsUnlocked(order)
	c.JSON(http.StatusOK, gin.H{"order": orderView(order, unlocked), "unlocked": unlocked})
}
