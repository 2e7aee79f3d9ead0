package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/controllers"
	"github.com/Receptionally/firewood-marketplace/services/common/middleware"
)

// RegisterBillingRoutes sets up the subscription billing routes. The Stripe
// webhook is not rate limited; Stripe controls its own delivery rate.
func RegisterBillingRoutes(r *gin.Engine, bc *controllers.BillingController, wc *controllers.WebhookController, rl *middleware.RateLimiter) {
	billing := r.Group("/billing")
	billing.OPTIONS("/charge-seller", bc.Preflight)
	billing.OPTIONS("/charges", bc.Preflight)

	limited := billing.Group("")
	limited.Use(middleware.RateLimitMiddleware(rl))
	limited.POST("/charge-seller", bc.ChargeSeller)
	limited.POST("/charges", bc.ListCharges)
	limited.POST("/reconcile", bc.Reconcile)

	billing.POST("/stripe/webhook", wc.StripeWebhook)
}

// RegisterOrderRoutes sets up order placement, viewing and unlocking.
func RegisterOrderRoutes(r *gin.Engine, oc *controllers.OrderController, rl *middleware.RateLimiter) {
	orders := r.Group("/orders")
	orders.Use(middleware.RateLimitMiddleware(rl))

	orders.POST("", oc.CreateOrder)
	orders.GET("/:id", oc.GetOrder)
	orders.GET("/:id/payment-status", oc.PaymentStatus)
	orders.POST("/:id/unlock", oc.UnlockOrder)
	orders.PATCH("/:id/status", oc.UpdateStatus)
}
