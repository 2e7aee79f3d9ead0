package controllers_test

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/controllers"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/services"
	apperrors "github.com/Receptionally/firewood-marketplace/services/common/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Mocks ---

type mockCharger struct {
	checkFn  func(ctx context.Context, orderID uuid.UUID) (*services.ChargeOutcome, error)
	chargeFn func(ctx context.Context, orderID uuid.UUID) (*services.ChargeOutcome, error)
	charged  []uuid.UUID
}

func (m *mockCharger) CheckStatus(ctx context.Context, orderID uuid.UUID) (*services.ChargeOutcome, error) {
	return m.checkFn(ctx, orderID)
}

func (m *mockCharger) Charge(ctx context.Context, orderID uuid.UUID) (*services.ChargeOutcome, error) {
	m.charged = append(m.charged, orderID)
	return m.chargeFn(ctx, orderID)
}

type mockOrderService struct {
	createFn func(ctx context.Context, req *models.CreateOrderRequest) (*services.CreateOrderResult, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*models.Order, error)
	updateFn func(ctx context.Context, id uuid.UUID, status string) (*models.Order, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*services.CreateOrderResult, error) {
	return m.createFn(ctx, req)
}

func (m *mockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return m.getFn(ctx, id)
}

func (m *mockOrderService) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Order, error) {
	return m.updateFn(ctx, id, status)
}

type mockHistory struct {
	ledgerFn   func(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error)
	providerFn func(ctx context.Context, sellerID uuid.UUID) ([]models.ProviderCharge, error)
}

func (m *mockHistory) LedgerCharges(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error) {
	return m.ledgerFn(ctx, sellerID)
}

func (m *mockHistory) ProviderCharges(ctx context.Context, sellerID uuid.UUID) ([]models.ProviderCharge, error) {
	return m.providerFn(ctx, sellerID)
}

type mockReconciler struct {
	recordFn    func(ctx context.Context, rec services.ProviderChargeRecord) (bool, error)
	reconcileFn func(ctx context.Context, sellerID uuid.UUID) (int, error)
	records     []services.ProviderChargeRecord
}

func (m *mockReconciler) RecordProviderCharge(ctx context.Context, rec services.ProviderChargeRecord) (bool, error) {
	m.records = append(m.records, rec)
	return m.recordFn(ctx, rec)
}

func (m *mockReconciler) ReconcileSeller(ctx context.Context, sellerID uuid.UUID) (int, error) {
	return m.reconcileFn(ctx, sellerID)
}

// --- Helpers ---

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	return r
}

func setupBillingRouter(charger services.SubscriptionCharger, orders services.OrderService, history services.ChargeHistoryService, reconciler services.ChargeReconciler) *gin.Engine {
	r := newRouter()
	bc := controllers.NewBillingController(charger, orders, history, reconciler, zap.NewNop())
	r.POST("/billing/charge-seller", bc.ChargeSeller)
	r.OPTIONS("/billing/charge-seller", bc.Preflight)
	r.POST("/billing/charges", bc.ListCharges)
	r.POST("/billing/reconcile", bc.Reconcile)
	return r
}

func setupOrderRouter(orders services.OrderService, charger services.SubscriptionCharger) *gin.Engine {
	r := newRouter()
	oc := controllers.NewOrderController(orders, charger, zap.NewNop())
	r.POST("/orders", oc.CreateOrder)
	r.GET("/orders/:id", oc.GetOrder)
	r.POST("/orders/:id/unlock", oc.UnlockOrder)
	r.GET("/orders/:id/payment-status", oc.PaymentStatus)
	r.PATCH("/orders/:id/status", oc.UpdateStatus)
	return r
}

func sampleOrder(sellerID uuid.UUID, processed bool) *models.Order {
	return &models.Order{
		ID:                          uuid.New(),
		SellerID:                    sellerID,
		CustomerName:                "Dana",
		CustomerEmail:               "dana@example.com",
		CustomerPhone:               "555-0100",
		DeliveryAddress:             "12 Birch Lane",
		ProductName:                 "Seasoned oak, half cord",
		Quantity:                    1,
		TotalAmount:                 24000,
		Status:                      models.OrderStatusPending,
		StripePaymentStatus:         models.ProviderStatusPending,
		SubscriptionChargeProcessed: processed,
	}
}
