package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"

	ProviderStatusPending   = "pending"
	ProviderStatusSucceeded = "succeeded"
	ProviderStatusFailed    = "failed"
)

// Order is a buyer's firewood order placed with a seller.
// SubscriptionChargeProcessed only ever moves false -> true and is written in
// the same transaction as the matching subscription_charges row.
type Order struct {
	ID                          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID                    uuid.UUID `gorm:"type:uuid;index;not null" json:"seller_id"`
	CustomerName                string    `gorm:"type:varchar(255);not null" json:"customer_name"`
	CustomerEmail               string    `gorm:"type:varchar(255);not null" json:"customer_email"`
	CustomerPhone               string    `gorm:"type:varchar(50)" json:"customer_phone,omitempty"`
	DeliveryAddress             string    `gorm:"type:text" json:"delivery_address,omitempty"`
	ProductName                 string    `gorm:"type:varchar(255)" json:"product_name"`
	Quantity                    int       `gorm:"not null" json:"quantity"`
	TotalAmount                 int64     `gorm:"not null" json:"total_amount"` // minor units
	Status                      string    `gorm:"type:varchar(20);not null" json:"status"`
	StripeCustomerID            *string   `gorm:"type:varchar(255)" json:"stripe_customer_id,omitempty"`
	StripeAccountID             string    `gorm:"type:varchar(255)" json:"stripe_account_id"`
	StripePaymentStatus         string    `gorm:"type:varchar(20);not null" json:"stripe_payment_status"`
	SubscriptionChargeProcessed bool      `gorm:"not null" json:"subscription_charge_processed"`
	CreatedAt                   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Seller is a marketplace seller billed a subscription fee per order once
// past the free tier. The default payment method lives with the provider.
type Seller struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(255)" json:"name"`
	Email            string    `gorm:"type:varchar(255)" json:"email"`
	StripeCustomerID *string   `gorm:"type:varchar(255)" json:"stripe_customer_id,omitempty"`
	TotalOrders      int64     `gorm:"not null" json:"total_orders"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Seller) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// CustomerID returns the seller's provider customer reference, or "".
func (s *Seller) CustomerID() string {
	if s == nil || s.StripeCustomerID == nil {
		return ""
	}
	return *s.StripeCustomerID
}

// CreateOrderRequest is the order placement payload from the storefront.
type CreateOrderRequest struct {
	CustomerName    string `json:"customerName" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Phone           string `json:"phone,omitempty"`
	Address         string `json:"address,omitempty"`
	PaymentMethod   string `json:"paymentMethod,omitempty"`
	StripeAccountID string `json:"stripeAccountId" binding:"required"`
	ProductName     string `json:"productName"`
	Quantity        int    `json:"quantity" binding:"gte=0"`
	TotalAmount     int64  `json:"totalAmount" binding:"gte=0"`
	SellerID        string `json:"sellerId" binding:"required,uuid"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending completed"`
}
