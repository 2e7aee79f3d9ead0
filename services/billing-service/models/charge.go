package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChargeTypeSubscription tags provider charges and ledger rows that belong to
// the per-order seller subscription fee.
const ChargeTypeSubscription = "subscription_charge"

const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusFailed    = "failed"
)

// SubscriptionCharge is an append-only ledger row. At most one exists per
// (order_id, charge_type).
type SubscriptionCharge struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_charges_order_type" json:"order_id"`
	ChargeType      string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_subscription_charges_order_type" json:"charge_type"`
	SellerID        uuid.UUID `gorm:"type:uuid;index;not null" json:"seller_id"`
	PaymentIntentID string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"payment_intent_id"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(10);not null" json:"currency"`
	Status          string    `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (c *SubscriptionCharge) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.ChargeType == "" {
		c.ChargeType = ChargeTypeSubscription
	}
	if c.Status == "" {
		c.Status = ChargeStatusSucceeded
	}
	return nil
}

// FailedCharge is the seller-facing marker left after a declined or
// otherwise rejected subscription charge.
type FailedCharge struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"seller_id"`
	OrderID   *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`
	Amount    int64      `gorm:"not null" json:"amount"`
	Reason    string     `gorm:"type:varchar(100)" json:"reason"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (f *FailedCharge) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// PaymentStatus is the read-only projection of the ledger for one order.
type PaymentStatus struct {
	IsCharged       bool       `json:"isCharged"`
	PaymentIntentID string     `json:"paymentIntentId,omitempty"`
	Amount          int64      `json:"amount,omitempty"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
}

// StatusFromCharge projects a ledger row; nil means not charged.
func StatusFromCharge(c *SubscriptionCharge) PaymentStatus {
	if c == nil {
		return PaymentStatus{}
	}
	processedAt := c.CreatedAt
	return PaymentStatus{
		IsCharged:       true,
		PaymentIntentID: c.PaymentIntentID,
		Amount:          c.Amount,
		ProcessedAt:     &processedAt,
	}
}

// ProviderCharge is a charge as reported by the payment provider.
type ProviderCharge struct {
	ID              string    `json:"id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	OrderID         string    `json:"order_id,omitempty"`
	SellerID        string    `json:"seller_id,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Description     string    `json:"description,omitempty"`
	Created         time.Time `json:"created"`
}
