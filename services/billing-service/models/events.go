package models

import "time"

// BillingRequest asks for the subscription charge of one order. Attempt
// starts at 1 and grows with each re-enqueue.
type BillingRequest struct {
	SellerID   string    `json:"seller_id"`
	OrderID    string    `json:"order_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

const (
	EventChargeSucceeded  = "subscription_charge_succeeded"
	EventChargeFailed     = "subscription_charge_failed"
	EventChargeUnrecorded = "subscription_charge_unrecorded"
)

// BillingEvent is published to SNS on every terminal charge outcome.
type BillingEvent struct {
	Type            string    `json:"type"`
	OrderID         string    `json:"order_id"`
	SellerID        string    `json:"seller_id"`
	PaymentIntentID string    `json:"payment_intent_id,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// UnrecordedCharge is a provider charge whose ledger write failed, kept in
// the journal until the reconciler records it.
type UnrecordedCharge struct {
	OrderID         string    `json:"order_id"`
	SellerID        string    `json:"seller_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
