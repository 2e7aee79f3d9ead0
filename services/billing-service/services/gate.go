package services

import "github.com/Receptionally/firewood-marketplace/services/billing-service/models"

// IsUnlocked reports whether an order's details may be shown, from the
// persisted flag alone.
func IsUnlocked(order *models.Order) bool {
	return order != nil && order.SubscriptionChargeProcessed
}

// GateFor decides visibility from a live status check. Any error, including
// an unavailable Oracle, keeps the order locked whatever the flag says.
func GateFor(order *models.Order, outcome *ChargeOutcome, err error) bool {
	if order == nil || err != nil {
		return false
	}
	return outcome.Unlocked()
}
