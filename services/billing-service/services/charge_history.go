package services

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
)

// ChargeHistoryService lists a seller's subscription charges.
type ChargeHistoryService interface {
	LedgerCharges(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error)
	ProviderCharges(ctx context.Context, sellerID uuid.UUID) ([]models.ProviderCharge, error)
}

type chargeHistory struct {
	ledger   repository.ChargeLedger
	sellers  repository.SellerRepository
	provider PaymentProvider
}

func NewChargeHistoryService(ledger repository.ChargeLedger, sellers repository.SellerRepository, provider PaymentProvider) ChargeHistoryService {
	return &chargeHistory{ledger: ledger, sellers: sellers, provider: provider}
}

func (h *chargeHistory) LedgerCharges(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error) {
	return h.ledger.ListSellerCharges(ctx, sellerID)
}

// ProviderCharges returns the seller's subscription charges as the provider
// sees them, newest first. A seller without a customer has none.
func (h *chargeHistory) ProviderCharges(ctx context.Context, sellerID uuid.UUID) ([]models.ProviderCharge, error) {
	seller, err := h.sellers.FindByID(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.CustomerID() == "" {
		return []models.ProviderCharge{}, nil
	}
	charges, err := h.provider.ListSubscriptionCharges(ctx, seller.CustomerID())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(charges, func(i, j int) bool {
		return charges[i].Created.After(charges[j].Created)
	})
	return charges, nil
}
