package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

// ChargeLedger is the durable record of subscription charges.
type ChargeLedger interface {
	// RecordCharge inserts a succeeded charge and flips the order's
	// subscription_charge_processed flag in one transaction. A row already
	// present for the same order is reported as duplicate, not as an error.
	RecordCharge(ctx context.Context, charge *models.SubscriptionCharge) (duplicate bool, err error)
	FindSucceededCharge(ctx context.Context, orderID uuid.UUID) (*models.SubscriptionCharge, error)
	ListSellerCharges(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error)
	RecordFailedCharge(ctx context.Context, failed *models.FailedCharge) error
}

type gormChargeLedger struct {
	db *gorm.DB
}

func NewGormChargeLedger(db *gorm.DB) ChargeLedger {
	return &gormChargeLedger{db: db}
}

func (l *gormChargeLedger) RecordCharge(ctx context.Context, charge *models.SubscriptionCharge) (bool, error) {
	if charge.OrderID == uuid.Nil || charge.PaymentIntentID == "" {
		return false, fmt.Errorf("%w: order id and payment intent id are required", ErrChargeFailed)
	}

	var duplicate bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(charge)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			duplicate = true
			existing, err := findSucceeded(tx, charge.OrderID)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("payment intent %s is already recorded against another order", charge.PaymentIntentID)
			}
		}
		return markProcessed(tx, charge.OrderID)
	})

	if err != nil && isUniqueViolation(err) {
		// A concurrent writer committed the row between our statements.
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return markProcessed(tx, charge.OrderID)
		})
		if err == nil {
			return true, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChargeFailed, err)
	}
	return duplicate, nil
}

func (l *gormChargeLedger) FindSucceededCharge(ctx context.Context, orderID uuid.UUID) (*models.SubscriptionCharge, error) {
	return findSucceeded(l.db.WithContext(ctx), orderID)
}

func (l *gormChargeLedger) ListSellerCharges(ctx context.Context, sellerID uuid.UUID) ([]models.SubscriptionCharge, error) {
	var charges []models.SubscriptionCharge
	err := l.db.WithContext(ctx).
		Where("seller_id = ? AND charge_type = ?", sellerID, models.ChargeTypeSubscription).
		Order("created_at DESC").
		Find(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (l *gormChargeLedger) RecordFailedCharge(ctx context.Context, failed *models.FailedCharge) error {
	return l.db.WithContext(ctx).Create(failed).Error
}

func findSucceeded(tx *gorm.DB, orderID uuid.UUID) (*models.SubscriptionCharge, error) {
	var c models.SubscriptionCharge
	err := tx.Where("order_id = ? AND charge_type = ? AND status = ?",
		orderID, models.ChargeTypeSubscription, models.ChargeStatusSucceeded).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// markProcessed only ever sets the flag; rows already true are untouched.
func markProcessed(tx *gorm.DB, orderID uuid.UUID) error {
	return tx.Model(&models.Order{}).
		Where("id = ? AND subscription_charge_processed = ?", orderID, false).
		Update("subscription_charge_processed", true).Error
}
