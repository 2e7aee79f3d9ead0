package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

// OrderRepository defines data-access operations for orders.
type OrderRepository interface {
	// CreateForSeller inserts order and bumps the seller's total_orders under
	// a row lock on the seller. It returns how many orders the seller had
	// before this one, counted live.
	CreateForSeller(ctx context.Context, order *models.Order) (priorOrders int64, err error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkChargeProcessed(ctx context.Context, id uuid.UUID) error
}

type gormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &gormOrderRepository{db: db}
}

func (r *gormOrderRepository) CreateForSeller(ctx context.Context, order *models.Order) (int64, error) {
	var prior int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seller models.Seller
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&seller, "id = ?", order.SellerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSellerNotFound
			}
			return err
		}
		if err := tx.Model(&models.Order{}).
			Where("seller_id = ?", order.SellerID).
			Count(&prior).Error; err != nil {
			return err
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Model(&models.Seller{}).
			Where("id = ?", seller.ID).
			UpdateColumn("total_orders", gorm.Expr("total_orders + ?", 1)).Error
	})
	if err != nil {
		return 0, err
	}
	return prior, nil
}

func (r *gormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *gormOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *gormOrderRepository) MarkChargeProcessed(ctx context.Context, id uuid.UUID) error {
	return markProcessed(r.db.WithContext(ctx), id)
}
