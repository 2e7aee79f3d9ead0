package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

type SellerRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error)
	// ListWithUnchargedOrders returns sellers past minTotalOrders that have a
	// provider customer and at least one order whose flag is still false.
	ListWithUnchargedOrders(ctx context.Context, minTotalOrders int64, limit int) ([]uuid.UUID, error)
}

type gormSellerRepository struct {
	db *gorm.DB
}

func NewGormSellerRepository(db *gorm.DB) SellerRepository {
	return &gormSellerRepository{db: db}
}

func (r *gormSellerRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	var s models.Seller
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSellerNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormSellerRepository) ListWithUnchargedOrders(ctx context.Context, minTotalOrders int64, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Seller{}).
		Where("stripe_customer_id IS NOT NULL").
		Where("total_orders > ?", minTotalOrders).
		Where("EXISTS (SELECT 1 FROM orders WHERE orders.seller_id = sellers.id AND orders.subscription_charge_processed = ?)", false).
		Order("updated_at DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
