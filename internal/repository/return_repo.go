package repository

import (
	"context"

	"medledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReturnRepository interface {
	Create(ctx context.Context, ret *model.SaleReturn) error
	FindByBillID(ctx context.Context, billID uuid.UUID) ([]model.SaleReturn, error)
}

type returnRepository struct {
	db *gorm.DB
}

func NewReturnRepository(db *gorm.DB) ReturnRepository {
	return &returnRepository{db: db}
}

func (r *returnRepository) Create(ctx context.Context, ret *model.SaleReturn) error {
	return GetDB(ctx, r.db).Create(ret).Error
}

func (r *returnRepository) FindByBillID(ctx context.Context, billID uuid.UUID) ([]model.SaleReturn, error) {
	var returns []model.SaleReturn
	if err := GetDB(ctx, r.db).Preload("Items").Where("bill_id = ?", billID).
		Order("created_at").Find(&returns).Error; err != nil {
		return nil, err
	}
	return returns, nil
}
