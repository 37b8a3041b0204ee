package repository

import (
	"context"
	"time"

	"medledger/internal/model"
	"medledger/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MedicineFilter narrows List results.
type MedicineFilter struct {
	Search        string
	CategoryID    *uuid.UUID
	SubCategoryID *uuid.UUID
	ActiveOnly    bool
}

// MedicineRepository is the catalog store consumed by the ledger.
type MedicineRepository interface {
	Create(ctx context.Context, medicine *model.Medicine) error
	Update(ctx context.Context, medicine *model.Medicine) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Medicine, error)
	ExistsBatch(ctx context.Context, name, batchNumber string, categoryID uuid.UUID, excludeID *uuid.UUID) (bool, error)
	List(ctx context.Context, filter MedicineFilter, page, limit int) ([]model.Medicine, int64, error)

	// FindByIDsForUpdate row-locks every listed medicine in ascending id order so
	// concurrent carts always acquire locks in the same sequence. Ids that do not
	// exist are simply absent from the result.
	FindByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]model.Medicine, error)
	// AdjustStock applies delta to stock and returns the new level. It never lets
	// stock go below zero; such an update yields ErrStockConflict.
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
}

type medicineRepository struct {
	db *gorm.DB
}

func NewMedicineRepository(db *gorm.DB) MedicineRepository {
	return &medicineRepository{db: db}
}

func (r *medicineRepository) Create(ctx context.Context, medicine *model.Medicine) error {
	return GetDB(ctx, r.db).Create(medicine).Error
}

func (r *medicineRepository) Update(ctx context.Context, medicine *model.Medicine) error {
	return GetDB(ctx, r.db).Omit("Category", "SubCategory").Save(medicine).Error
}

func (r *medicineRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Medicine, error) {
	var medicine model.Medicine
	if err := GetDB(ctx, r.db).Preload("Category").Preload("SubCategory").First(&medicine, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &medicine, nil
}

func (r *medicineRepository) ExistsBatch(ctx context.Context, name, batchNumber string, categoryID uuid.UUID, excludeID *uuid.UUID) (bool, error) {
	var count int64
	q := GetDB(ctx, r.db).Model(&model.Medicine{}).
		Where("LOWER(name) = LOWER(?) AND batch_number = ? AND category_id = ?", name, batchNumber, categoryID)
	if excludeID != nil {
		q = q.Where("id <> ?", *excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *medicineRepository) List(ctx context.Context, filter MedicineFilter, page, limit int) ([]model.Medicine, int64, error) {
	var medicines []model.Medicine
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Medicine{})
	if filter.Search != "" {
		db = db.Where("name ILIKE ?", "%"+filter.Search+"%")
	}
	if filter.CategoryID != nil {
		db = db.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.SubCategoryID != nil {
		db = db.Where("sub_category_id = ?", *filter.SubCategoryID)
	}
	if filter.ActiveOnly {
		db = db.Where("is_active = ?", true)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Preload("Category").Preload("SubCategory").Order("created_at desc").Scopes(pagination.New(page, limit).Scope()).Find(&medicines).Error; err != nil {
		return nil, 0, err
	}

	return medicines, total, nil
}

func (r *medicineRepository) FindByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]model.Medicine, error) {
	var medicines []model.Medicine
	if len(ids) == 0 {
		return medicines, nil
	}
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).Order("id").Find(&medicines).Error; err != nil {
		return nil, err
	}
	return medicines, nil
}

func (r *medicineRepository) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	medicine := model.Medicine{ID: id}
	res := GetDB(ctx, r.db).Model(&medicine).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock"}}}).
		Where("stock + ? >= 0", delta).
		UpdateColumns(map[string]interface{}{
			"stock":      gorm.Expr("stock + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrStockConflict
	}
	return medicine.Stock, nil
}
