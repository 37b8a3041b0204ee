package repository

import (
	"context"
	"time"

	"medledger/internal/model"
	"medledger/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BillRepository interface {
	Create(ctx context.Context, bill *model.Bill) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Bill, error)
	// FindByIDForUpdate locks the bill row (items are loaded but not locked;
	// they are immutable).
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Bill, error)
	UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
	List(ctx context.Context, search string, page, limit int) ([]model.Bill, int64, error)
	// LastNumberWithPrefix returns the highest bill number starting with prefix,
	// or "" when there is none.
	LastNumberWithPrefix(ctx context.Context, prefix string) (string, error)
}

type billRepository struct {
	db *gorm.DB
}

func NewBillRepository(db *gorm.DB) BillRepository {
	return &billRepository{db: db}
}

func (r *billRepository) Create(ctx context.Context, bill *model.Bill) error {
	return GetDB(ctx, r.db).Create(bill).Error
}

func (r *billRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Bill, error) {
	var bill model.Bill
	if err := GetDB(ctx, r.db).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_no")
	}).Preload("Items.Medicine").First(&bill, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &bill, nil
}

func (r *billRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Bill, error) {
	db := GetDB(ctx, r.db)
	var bill model.Bill
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&bill).Error; err != nil {
		return nil, notFound(err)
	}
	if err := db.Preload("Medicine").Where("bill_id = ?", id).Order("line_no").Find(&bill.Items).Error; err != nil {
		return nil, err
	}
	return &bill, nil
}

func (r *billRepository) UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	return GetDB(ctx, r.db).Model(&model.Bill{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"total_amount": total, "updated_at": time.Now()}).Error
}

func (r *billRepository) List(ctx context.Context, search string, page, limit int) ([]model.Bill, int64, error) {
	var bills []model.Bill
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Bill{})
	if search != "" {
		db = db.Where("customer_name ILIKE ? OR bill_number ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Preload("Items").Order("created_at desc").Scopes(pagination.New(page, limit).Scope()).Find(&bills).Error; err != nil {
		return nil, 0, err
	}

	return bills, total, nil
}

func (r *billRepository) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	var numbers []string
	// Longer suffixes sort after shorter ones once the counter passes 999999.
	if err := GetDB(ctx, r.db).Model(&model.Bill{}).
		Where("bill_number LIKE ?", prefix+"%").
		Order("LENGTH(bill_number) DESC, bill_number DESC").
		Limit(1).
		Pluck("bill_number", &numbers).Error; err != nil {
		return "", err
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return numbers[0], nil
}
