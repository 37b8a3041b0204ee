package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMinStockAlert is used when a medicine is created without its own alert level.
const DefaultMinStockAlert = 10

// Category groups medicines, e.g. "Antibiotics"
type Category struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(120);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubCategory is an optional second level below Category
type SubCategory struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CategoryID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_subcategory_name" json:"category_id"`
	Name       string    `gorm:"type:varchar(120);not null;uniqueIndex:idx_subcategory_name" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Medicine is a stocked, sellable item. Stock is only changed by bills, returns
// and administrative edits, and never goes below zero.
type Medicine struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name          string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_medicine_batch" json:"name"`
	Brand         string          `gorm:"type:varchar(255);not null" json:"brand"`
	CategoryID    uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:idx_medicine_batch" json:"category_id"`
	Category      *Category       `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	SubCategoryID *uuid.UUID      `gorm:"type:uuid;index" json:"sub_category_id"`
	SubCategory   *SubCategory    `gorm:"foreignKey:SubCategoryID" json:"sub_category,omitempty"`
	BatchNumber   string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_medicine_batch" json:"batch_number"`
	ExpiryDate    time.Time       `gorm:"type:date;not null;index" json:"expiry_date"`
	Price         decimal.Decimal `gorm:"type:decimal(18,4);not null;check:chk_medicines_price,price >= 0" json:"price"`
	Stock         int             `gorm:"type:int;default:0;not null;check:chk_medicines_stock,stock >= 0" json:"stock"`
	MinStockAlert int             `gorm:"type:int;default:10;not null" json:"min_stock_alert"`
	IsActive      bool            `gorm:"default:true;not null;index" json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsLowStock reports whether stock is at or below the medicine's alert level.
func (m *Medicine) IsLowStock() bool {
	return m.Stock <= m.MinStockAlert
}

// Movement types recorded on the stock card
const (
	MovementSale       = "SALE"
	MovementReturn     = "RETURN"
	MovementAdjustment = "ADJUSTMENT"
)

// StockMovement (stock card) records every stock change with the resulting level.
type StockMovement struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MedicineID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"medicine_id"`
	ReferenceID     *uuid.UUID `gorm:"type:uuid;index" json:"reference_id"` // bill or return; nil for manual adjustments
	MovementType    string     `gorm:"type:varchar(20);not null" json:"movement_type"`
	QuantityChanged int        `gorm:"type:int;not null" json:"quantity_changed"`
	StockAfter      int        `gorm:"type:int;not null" json:"stock_after"`
	CreatedBy       *uuid.UUID `gorm:"type:uuid" json:"created_by"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
}
