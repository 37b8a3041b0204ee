package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMode enum constants
const (
	PaymentCash = "CASH"
	PaymentUPI  = "UPI"
	PaymentCard = "CARD"
)

// ValidPaymentMode reports whether mode is one of the accepted payment modes.
func ValidPaymentMode(mode string) bool {
	return mode == PaymentCash || mode == PaymentUPI || mode == PaymentCard
}

// Bill is a committed sale. GrossAmount never changes; TotalAmount is reduced by
// returns and never drops below zero.
type Bill struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BillNumber   string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"bill_number"`
	CustomerName string          `gorm:"type:varchar(255);not null" json:"customer_name"`
	PaymentMode  string          `gorm:"type:varchar(10);not null" json:"payment_mode"`
	GrossAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"gross_amount"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(18,4);not null;check:chk_bills_total,total_amount >= 0" json:"total_amount"`
	BilledBy     uuid.UUID       `gorm:"type:uuid;not null;index" json:"billed_by"`
	Items        []BillItem      `gorm:"foreignKey:BillID" json:"items"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BillItem is one cart line with the unit price captured at sale time.
type BillItem struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BillID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"bill_id"`
	LineNo     int             `gorm:"type:int;not null" json:"line_no"`
	MedicineID uuid.UUID       `gorm:"type:uuid;not null;index" json:"medicine_id"`
	Medicine   *Medicine       `gorm:"foreignKey:MedicineID" json:"medicine,omitempty"`
	Quantity   int             `gorm:"type:int;not null;check:chk_bill_items_qty,quantity > 0" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
}

// LineTotal is quantity × unit price.
func (i BillItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// BillSequence is the durable counter behind bill numbers, one row per epoch
// (prefix + year). It is locked FOR UPDATE while a bill number is issued.
type BillSequence struct {
	Epoch     string    `gorm:"type:varchar(30);primaryKey" json:"epoch"`
	LastValue int64     `gorm:"type:bigint;not null;default:0" json:"last_value"`
	UpdatedAt time.Time `json:"updated_at"`
}
