package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Return reasons
const (
	ReasonDamaged        = "DAMAGED"
	ReasonExpired        = "EXPIRED"
	ReasonCustomerReturn = "CUSTOMER_RETURN"
	ReasonWrongBill      = "WRONG_BILL"
)

// ValidReturnReason reports whether reason is one of the accepted return reasons.
func ValidReturnReason(reason string) bool {
	switch reason {
	case ReasonDamaged, ReasonExpired, ReasonCustomerReturn, ReasonWrongBill:
		return true
	}
	return false
}

// SaleReturn reverses part of a bill. Immutable once written.
type SaleReturn struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BillID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"bill_id"`
	Items        []ReturnItem    `gorm:"foreignKey:ReturnID" json:"items"`
	RefundAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"refund_amount"`
	Reason       string          `gorm:"type:varchar(20);not null" json:"reason"`
	ReturnedBy   uuid.UUID       `gorm:"type:uuid;not null" json:"returned_by"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
}

// ReturnItem carries the unit price of the original sale line.
type ReturnItem struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReturnID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"return_id"`
	MedicineID uuid.UUID       `gorm:"type:uuid;not null;index" json:"medicine_id"`
	Quantity   int             `gorm:"type:int;not null;check:chk_return_items_qty,quantity > 0" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
}
