package service

import (
	"time"

	"medledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Principal is the authenticated actor behind a request.
type Principal struct {
	ID   uuid.UUID
	Role string
}

// LineRequest is one requested (medicine, quantity) pair of a cart or a return.
type LineRequest struct {
	MedicineID string `json:"medicine_id" example:"7d9f1b7e-2a8e-4a55-9a77-3d1c0b6f9e21"`
	Quantity   int    `json:"quantity" example:"2"`
}

type CreateBillRequest struct {
	CustomerName string        `json:"customer_name" example:"Asha Verma"`
	PaymentMode  string        `json:"payment_mode" example:"CASH"`
	Items        []LineRequest `json:"items"`
}

type CreateReturnRequest struct {
	BillID string        `json:"bill_id"`
	Reason string        `json:"reason" example:"CUSTOMER_RETURN"`
	Items  []LineRequest `json:"items"`
}

type BillItemResponse struct {
	LineNo       int             `json:"line_no"`
	MedicineID   uuid.UUID       `json:"medicine_id"`
	MedicineName string          `json:"medicine_name,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type BillResponse struct {
	ID           uuid.UUID          `json:"id"`
	BillNumber   string             `json:"bill_number"`
	CustomerName string             `json:"customer_name"`
	PaymentMode  string             `json:"payment_mode"`
	GrossAmount  decimal.Decimal    `json:"gross_amount"`
	TotalAmount  decimal.Decimal    `json:"total_amount"`
	BilledBy     uuid.UUID          `json:"billed_by"`
	Items        []BillItemResponse `json:"items"`
	Returns      []ReturnResponse   `json:"returns,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

type ReturnItemResponse struct {
	MedicineID uuid.UUID       `json:"medicine_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type ReturnResponse struct {
	ID           uuid.UUID            `json:"id"`
	BillID       uuid.UUID            `json:"bill_id"`
	RefundAmount decimal.Decimal      `json:"refund_amount"`
	Reason       string               `json:"reason"`
	ReturnedBy   uuid.UUID            `json:"returned_by"`
	Items        []ReturnItemResponse `json:"items"`
	BillTotal    *decimal.Decimal     `json:"bill_total,omitempty"` // bill total after this return
	CreatedAt    time.Time            `json:"created_at"`
}

func toBillResponse(bill *model.Bill) *BillResponse {
	items := make([]BillItemResponse, 0, len(bill.Items))
	for _, it := range bill.Items {
		row := BillItemResponse{
			LineNo:     it.LineNo,
			MedicineID: it.MedicineID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			LineTotal:  it.LineTotal(),
		}
		if it.Medicine != nil {
			row.MedicineName = it.Medicine.Name
		}
		items = append(items, row)
	}
	return &BillResponse{
		ID:           bill.ID,
		BillNumber:   bill.BillNumber,
		CustomerName: bill.CustomerName,
		PaymentMode:  bill.PaymentMode,
		GrossAmount:  bill.GrossAmount,
		TotalAmount:  bill.TotalAmount,
		BilledBy:     bill.BilledBy,
		Items:        items,
		CreatedAt:    bill.CreatedAt,
	}
}

func toReturnResponse(ret *model.SaleReturn) ReturnResponse {
	items := make([]ReturnItemResponse, 0, len(ret.Items))
	for _, it := range ret.Items {
		items = append(items, ReturnItemResponse{MedicineID: it.MedicineID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return ReturnResponse{
		ID:           ret.ID,
		BillID:       ret.BillID,
		RefundAmount: ret.RefundAmount,
		Reason:       ret.Reason,
		ReturnedBy:   ret.ReturnedBy,
		Items:        items,
		CreatedAt:    ret.CreatedAt,
	}
}
