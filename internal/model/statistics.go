package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DashboardSummary is the landing-page snapshot of the pharmacy
type DashboardSummary struct {
	TotalMedicines int64           `json:"total_medicines"`
	LowStockCount  int64           `json:"low_stock_count"`
	TodayBills     int64           `json:"today_bills"`
	TodayRevenue   decimal.Decimal `json:"today_revenue"`
	TodayRefunds   decimal.Decimal `json:"today_refunds"`
	RecentBills    []BillSummary   `json:"recent_bills"`
}

// SalesReport aggregates bills created in [From, To]
type SalesReport struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	BillCount    int64           `json:"bill_count"`
	GrossSales   decimal.Decimal `json:"gross_sales"`
	NetSales     decimal.Decimal `json:"net_sales"`
	TotalRefunds decimal.Decimal `json:"total_refunds"`
	ReturnCount  int64           `json:"return_count"`
}

// MedicineRanking represents a medicine ranked by quantity sold
type MedicineRanking struct {
	MedicineID    uuid.UUID       `json:"medicine_id"`
	MedicineName  string          `json:"medicine_name"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// BillSummary is a short bill listing row
type BillSummary struct {
	ID           uuid.UUID       `json:"id"`
	BillNumber   string          `json:"bill_number"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaymentMode  string          `json:"payment_mode"`
	CreatedAt    time.Time       `json:"created_at"`
}
