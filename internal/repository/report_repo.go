package repository

import (
	"context"
	"fmt"
	"time"

	"medledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesTotals is one aggregate row over bills in a time window.
type SalesTotals struct {
	BillCount  int64           `gorm:"column:bill_count"`
	GrossSales decimal.Decimal `gorm:"column:gross_sales"`
	NetSales   decimal.Decimal `gorm:"column:net_sales"`
}

// RefundTotals aggregates returns in a time window.
type RefundTotals struct {
	ReturnCount  int64           `gorm:"column:return_count"`
	TotalRefunds decimal.Decimal `gorm:"column:total_refunds"`
}

// DailySalesRow is one bucket of the daily sales series.
type DailySalesRow struct {
	Period     string          `gorm:"column:period" json:"period"`
	BillCount  int64           `gorm:"column:bill_count" json:"bill_count"`
	GrossSales decimal.Decimal `gorm:"column:gross_sales" json:"gross_sales"`
	NetSales   decimal.Decimal `gorm:"column:net_sales" json:"net_sales"`
}

type ReportRepository interface {
	CountActiveMedicines(ctx context.Context) (int64, error)
	CountLowStock(ctx context.Context, threshold int) (int64, error)
	SalesTotals(ctx context.Context, start, end time.Time) (SalesTotals, error)
	RefundTotals(ctx context.Context, start, end time.Time) (RefundTotals, error)
	DailySales(ctx context.Context, start, end time.Time) ([]DailySalesRow, error)
	TopSelling(ctx context.Context, start, end time.Time, limit int) ([]model.MedicineRanking, error)
	LowStock(ctx context.Context, threshold int) ([]model.Medicine, error)
	ExpiringBefore(ctx context.Context, now, until time.Time) ([]model.Medicine, error)
	RecentBills(ctx context.Context, limit int) ([]model.BillSummary, error)
}

type reportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) CountActiveMedicines(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Medicine{}).Where("is_active = ?", true).Count(&count).Error
	return count, err
}

func (r *reportRepository) CountLowStock(ctx context.Context, threshold int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Medicine{}).
		Where("is_active = ? AND stock <= ?", true, threshold).Count(&count).Error
	return count, err
}

func (r *reportRepository) SalesTotals(ctx context.Context, start, end time.Time) (SalesTotals, error) {
	var totals SalesTotals
	if err := r.db.WithContext(ctx).Model(&model.Bill{}).
		Select("COUNT(*) AS bill_count, COALESCE(SUM(gross_amount), 0) AS gross_sales, COALESCE(SUM(total_amount), 0) AS net_sales").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Scan(&totals).Error; err != nil {
		return SalesTotals{}, fmt.Errorf("failed to query sales totals: %w", err)
	}
	return totals, nil
}

func (r *reportRepository) RefundTotals(ctx context.Context, start, end time.Time) (RefundTotals, error) {
	var totals RefundTotals
	if err := r.db.WithContext(ctx).Model(&model.SaleReturn{}).
		Select("COUNT(*) AS return_count, COALESCE(SUM(refund_amount), 0) AS total_refunds").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Scan(&totals).Error; err != nil {
		return RefundTotals{}, fmt.Errorf("failed to query refund totals: %w", err)
	}
	return totals, nil
}

func (r *reportRepository) DailySales(ctx context.Context, start, end time.Time) ([]DailySalesRow, error) {
	query := `
		SELECT
			TO_CHAR(DATE_TRUNC('day', b.created_at), 'YYYY-MM-DD') AS period,
			COUNT(*) AS bill_count,
			COALESCE(SUM(b.gross_amount), 0) AS gross_sales,
			COALESCE(SUM(b.total_amount), 0) AS net_sales
		FROM bills b
		WHERE b.created_at >= ? AND b.created_at <= ?
		GROUP BY DATE_TRUNC('day', b.created_at)
		ORDER BY period
	`

	var rows []DailySalesRow
	if err := r.db.WithContext(ctx).Raw(query, start, end).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query daily sales: %w", err)
	}
	return rows, nil
}

// TopSelling ranks medicines by quantity sold, net of returns.
func (r *reportRepository) TopSelling(ctx context.Context, start, end time.Time, limit int) ([]model.MedicineRanking, error) {
	query := `
		SELECT
			m.id AS medicine_id,
			m.name AS medicine_name,
			SUM(bi.quantity) - COALESCE(MAX(rt.returned), 0) AS total_quantity,
			SUM(bi.quantity * bi.unit_price) - COALESCE(MAX(rt.refunded), 0) AS total_value
		FROM bill_items bi
		JOIN bills b ON b.id = bi.bill_id
		JOIN medicines m ON m.id = bi.medicine_id
		LEFT JOIN (
			SELECT ri.medicine_id, SUM(ri.quantity) AS returned, SUM(ri.quantity * ri.unit_price) AS refunded
			FROM return_items ri
			JOIN sale_returns sr ON sr.id = ri.return_id
			JOIN bills rb ON rb.id = sr.bill_id
			WHERE rb.created_at >= ? AND rb.created_at <= ?
			GROUP BY ri.medicine_id
		) rt ON rt.medicine_id = m.id
		WHERE b.created_at >= ? AND b.created_at <= ?
		GROUP BY m.id, m.name
		ORDER BY total_quantity DESC
		LIMIT ?
	`

	var rankings []model.MedicineRanking
	if err := r.db.WithContext(ctx).Raw(query, start, end, start, end, limit).Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query top selling medicines: %w", err)
	}
	return rankings, nil
}

func (r *reportRepository) LowStock(ctx context.Context, threshold int) ([]model.Medicine, error) {
	var medicines []model.Medicine
	if err := r.db.WithContext(ctx).Preload("Category").
		Where("is_active = ? AND stock <= ?", true, threshold).
		Order("stock ASC, name ASC").Find(&medicines).Error; err != nil {
		return nil, fmt.Errorf("failed to query low stock medicines: %w", err)
	}
	return medicines, nil
}

func (r *reportRepository) ExpiringBefore(ctx context.Context, now, until time.Time) ([]model.Medicine, error) {
	var medicines []model.Medicine
	if err := r.db.WithContext(ctx).Preload("Category").
		Where("is_active = ? AND expiry_date >= ? AND expiry_date <= ?", true, now, until).
		Order("expiry_date ASC").Find(&medicines).Error; err != nil {
		return nil, fmt.Errorf("failed to query expiring medicines: %w", err)
	}
	return medicines, nil
}

func (r *reportRepository) RecentBills(ctx context.Context, limit int) ([]model.BillSummary, error) {
	var bills []model.BillSummary
	if err := r.db.WithContext(ctx).Model(&model.Bill{}).
		Select("id, bill_number, customer_name, total_amount, payment_mode, created_at").
		Order("created_at DESC").Limit(limit).
		Scan(&bills).Error; err != nil {
		return nil, fmt.Errorf("failed to query recent bills: %w", err)
	}
	return bills, nil
}
