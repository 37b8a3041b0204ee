package service

import (
	"context"
	"strings"
	"time"

	"medledger/internal/model"
	"medledger/internal/repository"
)

const (
	defaultTopLimit     = 5
	defaultExpiringDays = 30
	recentBillsLimit    = 5
)

// SalesReportResponse is the aggregate for a date range plus its per-day series.
type SalesReportResponse struct {
	model.SalesReport
	Daily []repository.DailySalesRow `json:"daily"`
}

type ReportService interface {
	Dashboard(ctx context.Context) (*model.DashboardSummary, error)
	SalesReport(ctx context.Context, from, to string) (*SalesReportResponse, error)
	TopSelling(ctx context.Context, from, to string, limit int) ([]model.MedicineRanking, error)
	LowStock(ctx context.Context, threshold int) ([]MedicineResponse, error)
	Expiring(ctx context.Context, days int) ([]MedicineResponse, error)
}

type reportService struct {
	repo              repository.ReportRepository
	lowStockThreshold int
	now               func() time.Time
}

func NewReportService(repo repository.ReportRepository, lowStockThreshold int, clock func() time.Time) ReportService {
	if lowStockThreshold <= 0 {
		lowStockThreshold = model.DefaultMinStockAlert
	}
	if clock == nil {
		clock = time.Now
	}
	return &reportService{repo: repo, lowStockThreshold: lowStockThreshold, now: clock}
}

func (s *reportService) Dashboard(ctx context.Context) (*model.DashboardSummary, error) {
	now := s.now()
	start, end := dayBounds(now, now)

	summary := &model.DashboardSummary{}
	var err error
	if summary.TotalMedicines, err = s.repo.CountActiveMedicines(ctx); err != nil {
		return nil, classify(err)
	}
	if summary.LowStockCount, err = s.repo.CountLowStock(ctx, s.lowStockThreshold); err != nil {
		return nil, classify(err)
	}
	sales, err := s.repo.SalesTotals(ctx, start, end)
	if err != nil {
		return nil, classify(err)
	}
	refunds, err := s.repo.RefundTotals(ctx, start, end)
	if err != nil {
		return nil, classify(err)
	}
	summary.TodayBills = sales.BillCount
	summary.TodayRevenue = sales.NetSales
	summary.TodayRefunds = refunds.TotalRefunds

	if summary.RecentBills, err = s.repo.RecentBills(ctx, recentBillsLimit); err != nil {
		return nil, classify(err)
	}
	return summary, nil
}

func (s *reportService) SalesReport(ctx context.Context, from, to string) (*SalesReportResponse, error) {
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return nil, err
	}

	sales, err := s.repo.SalesTotals(ctx, start, end)
	if err != nil {
		return nil, classify(err)
	}
	refunds, err := s.repo.RefundTotals(ctx, start, end)
	if err != nil {
		return nil, classify(err)
	}
	daily, err := s.repo.DailySales(ctx, start, end)
	if err != nil {
		return nil, classify(err)
	}

	return &SalesReportResponse{
		SalesReport: model.SalesReport{
			From:         start,
			To:           end,
			BillCount:    sales.BillCount,
			GrossSales:   sales.GrossSales,
			NetSales:     sales.NetSales,
			TotalRefunds: refunds.TotalRefunds,
			ReturnCount:  refunds.ReturnCount,
		},
		Daily: daily,
	}, nil
}

func (s *reportService) TopSelling(ctx context.Context, from, to string, limit int) ([]model.MedicineRanking, error) {
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTopLimit
	}
	rankings, err := s.repo.TopSelling(ctx, start, end, limit)
	if err != nil {
		return nil, classify(err)
	}
	return rankings, nil
}

func (s *reportService) LowStock(ctx context.Context, threshold int) ([]MedicineResponse, error) {
	if threshold <= 0 {
		threshold = s.lowStockThreshold
	}
	medicines, err := s.repo.LowStock(ctx, threshold)
	if err != nil {
		return nil, classify(err)
	}
	return toMedicineResponses(medicines), nil
}

func (s *reportService) Expiring(ctx context.Context, days int) ([]MedicineResponse, error) {
	if days <= 0 {
		days = defaultExpiringDays
	}
	now := s.now()
	medicines, err := s.repo.ExpiringBefore(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, classify(err)
	}
	return toMedicineResponses(medicines), nil
}

// parseRange reads YYYY-MM-DD bounds; from is required, to defaults to today and
// covers the whole day.
func (s *reportService) parseRange(from, to string) (time.Time, time.Time, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return time.Time{}, time.Time{}, missingField("from")
	}
	fromDate, err := time.ParseInLocation(dateLayout, from, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, invalidField("from", "must be a date in YYYY-MM-DD format")
	}
	toDate := s.now()
	if to = strings.TrimSpace(to); to != "" {
		if toDate, err = time.ParseInLocation(dateLayout, to, time.UTC); err != nil {
			return time.Time{}, time.Time{}, invalidField("to", "must be a date in YYYY-MM-DD format")
		}
	}
	start, end := dayBounds(fromDate, toDate)
	if end.Before(start) {
		return time.Time{}, time.Time{}, invalidField("to", "must not be before from")
	}
	return start, end, nil
}

func dayBounds(from, to time.Time) (time.Time, time.Time) {
	y, m, d := from.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, from.Location())
	y, m, d = to.Date()
	end := time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), to.Location())
	return start, end
}

func toMedicineResponses(medicines []model.Medicine) []MedicineResponse {
	res := make([]MedicineResponse, 0, len(medicines))
	for i := range medicines {
		res = append(res, *toMedicineResponse(&medicines[i]))
	}
	return res
}
