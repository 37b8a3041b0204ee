package handler

import (
	"net/http"
	"strconv"

	"medledger/internal/middleware"
	"medledger/internal/service"
	"medledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type ReportHandler struct {
	reportService service.ReportService
}

func NewReportHandler(reportService service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

func (h *ReportHandler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/api/reports", middleware.RequireRole(adminOnly...))
	{
		reports.GET("/dashboard", h.Dashboard)
		reports.GET("/low-stock", h.LowStock)
		reports.GET("/expiring", h.Expiring)
		reports.GET("/sales", h.Sales)
		reports.GET("/top-selling", h.TopSelling)
	}
}

// @Summary      Dashboard summary
// @Description  Active medicines, low-stock count, today's bills, revenue and refunds, and the latest bills
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=model.DashboardSummary}
// @Router       /api/reports/dashboard [get]
func (h *ReportHandler) Dashboard(c *gin.Context) {
	summary, err := h.reportService.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, summary))
}

// @Summary      Sales report
// @Description  Bill count, gross and net sales, refunds and a daily series between two dates (inclusive)
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        from  query     string  true   "Start date (YYYY-MM-DD)"
// @Param        to    query     string  false  "End date (YYYY-MM-DD, default today)"
// @Success      200   {object}  response.Response{data=service.SalesReportResponse}
// @Failure      400   {object}  response.Response
// @Router       /api/reports/sales [get]
func (h *ReportHandler) Sales(c *gin.Context) {
	report, err := h.reportService.SalesReport(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// @Summary      Top selling medicines
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        from   query     string  true   "Start date (YYYY-MM-DD)"
// @Param        to     query     string  false  "End date (YYYY-MM-DD, default today)"
// @Param        limit  query     int     false  "Number of medicines (default 5)"
// @Success      200    {object}  response.Response{data=[]model.MedicineRanking}
// @Router       /api/reports/top-selling [get]
func (h *ReportHandler) TopSelling(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rankings, err := h.reportService.TopSelling(c.Request.Context(), c.Query("from"), c.Query("to"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rankings))
}

// @Summary      Low stock medicines
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        threshold  query     int  false  "Stock at or below (default LOW_STOCK_THRESHOLD)"
// @Success      200        {object}  response.Response{data=[]service.MedicineResponse}
// @Router       /api/reports/low-stock [get]
func (h *ReportHandler) LowStock(c *gin.Context) {
	threshold, _ := strconv.Atoi(c.Query("threshold"))
	medicines, err := h.reportService.LowStock(c.Request.Context(), threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, medicines))
}

// @Summary      Medicines expiring soon
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        days  query     int  false  "Window in days (default 30)"
// @Success      200   {object}  response.Response{data=[]service.MedicineResponse}
// @Router       /api/reports/expiring [get]
func (h *ReportHandler) Expiring(c *gin.Context) {
	days, _ := strconv.Atoi(c.Query("days"))
	medicines, err := h.reportService.Expiring(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, medicines))
}
