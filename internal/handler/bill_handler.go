package handler

import (
	"net/http"

	"medledger/internal/middleware"
	"medledger/internal/service"
	"medledger/pkg/pagination"
	"medledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type BillHandler struct {
	ledger service.LedgerService
}

func NewBillHandler(ledger service.LedgerService) *BillHandler {
	return &BillHandler{ledger: ledger}
}

func (h *BillHandler) RegisterRoutes(router *gin.RouterGroup) {
	bills := router.Group("/api/bills", middleware.RequireRole(anyRole...))
	{
		bills.POST("", h.CreateBill)
		bills.GET("", h.ListBills)
		bills.GET("/:id", h.GetBill)
		bills.GET("/:id/returns", h.ListReturns)
	}
	router.POST("/api/returns", middleware.RequireRole(anyRole...), h.CreateReturn)
}

// CreateBill sells a cart atomically
// @Summary      Create bill
// @Description  Validates the cart, decrements stock and issues the next bill number in one transaction. Nothing is written when any line fails.
// @Tags         billing
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateBillRequest  true  "Cart"
// @Success      201      {object}  response.Response{data=service.BillResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/bills [post]
func (h *BillHandler) CreateBill(c *gin.Context) {
	var req service.CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}

	bill, err := h.ledger.CreateBill(c.Request.Context(), req, p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, bill))
}

// ListBills returns bills newest first
// @Summary      List bills
// @Tags         billing
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Param        search  query     string  false  "Bill number or customer name"
// @Success      200     {object}  response.Response{data=response.Page}
// @Router       /api/bills [get]
func (h *BillHandler) ListBills(c *gin.Context) {
	params := pagination.Parse(c)

	bills, total, err := h.ledger.ListBills(c.Request.Context(), c.Query("search"), params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Page{
		Items: bills,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}

// GetBill returns a bill with its lines and returns
// @Summary      Get bill
// @Tags         billing
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Bill ID"
// @Success      200  {object}  response.Response{data=service.BillResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/bills/{id} [get]
func (h *BillHandler) GetBill(c *gin.Context) {
	bill, err := h.ledger.GetBill(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, bill))
}

// ListReturns lists the returns recorded against a bill
// @Summary      List returns of a bill
// @Tags         returns
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Bill ID"
// @Success      200  {object}  response.Response{data=[]service.ReturnResponse}
// @Router       /api/bills/{id}/returns [get]
func (h *BillHandler) ListReturns(c *gin.Context) {
	returns, err := h.ledger.ListReturns(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, returns))
}

// CreateReturn reverses part of a bill
// @Summary      Create return
// @Description  Restocks returned medicines, refunds at the original sale price and lowers the bill total (never below zero).
// @Tags         returns
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateReturnRequest  true  "Return"
// @Success      201      {object}  response.Response{data=service.ReturnResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/returns [post]
func (h *BillHandler) CreateReturn(c *gin.Context) {
	var req service.CreateReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}

	ret, err := h.ledger.CreateReturn(c.Request.Context(), req, p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, ret))
}
