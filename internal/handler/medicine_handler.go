package handler

import (
	"net/http"

	"medledger/internal/middleware"
	"medledger/internal/service"
	"medledger/pkg/pagination"
	"medledger/pkg/response"

	"github.com/gin-gonic/gin"
)

type MedicineHandler struct {
	catalog service.CatalogService
}

func NewMedicineHandler(catalog service.CatalogService) *MedicineHandler {
	return &MedicineHandler{catalog: catalog}
}

func (h *MedicineHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	{
		api.GET("/categories", middleware.RequireRole(anyRole...), h.ListCategories)
		api.POST("/categories", middleware.RequireRole(adminOnly...), h.CreateCategory)
		api.GET("/categories/:id/sub-categories", middleware.RequireRole(anyRole...), h.ListSubCategories)
		api.POST("/categories/:id/sub-categories", middleware.RequireRole(adminOnly...), h.CreateSubCategory)

		api.GET("/medicines", middleware.RequireRole(anyRole...), h.ListMedicines)
		api.GET("/medicines/:id", middleware.RequireRole(anyRole...), h.GetMedicine)
		api.GET("/medicines/:id/stock-card", middleware.RequireRole(anyRole...), h.StockCard)
		api.POST("/medicines", middleware.RequireRole(adminOnly...), h.CreateMedicine)
		api.PATCH("/medicines/:id", middleware.RequireRole(adminOnly...), h.UpdateMedicine)
	}
}

// ListCategories
// @Summary      List categories
// @Tags         catalog
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.Category}
// @Router       /api/categories [get]
func (h *MedicineHandler) ListCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, categories))
}

// CreateCategory
// @Summary      Create category
// @Tags         catalog
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateCategoryRequest  true  "Category"
// @Success      201      {object}  response.Response{data=model.Category}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/categories [post]
func (h *MedicineHandler) CreateCategory(c *gin.Context) {
	var req service.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}

	category, err := h.catalog.CreateCategory(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, category))
}

// ListSubCategories
// @Summary      List sub-categories of a category
// @Tags         catalog
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Category ID"
// @Success      200  {object}  response.Response{data=[]model.SubCategory}
// @Router       /api/categories/{id}/sub-categories [get]
func (h *MedicineHandler) ListSubCategories(c *gin.Context) {
	subs, err := h.catalog.ListSubCategories(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, subs))
}

// CreateSubCategory
// @Summary      Create sub-category
// @Tags         catalog
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                            true  "Category ID"
// @Param        payload  body      service.CreateSubCategoryRequest  true  "Sub-category"
// @Success      201      {object}  response.Response{data=model.SubCategory}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/categories/{id}/sub-categories [post]
func (h *MedicineHandler) CreateSubCategory(c *gin.Context) {
	var req service.CreateSubCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}

	sub, err := h.catalog.CreateSubCategory(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, sub))
}

// ListMedicines handles retrieving the paginated catalog with current stock
// @Summary      List medicines
// @Tags         catalog
// @Security     BearerAuth
// @Produce      json
// @Param        page             query     int     false  "Page number (default 1)"
// @Param        limit            query     int     false  "Items per page (default 20)"
// @Param        search           query     string  false  "Search by medicine name"
// @Param        category_id      query     string  false  "Filter by category"
// @Param        sub_category_id  query     string  false  "Filter by sub-category"
// @Param        active           query     bool    false  "Only active medicines"
// @Success      200              {object}  response.Response{data=response.Page}
// @Router       /api/medicines [get]
func (h *MedicineHandler) ListMedicines(c *gin.Context) {
	params := pagination.Parse(c)

	medicines, total, err := h.catalog.ListMedicines(c.Request.Context(), service.MedicineQuery{
		Search:        c.Query("search"),
		CategoryID:    c.Query("category_id"),
		SubCategoryID: c.Query("sub_category_id"),
		ActiveOnly:    c.Query("active") == "true",
		Page:          params.Page,
		Limit:         params.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Page{
		Items: medicines,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}

// GetMedicine
// @Summary      Get medicine
// @Tags         catalog
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Medicine ID"
// @Success      200  {object}  response.Response{data=service.MedicineResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/medicines/{id} [get]
func (h *MedicineHandler) GetMedicine(c *gin.Context) {
	med, err := h.catalog.GetMedicine(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, med))
}

// StockCard lists every stock movement of a medicine, newest first
// @Summary      Stock card
// @Tags         catalog
// @Security     BearerAuth
// @Produce      json
// @Param        id     path      string  true   "Medicine ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Page}
// @Router       /api/medicines/{id}/stock-card [get]
func (h *MedicineHandler) StockCard(c *gin.Context) {
	params := pagination.Parse(c)

	movements, total, err := h.catalog.StockCard(c.Request.Context(), c.Param("id"), params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Page{
		Items: movements,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}

// CreateMedicine adds a medicine batch to the catalog
// @Summary      Create medicine
// @Tags         catalog
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateMedicineRequest  true  "Medicine"
// @Success      201      {object}  response.Response{data=service.MedicineResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/medicines [post]
func (h *MedicineHandler) CreateMedicine(c *gin.Context) {
	var req service.CreateMedicineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}

	med, err := h.catalog.CreateMedicine(c.Request.Context(), p, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, med))
}

// UpdateMedicine applies a partial update; a stock change is recorded as an adjustment
// @Summary      Update medicine
// @Tags         catalog
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                         true  "Medicine ID"
// @Param        payload  body      service.UpdateMedicineRequest  true  "Fields to change"
// @Success      200      {object}  response.Response{data=service.MedicineResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/medicines/{id} [patch]
func (h *MedicineHandler) UpdateMedicine(c *gin.Context) {
	var req service.UpdateMedicineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, ok := principal(c)
	if !ok {
		return
	}

	med, err := h.catalog.UpdateMedicine(c.Request.Context(), p, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, med))
}
