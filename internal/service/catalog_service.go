package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"medledger/internal/events"
	"medledger/internal/logging"
	"medledger/internal/model"
	"medledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// DTOs
type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type CreateSubCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type CreateMedicineRequest struct {
	Name          string          `json:"name"`
	Brand         string          `json:"brand"`
	CategoryID    string          `json:"category_id"`
	SubCategoryID string          `json:"sub_category_id"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    string          `json:"expiry_date" example:"2027-06-30"`
	Price         decimal.Decimal `json:"price" swaggertype:"string" example:"12.50"`
	Stock         int             `json:"stock"`
	MinStockAlert *int            `json:"min_stock_alert"`
}

// UpdateMedicineRequest is a partial update; nil fields are left unchanged.
type UpdateMedicineRequest struct {
	Name          *string          `json:"name"`
	Brand         *string          `json:"brand"`
	SubCategoryID *string          `json:"sub_category_id"`
	BatchNumber   *string          `json:"batch_number"`
	ExpiryDate    *string          `json:"expiry_date"`
	Price         *decimal.Decimal `json:"price" swaggertype:"string"`
	Stock         *int             `json:"stock"`
	MinStockAlert *int             `json:"min_stock_alert"`
	IsActive      *bool            `json:"is_active"`
}

type MedicineResponse struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Brand           string          `json:"brand"`
	CategoryID      uuid.UUID       `json:"category_id"`
	CategoryName    string          `json:"category_name,omitempty"`
	SubCategoryID   *uuid.UUID      `json:"sub_category_id,omitempty"`
	SubCategoryName string          `json:"sub_category_name,omitempty"`
	BatchNumber     string          `json:"batch_number"`
	ExpiryDate      string          `json:"expiry_date"`
	Price           decimal.Decimal `json:"price"`
	Stock           int             `json:"stock"`
	MinStockAlert   int             `json:"min_stock_alert"`
	IsLowStock      bool            `json:"is_low_stock"`
	IsActive        bool            `json:"is_active"`
}

type MedicineQuery struct {
	Search        string
	CategoryID    string
	SubCategoryID string
	ActiveOnly    bool
	Page          int
	Limit         int
}

type CatalogService interface {
	CreateCategory(ctx context.Context, p Principal, req CreateCategoryRequest) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	CreateSubCategory(ctx context.Context, p Principal, categoryID string, req CreateSubCategoryRequest) (*model.SubCategory, error)
	ListSubCategories(ctx context.Context, categoryID string) ([]model.SubCategory, error)

	CreateMedicine(ctx context.Context, p Principal, req CreateMedicineRequest) (*MedicineResponse, error)
	UpdateMedicine(ctx context.Context, p Principal, id string, req UpdateMedicineRequest) (*MedicineResponse, error)
	GetMedicine(ctx context.Context, id string) (*MedicineResponse, error)
	ListMedicines(ctx context.Context, q MedicineQuery) ([]MedicineResponse, int64, error)
	StockCard(ctx context.Context, medicineID string, page, limit int) ([]model.StockMovement, int64, error)
}

type CatalogDeps struct {
	TxManager  repository.TransactionManager
	Categories repository.CategoryRepository
	Medicines  repository.MedicineRepository
	Movements  repository.StockMovementRepository
	Audits     repository.AuditRepository
	Publisher  events.Publisher
	Logger     *logging.Logger
	Clock      func() time.Time
}

type catalogService struct {
	txManager  repository.TransactionManager
	categories repository.CategoryRepository
	medicines  repository.MedicineRepository
	movements  repository.StockMovementRepository
	audits     repository.AuditRepository
	publisher  events.Publisher
	log        *logging.Logger
	now        func() time.Time
}

func NewCatalogService(deps CatalogDeps) CatalogService {
	s := &catalogService{
		txManager:  deps.TxManager,
		categories: deps.Categories,
		medicines:  deps.Medicines,
		movements:  deps.Movements,
		audits:     deps.Audits,
		publisher:  deps.Publisher,
		log:        deps.Logger,
		now:        deps.Clock,
	}
	if s.publisher == nil {
		s.publisher = events.Nop
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.WithComponent("catalog")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *catalogService) CreateCategory(ctx context.Context, p Principal, req CreateCategoryRequest) (*model.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, missingField("name")
	}
	exists, err := s.categories.ExistsByName(ctx, name)
	if err != nil {
		return nil, classify(err)
	}
	if exists {
		return nil, newError(KindConflict, "category already exists", map[string]any{"name": name})
	}

	category := model.Category{Name: name}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.categories.Create(txCtx, &category); err != nil {
			return fmt.Errorf("failed to create category: %w", err)
		}
		return s.audit(txCtx, p, model.ActionCreateCategory, category.ID.String(), category.Name, req)
	})
	if err != nil {
		return nil, s.writeError(err, "category already exists")
	}
	return &category, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]model.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return categories, nil
}

func (s *catalogService) CreateSubCategory(ctx context.Context, p Principal, categoryID string, req CreateSubCategoryRequest) (*model.SubCategory, error) {
	catID, err := uuid.Parse(categoryID)
	if err != nil {
		return nil, invalidField("category_id", "is not a valid id")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, missingField("name")
	}
	if _, err := s.categories.FindByID(ctx, catID); err != nil {
		return nil, s.lookupError(err, "category not found")
	}
	exists, err := s.categories.ExistsSubByName(ctx, catID, name)
	if err != nil {
		return nil, classify(err)
	}
	if exists {
		return nil, newError(KindConflict, "sub-category already exists", map[string]any{"name": name})
	}

	sub := model.SubCategory{CategoryID: catID, Name: name}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.categories.CreateSub(txCtx, &sub); err != nil {
			return fmt.Errorf("failed to create sub-category: %w", err)
		}
		return s.audit(txCtx, p, model.ActionCreateSubCategory, sub.ID.String(), sub.Name, req)
	})
	if err != nil {
		return nil, s.writeError(err, "sub-category already exists")
	}
	return &sub, nil
}

func (s *catalogService) ListSubCategories(ctx context.Context, categoryID string) ([]model.SubCategory, error) {
	catID, err := uuid.Parse(categoryID)
	if err != nil {
		return nil, invalidField("category_id", "is not a valid id")
	}
	subs, err := s.categories.ListSub(ctx, catID)
	if err != nil {
		return nil, classify(err)
	}
	return subs, nil
}

func (s *catalogService) CreateMedicine(ctx context.Context, p Principal, req CreateMedicineRequest) (*MedicineResponse, error) {
	med, err := s.validateNewMedicine(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, med.CategoryID, med.SubCategoryID); err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, med, nil); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.medicines.Create(txCtx, med); err != nil {
			return fmt.Errorf("failed to create medicine: %w", err)
		}
		if med.Stock > 0 {
			if err := s.movements.Create(txCtx, &model.StockMovement{
				MedicineID:      med.ID,
				MovementType:    model.MovementAdjustment,
				QuantityChanged: med.Stock,
				StockAfter:      med.Stock,
				CreatedBy:       &p.ID,
			}); err != nil {
				return fmt.Errorf("failed to record stock movement: %w", err)
			}
		}
		return s.audit(txCtx, p, model.ActionCreateMedicine, med.ID.String(), med.Name, req)
	})
	if err != nil {
		return nil, s.writeError(err, "medicine batch already exists")
	}

	s.log.WithContext(ctx).Info("Medicine created", "medicineId", med.ID.String(), "name", med.Name, "stock", med.Stock)
	return toMedicineResponse(med), nil
}

func (s *catalogService) UpdateMedicine(ctx context.Context, p Principal, id string, req UpdateMedicineRequest) (*MedicineResponse, error) {
	medID, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidField("id", "is not a valid id")
	}
	if req.Stock != nil && *req.Stock < 0 {
		return nil, invalidField("stock", "must not be negative")
	}

	var (
		updated *model.Medicine
		level   *StockLevel
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.medicines.FindByIDsForUpdate(txCtx, []uuid.UUID{medID})
		if err != nil {
			return fmt.Errorf("failed to lock medicine: %w", err)
		}
		if len(locked) == 0 {
			return newError(KindMedicineNotFound, "medicine not found", map[string]any{"medicine_id": medID})
		}
		med := &locked[0]
		if err := s.applyUpdate(med, req); err != nil {
			return err
		}
		if err := s.checkCategory(txCtx, med.CategoryID, med.SubCategoryID); err != nil {
			return err
		}
		if err := s.checkDuplicate(txCtx, med, &med.ID); err != nil {
			return err
		}
		if err := s.medicines.Update(txCtx, med); err != nil {
			return fmt.Errorf("failed to update medicine: %w", err)
		}

		if req.Stock != nil && *req.Stock != med.Stock {
			delta := *req.Stock - med.Stock
			after, err := s.medicines.AdjustStock(txCtx, med.ID, delta)
			if err != nil {
				return fmt.Errorf("failed to adjust stock: %w", err)
			}
			if err := s.movements.Create(txCtx, &model.StockMovement{
				MedicineID:      med.ID,
				MovementType:    model.MovementAdjustment,
				QuantityChanged: delta,
				StockAfter:      after,
				CreatedBy:       &p.ID,
			}); err != nil {
				return fmt.Errorf("failed to record stock movement: %w", err)
			}
			med.Stock = after
			level = &StockLevel{MedicineID: med.ID, Name: med.Name, Stock: after, MinStockAlert: med.MinStockAlert}
		}

		updated = med
		return s.audit(txCtx, p, model.ActionUpdateMedicine, med.ID.String(), med.Name, req)
	})
	if err != nil {
		return nil, s.writeError(err, "medicine batch already exists")
	}

	if level != nil {
		s.notifyStock(ctx, *level)
	}
	return toMedicineResponse(updated), nil
}

func (s *catalogService) GetMedicine(ctx context.Context, id string) (*MedicineResponse, error) {
	medID, err := uuid.Parse(id)
	if err != nil {
		return nil, invalidField("id", "is not a valid id")
	}
	med, err := s.medicines.FindByID(ctx, medID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindMedicineNotFound, "medicine not found", map[string]any{"medicine_id": medID})
		}
		return nil, classify(err)
	}
	return toMedicineResponse(med), nil
}

func (s *catalogService) ListMedicines(ctx context.Context, q MedicineQuery) ([]MedicineResponse, int64, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	filter := repository.MedicineFilter{Search: strings.TrimSpace(q.Search), ActiveOnly: q.ActiveOnly}
	if q.CategoryID != "" {
		id, err := uuid.Parse(q.CategoryID)
		if err != nil {
			return nil, 0, invalidField("category_id", "is not a valid id")
		}
		filter.CategoryID = &id
	}
	if q.SubCategoryID != "" {
		id, err := uuid.Parse(q.SubCategoryID)
		if err != nil {
			return nil, 0, invalidField("sub_category_id", "is not a valid id")
		}
		filter.SubCategoryID = &id
	}

	medicines, total, err := s.medicines.List(ctx, filter, q.Page, q.Limit)
	if err != nil {
		return nil, 0, classify(err)
	}
	res := make([]MedicineResponse, 0, len(medicines))
	for i := range medicines {
		res = append(res, *toMedicineResponse(&medicines[i]))
	}
	return res, total, nil
}

func (s *catalogService) StockCard(ctx context.Context, medicineID string, page, limit int) ([]model.StockMovement, int64, error) {
	id, err := uuid.Parse(medicineID)
	if err != nil {
		return nil, 0, invalidField("id", "is not a valid id")
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	movements, total, err := s.movements.ListByMedicine(ctx, id, page, limit)
	if err != nil {
		return nil, 0, classify(err)
	}
	return movements, total, nil
}

func (s *catalogService) validateNewMedicine(req CreateMedicineRequest) (*model.Medicine, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, missingField("name")
	}
	brand := strings.TrimSpace(req.Brand)
	if brand == "" {
		return nil, missingField("brand")
	}
	if strings.TrimSpace(req.CategoryID) == "" {
		return nil, missingField("category_id")
	}
	catID, err := uuid.Parse(strings.TrimSpace(req.CategoryID))
	if err != nil {
		return nil, invalidField("category_id", "is not a valid id")
	}
	batch := strings.TrimSpace(req.BatchNumber)
	if batch == "" {
		return nil, missingField("batch_number")
	}
	if strings.TrimSpace(req.ExpiryDate) == "" {
		return nil, missingField("expiry_date")
	}

	med := &model.Medicine{
		Name:          name,
		Brand:         brand,
		CategoryID:    catID,
		BatchNumber:   batch,
		Price:         req.Price,
		Stock:         req.Stock,
		MinStockAlert: model.DefaultMinStockAlert,
		IsActive:      true,
	}
	if sub := strings.TrimSpace(req.SubCategoryID); sub != "" {
		subID, err := uuid.Parse(sub)
		if err != nil {
			return nil, invalidField("sub_category_id", "is not a valid id")
		}
		med.SubCategoryID = &subID
	}
	if med.ExpiryDate, err = s.parseExpiry(req.ExpiryDate); err != nil {
		return nil, err
	}
	if !med.Price.IsPositive() {
		return nil, invalidField("price", "must be greater than zero")
	}
	if med.Stock < 0 {
		return nil, invalidField("stock", "must not be negative")
	}
	if req.MinStockAlert != nil {
		if *req.MinStockAlert < 0 {
			return nil, invalidField("min_stock_alert", "must not be negative")
		}
		med.MinStockAlert = *req.MinStockAlert
	}
	return med, nil
}

// applyUpdate copies the non-stock fields of req onto med. Stock goes through
// AdjustStock so the change lands on the stock card.
func (s *catalogService) applyUpdate(med *model.Medicine, req UpdateMedicineRequest) error {
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return invalidField("name", "must not be empty")
		}
		med.Name = strings.TrimSpace(*req.Name)
	}
	if req.Brand != nil {
		if strings.TrimSpace(*req.Brand) == "" {
			return invalidField("brand", "must not be empty")
		}
		med.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.BatchNumber != nil {
		if strings.TrimSpace(*req.BatchNumber) == "" {
			return invalidField("batch_number", "must not be empty")
		}
		med.BatchNumber = strings.TrimSpace(*req.BatchNumber)
	}
	if req.SubCategoryID != nil {
		if *req.SubCategoryID == "" {
			med.SubCategoryID = nil
		} else {
			subID, err := uuid.Parse(*req.SubCategoryID)
			if err != nil {
				return invalidField("sub_category_id", "is not a valid id")
			}
			med.SubCategoryID = &subID
		}
	}
	if req.ExpiryDate != nil {
		expiry, err := s.parseExpiry(*req.ExpiryDate)
		if err != nil {
			return err
		}
		med.ExpiryDate = expiry
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return invalidField("price", "must be greater than zero")
		}
		med.Price = *req.Price
	}
	if req.MinStockAlert != nil {
		if *req.MinStockAlert < 0 {
			return invalidField("min_stock_alert", "must not be negative")
		}
		med.MinStockAlert = *req.MinStockAlert
	}
	if req.IsActive != nil {
		med.IsActive = *req.IsActive
	}
	return nil
}

func (s *catalogService) parseExpiry(raw string) (time.Time, error) {
	expiry, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, invalidField("expiry_date", "must be a date in YYYY-MM-DD format")
	}
	y, m, d := s.now().Date()
	if !expiry.After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
		return time.Time{}, invalidField("expiry_date", "must be in the future")
	}
	return expiry, nil
}

func (s *catalogService) checkCategory(ctx context.Context, categoryID uuid.UUID, subID *uuid.UUID) error {
	if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
		return s.lookupError(err, "category not found")
	}
	if subID == nil {
		return nil
	}
	sub, err := s.categories.FindSubByID(ctx, *subID)
	if err != nil {
		return s.lookupError(err, "sub-category not found")
	}
	if sub.CategoryID != categoryID {
		return invalidField("sub_category_id", "does not belong to the category")
	}
	return nil
}

func (s *catalogService) checkDuplicate(ctx context.Context, med *model.Medicine, excludeID *uuid.UUID) error {
	exists, err := s.medicines.ExistsBatch(ctx, med.Name, med.BatchNumber, med.CategoryID, excludeID)
	if err != nil {
		return fmt.Errorf("failed to check duplicate batch: %w", err)
	}
	if exists {
		return newError(KindConflict, "medicine batch already exists", map[string]any{
			"name":         med.Name,
			"batch_number": med.BatchNumber,
		})
	}
	return nil
}

func (s *catalogService) audit(ctx context.Context, p Principal, action, entityID, entityName string, payload any) error {
	details, _ := json.Marshal(payload)
	if err := s.audits.Log(ctx, &model.AuditLog{
		UserID:     &p.ID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(details),
	}); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *catalogService) lookupError(err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(KindNotFound, msg, nil)
	}
	return classify(err)
}

// writeError maps a failed catalog write; a unique index hit means a concurrent
// duplicate slipped past the pre-check.
func (s *catalogService) writeError(err error, duplicateMsg string) error {
	if repository.IsUniqueViolation(err) {
		return newError(KindConflict, duplicateMsg, nil)
	}
	return classify(err)
}

func (s *catalogService) notifyStock(ctx context.Context, level StockLevel) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, events.New(events.TypeStockChanged, level.MedicineID.String(), level)); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Failed to publish stock change", "medicineId", level.MedicineID.String())
	}
	if level.Stock <= level.MinStockAlert {
		if err := s.publisher.Publish(pubCtx, events.New(events.TypeStockLow, level.MedicineID.String(), level)); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("Failed to publish low stock alert", "medicineId", level.MedicineID.String())
		}
	}
}

func toMedicineResponse(m *model.Medicine) *MedicineResponse {
	res := &MedicineResponse{
		ID:            m.ID,
		Name:          m.Name,
		Brand:         m.Brand,
		CategoryID:    m.CategoryID,
		SubCategoryID: m.SubCategoryID,
		BatchNumber:   m.BatchNumber,
		ExpiryDate:    m.ExpiryDate.Format(dateLayout),
		Price:         m.Price,
		Stock:         m.Stock,
		MinStockAlert: m.MinStockAlert,
		IsLowStock:    m.IsLowStock(),
		IsActive:      m.IsActive,
	}
	if m.Category != nil {
		res.CategoryName = m.Category.Name
	}
	if m.SubCategory != nil {
		res.SubCategoryName = m.SubCategory.Name
	}
	return res
}
