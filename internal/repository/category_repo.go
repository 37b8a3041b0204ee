package repository

import (
	"context"

	"medledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CategoryRepository interface {
	Create(ctx context.Context, category *model.Category) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]model.Category, error)

	CreateSub(ctx context.Context, sub *model.SubCategory) error
	FindSubByID(ctx context.Context, id uuid.UUID) (*model.SubCategory, error)
	ExistsSubByName(ctx context.Context, categoryID uuid.UUID, name string) (bool, error)
	ListSub(ctx context.Context, categoryID uuid.UUID) ([]model.SubCategory, error)
}

type categoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(ctx context.Context, category *model.Category) error {
	return GetDB(ctx, r.db).Create(category).Error
}

func (r *categoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	var category model.Category
	if err := GetDB(ctx, r.db).First(&category, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &category, nil
}

func (r *categoryRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Category{}).Where("LOWER(name) = LOWER(?)", name).Count(&count).Error
	return count > 0, err
}

func (r *categoryRepository) List(ctx context.Context) ([]model.Category, error) {
	var categories []model.Category
	err := GetDB(ctx, r.db).Order("name").Find(&categories).Error
	return categories, err
}

func (r *categoryRepository) CreateSub(ctx context.Context, sub *model.SubCategory) error {
	return GetDB(ctx, r.db).Create(sub).Error
}

func (r *categoryRepository) FindSubByID(ctx context.Context, id uuid.UUID) (*model.SubCategory, error) {
	var sub model.SubCategory
	if err := GetDB(ctx, r.db).First(&sub, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *categoryRepository) ExistsSubByName(ctx context.Context, categoryID uuid.UUID, name string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.SubCategory{}).
		Where("category_id = ? AND LOWER(name) = LOWER(?)", categoryID, name).Count(&count).Error
	return count > 0, err
}

func (r *categoryRepository) ListSub(ctx context.Context, categoryID uuid.UUID) ([]model.SubCategory, error) {
	var subs []model.SubCategory
	err := GetDB(ctx, r.db).Where("category_id = ?", categoryID).Order("name").Find(&subs).Error
	return subs, err
}
