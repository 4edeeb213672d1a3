package app

import (
	"context"
	"fmt"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

// CategoryInput carries the editable category fields.
type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListCategories pages through live categories whose name contains keyword.
func (a *App) ListCategories(ctx context.Context, keyword string, page, pageSize int) (store.PageResult[domain.Category], error) {
	uow := a.begin()
	defer uow.Close()
	return uow.Categories().GetPage(ctx, page, pageSize,
		store.Where("is_deleted = ?", false),
		containsFold("name", keyword),
		store.OrderBy("name ASC"),
	)
}

// GetCategory returns a live category.
func (a *App) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	uow := a.begin()
	defer uow.Close()
	return liveCategory(ctx, uow, id)
}

// CreateCategory adds a category.
func (a *App) CreateCategory(ctx context.Context, in CategoryInput) (domain.Category, error) {
	uow := a.begin()
	defer uow.Close()
	now := a.now()
	category := domain.Category{
		ID:          util.NewID(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uow.Categories().Insert(&category); err != nil {
		return domain.Category{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Category{}, fmt.Errorf("save category: %w", err)
	}
	return category, nil
}

// UpdateCategory overwrites the editable fields of a live category.
func (a *App) UpdateCategory(ctx context.Context, id string, in CategoryInput) (domain.Category, error) {
	uow := a.begin()
	defer uow.Close()
	category, err := liveCategory(ctx, uow, id)
	if err != nil {
		return domain.Category{}, err
	}
	category.Name = strings.TrimSpace(in.Name)
	category.Description = strings.TrimSpace(in.Description)
	category.UpdatedAt = a.now()
	if err := uow.Categories().Update(&category); err != nil {
		return domain.Category{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Category{}, fmt.Errorf("save category: %w", err)
	}
	return category, nil
}

// DeleteCategory flags a category deleted. Its books stay reachable from past orders
// but drop out of book listings.
func (a *App) DeleteCategory(ctx context.Context, id string) error {
	uow := a.begin()
	defer uow.Close()
	category, err := liveCategory(ctx, uow, id)
	if err != nil {
		return err
	}
	category.IsDeleted = true
	category.UpdatedAt = a.now()
	if err := uow.Categories().Update(&category); err != nil {
		return err
	}
	if _, err := uow.Save(ctx); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

func liveCategory(ctx context.Context, uow *store.UnitOfWork, id string) (domain.Category, error) {
	category, ok, err := uow.Categories().GetByID(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	if !ok || category.IsDeleted {
		return domain.Category{}, fmt.Errorf("%w: category %s", ErrNotFound, id)
	}
	return category, nil
}
