package app

import (
	"context"
	"fmt"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

// AuthorInput carries the editable author fields.
type AuthorInput struct {
	FullName string `json:"fullName"`
	Bio      string `json:"bio"`
	ImageURL string `json:"imageUrl"`
}

func (a *App) ListAuthors(ctx context.Context, keyword string, page, pageSize int) (store.PageResult[domain.Author], error) {
	uow := a.begin()
	defer uow.Close()
	return uow.Authors().GetPage(ctx, page, pageSize,
		containsFold("full_name", keyword),
		store.OrderBy("full_name ASC"),
	)
}

func (a *App) GetAuthor(ctx context.Context, id string) (domain.Author, error) {
	uow := a.begin()
	defer uow.Close()
	return findAuthor(ctx, uow, id)
}

func (a *App) CreateAuthor(ctx context.Context, in AuthorInput) (domain.Author, error) {
	uow := a.begin()
	defer uow.Close()
	now := a.now()
	author := domain.Author{
		ID:        util.NewID(),
		FullName:  strings.TrimSpace(in.FullName),
		Bio:       strings.TrimSpace(in.Bio),
		ImageURL:  strings.TrimSpace(in.ImageURL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uow.Authors().Insert(&author); err != nil {
		return domain.Author{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Author{}, fmt.Errorf("save author: %w", err)
	}
	return author, nil
}

func (a *App) UpdateAuthor(ctx context.Context, id string, in AuthorInput) (domain.Author, error) {
	uow := a.begin()
	defer uow.Close()
	author, err := findAuthor(ctx, uow, id)
	if err != nil {
		return domain.Author{}, err
	}
	author.FullName = strings.TrimSpace(in.FullName)
	author.Bio = strings.TrimSpace(in.Bio)
	author.ImageURL = strings.TrimSpace(in.ImageURL)
	author.UpdatedAt = a.now()
	if err := uow.Authors().Update(&author); err != nil {
		return domain.Author{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Author{}, fmt.Errorf("save author: %w", err)
	}
	return author, nil
}

// DeleteAuthor removes an author nobody references. Soft-deleted books count as
// references since past orders still resolve them.
func (a *App) DeleteAuthor(ctx context.Context, id string) error {
	uow := a.begin()
	defer uow.Close()
	author, err := findAuthor(ctx, uow, id)
	if err != nil {
		return err
	}
	books, err := uow.Books().Count(ctx, store.Where("author_id = ?", id))
	if err != nil {
		return err
	}
	if books > 0 {
		return ErrAuthorInUse
	}
	if err := uow.Authors().Delete(&author); err != nil {
		return err
	}
	if _, err := uow.Save(ctx); err != nil {
		return fmt.Errorf("delete author: %w", err)
	}
	return nil
}

func findAuthor(ctx context.Context, uow *store.UnitOfWork, id string) (domain.Author, error) {
	author, ok, err := uow.Authors().GetByID(ctx, id)
	if err != nil {
		return domain.Author{}, err
	}
	if !ok {
		return domain.Author{}, fmt.Errorf("%w: author %s", ErrNotFound, id)
	}
	return author, nil
}
