package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
)

const (
	// BookImageContentType is the only image type accepted for covers.
	BookImageContentType = "image/jpeg"
	// MaxBookImageBytes caps cover uploads at 200 KB.
	MaxBookImageBytes = 200 * 1024

	bookImageTicketTTL = 10 * time.Minute
)

var bookSorts = map[string]string{
	"":            "books.title ASC",
	"title":       "books.title ASC",
	"newest":      "books.created_at DESC",
	"price_asc":   "books.price ASC",
	"price_desc":  "books.price DESC",
	"bestselling": "books.buy_count DESC",
}

// BookInput carries the editable book fields.
type BookInput struct {
	Title       string          `json:"title"`
	CategoryID  string          `json:"categoryId"`
	AuthorID    string          `json:"authorId"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Description string          `json:"description"`
}

// BookQuery filters the public book listing.
type BookQuery struct {
	Keyword    string
	CategoryID string
	AuthorID   string
	Sort       string
	Page       int
	PageSize   int
}

// ListBooks pages through live books in live categories.
func (a *App) ListBooks(ctx context.Context, q BookQuery) (store.PageResult[domain.Book], error) {
	order, ok := bookSorts[strings.ToLower(strings.TrimSpace(q.Sort))]
	if !ok {
		return store.PageResult[domain.Book]{}, fmt.Errorf("%w: unknown sort %q", ErrInvalidInput, q.Sort)
	}
	opts := []store.QueryOption{
		store.Where("books.is_deleted = ?", false),
		store.Where("EXISTS (SELECT 1 FROM categories c WHERE c.id = books.category_id AND c.is_deleted = ?)", false),
		containsFold("books.title", q.Keyword),
		store.Include("Category", "Author"),
		store.OrderBy(order),
	}
	if id := strings.TrimSpace(q.CategoryID); id != "" {
		opts = append(opts, store.Where("books.category_id = ?", id))
	}
	if id := strings.TrimSpace(q.AuthorID); id != "" {
		opts = append(opts, store.Where("books.author_id = ?", id))
	}
	uow := a.begin()
	defer uow.Close()
	return uow.Books().GetPage(ctx, q.Page, q.PageSize, opts...)
}

// GetBook returns a live book with its category and author.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	uow := a.begin()
	defer uow.Close()
	return liveBook(ctx, uow, id, "Category", "Author")
}

func (a *App) CreateBook(ctx context.Context, in BookInput) (domain.Book, error) {
	uow := a.begin()
	defer uow.Close()
	category, author, err := bookRefs(ctx, uow, in)
	if err != nil {
		return domain.Book{}, err
	}
	now := a.now()
	book := domain.Book{
		ID:        util.NewID(),
		CreatedAt: now,
	}
	applyBookInput(&book, in, now)
	if err := uow.Books().Insert(&book); err != nil {
		return domain.Book{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	book.Category, book.Author = &category, &author
	return book, nil
}

func (a *App) UpdateBook(ctx context.Context, id string, in BookInput) (domain.Book, error) {
	uow := a.begin()
	defer uow.Close()
	book, err := liveBook(ctx, uow, id)
	if err != nil {
		return domain.Book{}, err
	}
	category, author, err := bookRefs(ctx, uow, in)
	if err != nil {
		return domain.Book{}, err
	}
	applyBookInput(&book, in, a.now())
	if err := uow.Books().Update(&book); err != nil {
		return domain.Book{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	book.Category, book.Author = &category, &author
	return book, nil
}

// DeleteBook flags a book deleted; order history keeps resolving it.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	uow := a.begin()
	defer uow.Close()
	book, err := liveBook(ctx, uow, id)
	if err != nil {
		return err
	}
	book.IsDeleted = true
	book.UpdatedAt = a.now()
	if err := uow.Books().Update(&book); err != nil {
		return err
	}
	if _, err := uow.Save(ctx); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// BookImageUploadTicket presigns a direct browser upload of the book's cover.
// The policy only admits a JPEG of at most MaxBookImageBytes.
func (a *App) BookImageUploadTicket(ctx context.Context, id string) (storage.UploadTicket, error) {
	if err := a.requireObjects(); err != nil {
		return storage.UploadTicket{}, err
	}
	uow := a.begin()
	defer uow.Close()
	if _, err := liveBook(ctx, uow, id); err != nil {
		return storage.UploadTicket{}, err
	}
	ticket, err := a.objects.PresignUpload(ctx, bookImageKey(id), storage.UploadPolicy{
		ContentType: BookImageContentType,
		MaxBytes:    MaxBookImageBytes,
	}, bookImageTicketTTL)
	if err != nil {
		return storage.UploadTicket{}, fmt.Errorf("presign book image: %w", err)
	}
	return ticket, nil
}

// ConfirmBookImage checks the uploaded cover and points the book at it.
// An object that breaks the upload policy is removed.
func (a *App) ConfirmBookImage(ctx context.Context, id string) (domain.Book, error) {
	if err := a.requireObjects(); err != nil {
		return domain.Book{}, err
	}
	uow := a.begin()
	defer uow.Close()
	book, err := liveBook(ctx, uow, id)
	if err != nil {
		return domain.Book{}, err
	}
	key := bookImageKey(id)
	info, err := a.objects.Stat(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return domain.Book{}, fmt.Errorf("%w: nothing uploaded", ErrImageInvalid)
	}
	if err != nil {
		return domain.Book{}, err
	}
	if info.ContentType != BookImageContentType || info.Size <= 0 || info.Size > MaxBookImageBytes {
		if err := a.objects.Delete(ctx, key); err != nil {
			util.LoggerFromContext(ctx).Warn("delete rejected book image failed", "key", key, "err", err)
		}
		return domain.Book{}, fmt.Errorf("%w: %s of %d bytes", ErrImageInvalid, info.ContentType, info.Size)
	}
	book.ImageURL = a.objects.URL(key)
	book.UpdatedAt = a.now()
	if err := uow.Books().Update(&book); err != nil {
		return domain.Book{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Book{}, fmt.Errorf("save book image: %w", err)
	}
	return book, nil
}

func bookImageKey(id string) string {
	return "books/" + id + ".jpg"
}

func applyBookInput(book *domain.Book, in BookInput, now time.Time) {
	book.Title = strings.TrimSpace(in.Title)
	book.CategoryID = strings.TrimSpace(in.CategoryID)
	book.AuthorID = strings.TrimSpace(in.AuthorID)
	book.Price = in.Price
	book.Quantity = in.Quantity
	book.Description = strings.TrimSpace(in.Description)
	book.UpdatedAt = now
}

func bookRefs(ctx context.Context, uow *store.UnitOfWork, in BookInput) (domain.Category, domain.Author, error) {
	category, err := liveCategory(ctx, uow, strings.TrimSpace(in.CategoryID))
	if errors.Is(err, ErrNotFound) {
		return domain.Category{}, domain.Author{}, fmt.Errorf("%w: category %q does not exist", ErrInvalidInput, in.CategoryID)
	}
	if err != nil {
		return domain.Category{}, domain.Author{}, err
	}
	author, err := findAuthor(ctx, uow, strings.TrimSpace(in.AuthorID))
	if errors.Is(err, ErrNotFound) {
		return domain.Category{}, domain.Author{}, fmt.Errorf("%w: author %q does not exist", ErrInvalidInput, in.AuthorID)
	}
	if err != nil {
		return domain.Category{}, domain.Author{}, err
	}
	return category, author, nil
}

func liveBook(ctx context.Context, uow *store.UnitOfWork, id string, includes ...string) (domain.Book, error) {
	book, ok, err := uow.Books().GetByID(ctx, id, includes...)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok || book.IsDeleted {
		return domain.Book{}, fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	return book, nil
}
