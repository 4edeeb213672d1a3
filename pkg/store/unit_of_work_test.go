package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bookstore/pkg/domain"
	"bookstore/pkg/store"
	"bookstore/pkg/store/storetest"
)

func TestPage(t *testing.T) {
	cases := []struct {
		name          string
		index, size   int
		offset, limit int
	}{
		{"first page", 1, 10, 0, 10},
		{"third page", 3, 20, 40, 20},
		{"zero index", 0, 10, 0, 10},
		{"negative index", -4, 10, 0, 10},
		{"zero size", 2, 0, 10, 10},
		{"negative size", 1, -1, 0, 10},
		{"oversized", 2, 1000000, store.MaxPageSize, store.MaxPageSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			offset, limit := store.Page(tc.index, tc.size)
			assert.Equal(t, tc.offset, offset)
			assert.Equal(t, tc.limit, limit)
		})
	}
}

func TestPageResultPageCount(t *testing.T) {
	assert.Equal(t, 0, store.PageResult[int]{PageSize: 10}.PageCount())
	assert.Equal(t, 1, store.PageResult[int]{PageSize: 10, TotalCount: 10}.PageCount())
	assert.Equal(t, 3, store.PageResult[int]{PageSize: 10, TotalCount: 21}.PageCount())
}

func TestUnitOfWorkUpdateTwiceBeforeSave(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	book := seedBook(t, db, "Dune", decimal.RequireFromString("10.00"), 5)

	uow := storetest.NewUnitOfWork(t, db)
	first, ok, err := uow.Books().GetByID(ctx, book.ID)
	require.NoError(t, err)
	require.True(t, ok)
	first.Price = decimal.RequireFromString("11.00")
	require.NoError(t, uow.Books().Update(&first))

	second := first
	second.Price = decimal.RequireFromString("12.50")
	second.Quantity = 3
	require.NoError(t, uow.Books().Update(&second))
	assert.Equal(t, 1, uow.Pending())

	n, err := uow.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reloaded, ok, err := storetest.NewUnitOfWork(t, db).Books().GetByID(ctx, book.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, reloaded.Price.Equal(decimal.RequireFromString("12.50")), "price %s", reloaded.Price)
	assert.Equal(t, 3, reloaded.Quantity)
}

func TestUnitOfWorkSaveAggregatesValidationFailures(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	uow := storetest.NewUnitOfWork(t, db)

	category := domain.Category{ID: uuid.NewString()}
	book := domain.Book{
		ID:         uuid.NewString(),
		CategoryID: category.ID,
		AuthorID:   uuid.NewString(),
		Price:      decimal.NewFromInt(-1),
	}
	require.NoError(t, uow.Categories().Insert(&category))
	require.NoError(t, uow.Books().Insert(&book))

	_, err := uow.Save(ctx)
	var verr *store.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)

	fields := map[string]bool{}
	for _, f := range verr.Failures {
		fields[f.Entity+"."+f.Field] = true
	}
	assert.True(t, fields["categories.Name"])
	assert.True(t, fields["books.Title"])
	assert.True(t, fields["books.Price"])
	assert.Equal(t, 2, uow.Pending(), "failed save keeps the change set")

	count, err := storetest.NewUnitOfWork(t, db).Categories().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnitOfWorkStagingRules(t *testing.T) {
	db := storetest.NewDB(t)
	uow := storetest.NewUnitOfWork(t, db)

	category := domain.Category{ID: uuid.NewString(), Name: "Drafts"}
	require.NoError(t, uow.Categories().Insert(&category))
	assert.ErrorIs(t, uow.Categories().Insert(&category), store.ErrAlreadyStaged)

	require.NoError(t, uow.Categories().Delete(&category))
	assert.Equal(t, 0, uow.Pending(), "deleting a pending insert drops it")

	assert.ErrorIs(t, uow.Categories().Insert(&domain.Category{Name: "no id"}), store.ErrMissingKey)

	other := domain.Category{ID: uuid.NewString(), Name: "Other"}
	require.NoError(t, uow.Categories().Delete(&other))
	assert.ErrorIs(t, uow.Categories().Update(&other), store.ErrStagedForDelete)
}

func TestUnitOfWorkSaveCommitsInStagingOrder(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	uow := storetest.NewUnitOfWork(t, db)

	category := domain.Category{ID: uuid.NewString(), Name: "Fiction"}
	author := domain.Author{ID: uuid.NewString(), FullName: "Ursula K. Le Guin"}
	books := []domain.Book{
		{ID: uuid.NewString(), Title: "The Dispossessed", CategoryID: category.ID, AuthorID: author.ID, Price: decimal.NewFromInt(9), Quantity: 2},
		{ID: uuid.NewString(), Title: "The Lathe of Heaven", CategoryID: category.ID, AuthorID: author.ID, Price: decimal.NewFromInt(8), Quantity: 1},
	}
	require.NoError(t, uow.Categories().Insert(&category))
	require.NoError(t, uow.Authors().Insert(&author))
	require.NoError(t, uow.Books().AddRange(books))

	n, err := uow.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, uow.Pending())

	got, err := uow.Books().Get(ctx, store.Include("Category", "Author"), store.OrderBy("title ASC"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "The Dispossessed", got[0].Title)
	require.NotNil(t, got[0].Category)
	assert.Equal(t, "Fiction", got[0].Category.Name)
	require.NotNil(t, got[1].Author)
	assert.Equal(t, "Ursula K. Le Guin", got[1].Author.FullName)
}

func TestUnitOfWorkCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	uow := store.NewUnitOfWork(db)

	require.NoError(t, uow.Categories().Insert(&domain.Category{ID: uuid.NewString(), Name: "Pending"}))
	require.NoError(t, uow.Close())
	require.NoError(t, uow.Close())

	_, err := uow.Save(ctx)
	assert.ErrorIs(t, err, store.ErrUnitOfWorkClosed)
	_, err = uow.Categories().Get(ctx)
	assert.ErrorIs(t, err, store.ErrUnitOfWorkClosed)
	assert.ErrorIs(t, uow.Categories().Insert(&domain.Category{ID: uuid.NewString(), Name: "Late"}), store.ErrUnitOfWorkClosed)

	// not owned: the pool stays usable
	require.NoError(t, store.Ping(ctx, db))
}

func TestUnitOfWorkOwnedConnectionClosesPool(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	uow := store.NewUnitOfWork(db, store.OwnConnection())

	require.NoError(t, uow.Close())
	require.NoError(t, uow.Close())
	assert.Error(t, store.Ping(ctx, db))
}

func TestRepositoryGetPageFiltersAndCounts(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	uow := storetest.NewUnitOfWork(t, db)

	for i := 1; i <= 25; i++ {
		c := domain.Category{ID: uuid.NewString(), Name: fmt.Sprintf("Category %02d", i), IsDeleted: i%5 == 0}
		require.NoError(t, uow.Categories().Insert(&c))
	}
	_, err := uow.Save(ctx)
	require.NoError(t, err)

	live := store.Where("is_deleted = ?", false)
	page, err := uow.Categories().GetPage(ctx, 2, 8, live, store.OrderBy("name ASC"))
	require.NoError(t, err)
	assert.EqualValues(t, 20, page.TotalCount)
	assert.Equal(t, 3, page.PageCount())
	require.Len(t, page.Items, 8)
	assert.Equal(t, "Category 11", page.Items[0].Name)
	for _, c := range page.Items {
		assert.False(t, c.IsDeleted)
	}

	defaults, err := uow.Categories().GetPage(ctx, 0, 0, live)
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.PageIndex)
	assert.Equal(t, store.DefaultPageSize, defaults.PageSize)
	assert.Len(t, defaults.Items, store.DefaultPageSize)

	empty, err := uow.Categories().GetPage(ctx, 1, 10, store.Where("name = ?", "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.NotNil(t, empty.Items)
}

func TestSoftDeletedBookStillResolvesFromOrder(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	book := seedBook(t, db, "Old Stock", decimal.RequireFromString("7.50"), 4)
	user := seedUser(t, db, "buyer")

	uow := storetest.NewUnitOfWork(t, db)
	order := domain.Order{
		ID:            uuid.NewString(),
		CustomerID:    user.ID,
		Date:          time.Now().UTC(),
		Status:        domain.OrderPending,
		PaymentMethod: domain.PaymentCashOnDelivery,
	}
	item := domain.OrderItem{ID: uuid.NewString(), OrderID: order.ID, BookID: book.ID, Quantity: 1, UnitPrice: book.Price, BookTitle: book.Title}
	book.IsDeleted = true
	require.NoError(t, uow.Orders().Insert(&order))
	require.NoError(t, uow.OrderItems().Insert(&item))
	require.NoError(t, uow.Books().Update(&book))
	_, err := uow.Save(ctx)
	require.NoError(t, err)

	listed, err := uow.Books().Get(ctx, store.Where("is_deleted = ?", false))
	require.NoError(t, err)
	assert.Empty(t, listed)

	got, ok, err := uow.Orders().GetByID(ctx, order.ID, "Items.Book")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.Items[0].Book)
	assert.Equal(t, "Old Stock", got.Items[0].Book.Title)
	assert.True(t, got.Items[0].Book.IsDeleted)
}

func TestCallProcedureRunsPortableSQL(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	for i, title := range []string{"Alpha", "Beta", "Gamma"} {
		b := seedBook(t, db, title, decimal.NewFromInt(int64(10+i)), 1)
		b.BuyCount = i * 3
		uow := storetest.NewUnitOfWork(t, db)
		require.NoError(t, uow.Books().Update(&b))
		_, err := uow.Save(ctx)
		require.NoError(t, err)
	}

	type topBook struct {
		Title    string
		BuyCount int64
		Price    decimal.Decimal
	}
	uow := storetest.NewUnitOfWork(t, db)
	rows, err := store.CallProcedure(ctx, uow, store.TopBooksProcedure, func(r store.Row) (topBook, error) {
		var out topBook
		var err error
		if out.Title, err = r.String("title"); err != nil {
			return out, err
		}
		if out.BuyCount, err = r.Int64("buy_count"); err != nil {
			return out, err
		}
		out.Price, err = r.Decimal("price")
		return out, err
	}, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Gamma", rows[0].Title)
	assert.EqualValues(t, 6, rows[0].BuyCount)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, "Beta", rows[1].Title)
}

func TestExecuteStoredProcedureRejectsInvalidName(t *testing.T) {
	db := storetest.NewDB(t)
	uow := storetest.NewUnitOfWork(t, db)
	_, err := store.ExecuteStoredProcedure(context.Background(), uow, "books; DROP TABLE books", func(store.Row) (int, error) {
		return 0, nil
	})
	assert.ErrorIs(t, err, store.ErrInvalidProcedure)
}

func TestMigrateSeedsRolesOnce(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	require.NoError(t, store.Migrate(db))

	roles, err := storetest.NewUnitOfWork(t, db).Roles().Get(ctx, store.OrderBy("name ASC"))
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, domain.RoleAdmin, roles[0].Name)
	assert.Equal(t, domain.RoleCustomer, roles[1].Name)
}

func seedBook(t *testing.T, db *gorm.DB, title string, price decimal.Decimal, quantity int) domain.Book {
	t.Helper()
	uow := storetest.NewUnitOfWork(t, db)
	category := domain.Category{ID: uuid.NewString(), Name: "Category for " + title}
	author := domain.Author{ID: uuid.NewString(), FullName: "Author of " + title}
	book := domain.Book{
		ID:         uuid.NewString(),
		Title:      title,
		CategoryID: category.ID,
		AuthorID:   author.ID,
		Price:      price,
		Quantity:   quantity,
	}
	require.NoError(t, uow.Categories().Insert(&category))
	require.NoError(t, uow.Authors().Insert(&author))
	require.NoError(t, uow.Books().Insert(&book))
	_, err := uow.Save(context.Background())
	require.NoError(t, err)
	saved, ok, err := uow.Books().GetByID(context.Background(), book.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return saved
}

func seedUser(t *testing.T, db *gorm.DB, username string) domain.User {
	t.Helper()
	uow := storetest.NewUnitOfWork(t, db)
	roles, err := uow.Roles().Get(context.Background(), store.Where("name = ?", domain.RoleCustomer))
	require.NoError(t, err)
	require.Len(t, roles, 1)
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: "hash",
		RoleID:       roles[0].ID,
	}
	require.NoError(t, uow.Users().Insert(&user))
	_, err = uow.Save(context.Background())
	require.NoError(t, err)
	return user
}

func TestUnitOfWorkPatchAppliesRelativeToStoredRow(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	book := seedBook(t, db, "Dune", decimal.RequireFromString("10.00"), 5)

	// both units load the same row before either commits
	first := storetest.NewUnitOfWork(t, db)
	second := storetest.NewUnitOfWork(t, db)
	for _, uow := range []*store.UnitOfWork{first, second} {
		loaded, ok, err := uow.Books().GetByID(ctx, book.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 5, loaded.Quantity)
		require.NoError(t, uow.Books().Patch(book.ID, map[string]any{
			"quantity": store.Expr("quantity - ?", 2),
		}, "quantity >= ?", 2))
	}
	_, err := first.Save(ctx)
	require.NoError(t, err)
	_, err = second.Save(ctx)
	require.NoError(t, err)

	reloaded, _, err := storetest.NewUnitOfWork(t, db).Books().GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Quantity, "no decrement lost")
}

func TestUnitOfWorkPatchGuardRollsBackSave(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	book := seedBook(t, db, "Emma", decimal.RequireFromString("4.00"), 1)

	uow := storetest.NewUnitOfWork(t, db)
	category := domain.Category{ID: uuid.NewString(), Name: "Rolled back"}
	require.NoError(t, uow.Categories().Insert(&category))
	require.NoError(t, uow.Books().Patch(book.ID, map[string]any{
		"quantity": store.Expr("quantity - ?", 3),
	}, "quantity >= ?", 3))

	_, err := uow.Save(ctx)
	assert.ErrorIs(t, err, store.ErrPatchNotApplied)

	check := storetest.NewUnitOfWork(t, db)
	count, err := check.Categories().Count(ctx, store.Where("name = ?", "Rolled back"))
	require.NoError(t, err)
	assert.Zero(t, count)
	reloaded, _, err := check.Books().GetByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Quantity)

	assert.ErrorIs(t, uow.Books().Patch("", map[string]any{"quantity": 1}, ""), store.ErrMissingKey)
	assert.Error(t, uow.Books().Patch(book.ID, nil, ""))
}
