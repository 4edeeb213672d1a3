package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstore/pkg/store"
)

func TestCategoriesSoftDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fiction := env.category(t, "Fiction")
	env.category(t, "Science Fiction")
	env.category(t, "History")

	page, err := env.app.ListCategories(ctx, "fiction", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.TotalCount)

	require.NoError(t, env.app.DeleteCategory(ctx, fiction.ID))
	page, err = env.app.ListCategories(ctx, "fiction", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Science Fiction", page.Items[0].Name)

	_, err = env.app.GetCategory(ctx, fiction.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.app.DeleteCategory(ctx, fiction.ID), ErrNotFound)
}

func TestCreateCategoryValidates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.CreateCategory(context.Background(), CategoryInput{Name: "  "})
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Failures, 1)
	assert.Equal(t, "Name", verr.Failures[0].Field)
}

func TestUpdateCategoryKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	c := env.category(t, "Poetry")

	updated, err := env.app.UpdateCategory(ctx, c.ID, CategoryInput{Name: "Poems", Description: "verse"})
	require.NoError(t, err)
	assert.Equal(t, "Poems", updated.Name)

	got, err := env.app.GetCategory(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "verse", got.Description)
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt), "created at %v, want %v", got.CreatedAt, c.CreatedAt)
}

func TestDeleteAuthorRefusedWhileBooksReferenceIt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	book := env.book(t, "Emma", "9.99", 3)

	assert.ErrorIs(t, env.app.DeleteAuthor(ctx, book.AuthorID), ErrAuthorInUse)

	require.NoError(t, env.app.DeleteBook(ctx, book.ID))
	err := env.app.DeleteAuthor(ctx, book.AuthorID)
	assert.ErrorIs(t, err, ErrAuthorInUse, "soft-deleted books still reference the author")

	lonely := env.author(t, "Nobody")
	require.NoError(t, env.app.DeleteAuthor(ctx, lonely.ID))
	_, err = env.app.GetAuthor(ctx, lonely.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBooksExcludesDeletedBooksAndCategories(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	kept := env.book(t, "Kept", "5.00", 1)
	removed := env.book(t, "Removed", "5.00", 1)
	orphaned := env.book(t, "Orphaned", "5.00", 1)

	require.NoError(t, env.app.DeleteBook(ctx, removed.ID))
	require.NoError(t, env.app.DeleteCategory(ctx, orphaned.CategoryID))

	page, err := env.app.ListBooks(ctx, BookQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, kept.ID, page.Items[0].ID)
	assert.EqualValues(t, 1, page.TotalCount)
	require.NotNil(t, page.Items[0].Author)
	assert.Equal(t, "Kept author", page.Items[0].Author.FullName)

	_, err = env.app.GetBook(ctx, removed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBooksFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cheap := env.book(t, "Cheap Thrills", "3.50", 1)
	env.book(t, "Dear Reader", "20.00", 1)
	env.book(t, "Thrills Again", "12.00", 1)

	page, err := env.app.ListBooks(ctx, BookQuery{Keyword: "THRILLS", Sort: "price_desc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Thrills Again", page.Items[0].Title)
	assert.Equal(t, "Cheap Thrills", page.Items[1].Title)

	page, err = env.app.ListBooks(ctx, BookQuery{CategoryID: cheap.CategoryID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, cheap.ID, page.Items[0].ID)

	_, err = env.app.ListBooks(ctx, BookQuery{Sort: "random"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateBookChecksReferences(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	category := env.category(t, "Drama")
	author := env.author(t, "Ibsen")

	_, err := env.app.CreateBook(ctx, BookInput{Title: "Ghosts", CategoryID: "missing", AuthorID: author.ID, Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, env.app.DeleteCategory(ctx, category.ID))
	_, err = env.app.CreateBook(ctx, BookInput{Title: "Ghosts", CategoryID: category.ID, AuthorID: author.ID, Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	live := env.category(t, "Plays")
	_, err = env.app.CreateBook(ctx, BookInput{Title: "Ghosts", CategoryID: live.ID, AuthorID: author.ID, Price: decimal.NewFromInt(-1)})
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Price", verr.Failures[0].Field)
}

func TestBookImageUpload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	book := env.book(t, "Covered", "8.00", 2)

	ticket, err := env.app.BookImageUploadTicket(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "books/"+book.ID+".jpg", ticket.Key)
	assert.Equal(t, BookImageContentType, ticket.Fields["Content-Type"])

	_, err = env.app.ConfirmBookImage(ctx, book.ID)
	assert.ErrorIs(t, err, ErrImageInvalid, "nothing uploaded yet")

	env.objects.put(ticket.Key, "image/png", 1024)
	_, err = env.app.ConfirmBookImage(ctx, book.ID)
	assert.ErrorIs(t, err, ErrImageInvalid)
	assert.Contains(t, env.objects.deleted, ticket.Key)

	env.objects.put(ticket.Key, BookImageContentType, MaxBookImageBytes+1)
	_, err = env.app.ConfirmBookImage(ctx, book.ID)
	assert.ErrorIs(t, err, ErrImageInvalid)

	env.objects.put(ticket.Key, BookImageContentType, MaxBookImageBytes)
	updated, err := env.app.ConfirmBookImage(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, env.objects.URL(ticket.Key), updated.ImageURL)
	assert.Equal(t, updated.ImageURL, env.reloadBook(t, book.ID).ImageURL)
}

func TestBookImageWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	book := env.book(t, "Bare", "1.00", 1)
	env.app.objects = nil

	_, err := env.app.BookImageUploadTicket(context.Background(), book.ID)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
}

func TestSubmitRatingUpsertsAndAverages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	book := env.book(t, "Rated", "4.00", 1)
	alice := env.register(t, "alice")
	bob := env.register(t, "bobby")

	first, err := env.app.SubmitRating(ctx, alice.User.ID, book.ID, 2, "meh")
	require.NoError(t, err)
	second, err := env.app.SubmitRating(ctx, alice.User.ID, book.ID, 5, "grew on me")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	_, err = env.app.SubmitRating(ctx, bob.User.ID, book.ID, 4, "")
	require.NoError(t, err)

	ratings, err := env.app.ListRatings(ctx, book.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ratings.Count)
	assert.True(t, ratings.Average.Equal(decimal.RequireFromString("4.5")), "average %s", ratings.Average)
	require.Len(t, ratings.Page.Items, 2)
	assert.NotEmpty(t, ratings.Page.Items[0].Username)
}

func TestSubmitRatingRejectsOutOfRangeValue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	book := env.book(t, "Rated", "4.00", 1)
	user := env.register(t, "carol")

	_, err := env.app.SubmitRating(ctx, user.User.ID, book.ID, 6, "")
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Value", verr.Failures[0].Field)

	require.NoError(t, env.app.DeleteBook(ctx, book.ID))
	_, err = env.app.SubmitRating(ctx, user.User.ID, book.ID, 3, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
