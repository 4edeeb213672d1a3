package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

// RatingView is a rating as shown under a book.
type RatingView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Value     int       `json:"value"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookRatings is one page of a book's ratings plus the aggregate over all of them.
type BookRatings struct {
	Page    store.PageResult[RatingView]
	Average decimal.Decimal
	Count   int64
}

// SubmitRating records userID's rating of a live book. A second submission for the
// same book replaces the first.
func (a *App) SubmitRating(ctx context.Context, userID, bookID string, value int, comment string) (domain.Rating, error) {
	uow := a.begin()
	defer uow.Close()
	if _, err := liveUser(ctx, uow, userID); err != nil {
		return domain.Rating{}, err
	}
	if _, err := liveBook(ctx, uow, bookID); err != nil {
		return domain.Rating{}, err
	}
	existing, err := uow.Ratings().Get(ctx, store.Where("user_id = ? AND book_id = ?", userID, bookID))
	if err != nil {
		return domain.Rating{}, err
	}
	comment = strings.TrimSpace(comment)
	var rating domain.Rating
	if len(existing) > 0 {
		rating = existing[0]
		rating.Value = value
		rating.Comment = comment
		err = uow.Ratings().Update(&rating)
	} else {
		rating = domain.Rating{
			ID:        util.NewID(),
			UserID:    userID,
			BookID:    bookID,
			Value:     value,
			Comment:   comment,
			CreatedAt: a.now(),
		}
		err = uow.Ratings().Insert(&rating)
	}
	if err != nil {
		return domain.Rating{}, err
	}
	if _, err := uow.Save(ctx); err != nil {
		return domain.Rating{}, fmt.Errorf("save rating: %w", err)
	}
	return rating, nil
}

// ListRatings pages through a live book's ratings, newest first.
func (a *App) ListRatings(ctx context.Context, bookID string, page, pageSize int) (BookRatings, error) {
	uow := a.begin()
	defer uow.Close()
	if _, err := liveBook(ctx, uow, bookID); err != nil {
		return BookRatings{}, err
	}
	result, err := uow.Ratings().GetPage(ctx, page, pageSize,
		store.Where("book_id = ?", bookID),
		store.Include("User"),
		store.OrderBy("created_at DESC"),
	)
	if err != nil {
		return BookRatings{}, err
	}
	db, err := uow.DB(ctx)
	if err != nil {
		return BookRatings{}, err
	}
	var avg float64
	if err := db.Model(&domain.Rating{}).Where("book_id = ?", bookID).
		Select("COALESCE(AVG(value), 0)").Scan(&avg).Error; err != nil {
		return BookRatings{}, fmt.Errorf("average rating: %w", err)
	}
	return BookRatings{
		Page: store.PageResult[RatingView]{
			Items:      lo.Map(result.Items, func(r domain.Rating, _ int) RatingView { return ratingView(r) }),
			PageIndex:  result.PageIndex,
			PageSize:   result.PageSize,
			TotalCount: result.TotalCount,
		},
		Average: decimal.NewFromFloat(avg).Round(2),
		Count:   result.TotalCount,
	}, nil
}

func ratingView(r domain.Rating) RatingView {
	view := RatingView{
		ID:        r.ID,
		UserID:    r.UserID,
		Value:     r.Value,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
	if r.User != nil {
		view.Username = r.User.Username
	}
	return view
}
