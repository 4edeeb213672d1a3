package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"bookstore/pkg/domain"
	"bookstore/pkg/report"
	"bookstore/pkg/store"
)

const (
	defaultReportLimit = 5
	maxReportLimit     = 50
)

type TopBook struct {
	BookID       string          `json:"bookId"`
	Title        string          `json:"title"`
	AuthorName   string          `json:"authorName"`
	CategoryName string          `json:"categoryName"`
	BuyCount     int64           `json:"buyCount"`
	Price        decimal.Decimal `json:"price"`
}

type TopCategory struct {
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	UnitsSold    int64           `json:"unitsSold"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// Revenue totals orders that reached the customer (Delivered or Completed).
type Revenue struct {
	OrderCount    int64           `json:"orderCount"`
	ItemsSold     int64           `json:"itemsSold"`
	GrossRevenue  decimal.Decimal `json:"grossRevenue"`
	ShippingTotal decimal.Decimal `json:"shippingTotal"`
}

// Dashboard is the admin landing report.
type Dashboard struct {
	TopBooks      []TopBook     `json:"topBooks"`
	TopCategories []TopCategory `json:"topCategories"`
	Revenue       Revenue       `json:"revenue"`
	GeneratedAt   time.Time     `json:"generatedAt"`
}

// TopBooks ranks live books by buy count.
func (a *App) TopBooks(ctx context.Context, limit int) ([]TopBook, error) {
	uow := a.begin()
	defer uow.Close()
	return store.CallProcedure(ctx, uow, store.TopBooksProcedure, mapTopBook, reportLimit(limit))
}

// TopCategories ranks categories by units sold.
func (a *App) TopCategories(ctx context.Context, limit int) ([]TopCategory, error) {
	uow := a.begin()
	defer uow.Close()
	return store.CallProcedure(ctx, uow, store.TopCategoriesProcedure, mapTopCategory, reportLimit(limit))
}

// RevenueTotals sums sales over delivered and completed orders.
func (a *App) RevenueTotals(ctx context.Context) (Revenue, error) {
	uow := a.begin()
	defer uow.Close()
	rows, err := store.CallProcedure(ctx, uow, store.RevenueProcedure, mapRevenue)
	if err != nil {
		return Revenue{}, err
	}
	if len(rows) == 0 {
		return Revenue{GrossRevenue: decimal.Zero, ShippingTotal: decimal.Zero}, nil
	}
	return rows[0], nil
}

// Dashboard runs the three reports concurrently.
func (a *App) Dashboard(ctx context.Context, limit int) (Dashboard, error) {
	var out Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := a.TopBooks(gctx, limit)
		out.TopBooks = rows
		return err
	})
	g.Go(func() error {
		rows, err := a.TopCategories(gctx, limit)
		out.TopCategories = rows
		return err
	})
	g.Go(func() error {
		totals, err := a.RevenueTotals(gctx)
		out.Revenue = totals
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	out.GeneratedAt = a.now()
	return out, nil
}

const bookSalesQuery = `SELECT oi.book_id AS book_id,
  CAST(COALESCE(SUM(oi.quantity), 0) AS BIGINT) AS units_sold,
  COALESCE(SUM(oi.quantity * oi.unit_price), 0) AS revenue
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE o.status IN ('Delivered', 'Completed')
GROUP BY oi.book_id`

type bookSale struct {
	BookID    string
	UnitsSold int64
	Revenue   decimal.Decimal
}

// BookSales lists every live book with what it sold through delivered and
// completed orders.
func (a *App) BookSales(ctx context.Context) ([]report.BookSales, error) {
	uow := a.begin()
	defer uow.Close()
	return LoadBookSales(ctx, uow)
}

// LoadBookSales reads the book sales rows through uow.
func LoadBookSales(ctx context.Context, uow *store.UnitOfWork) ([]report.BookSales, error) {
	books, err := uow.Books().Get(ctx,
		store.Where("is_deleted = ?", false),
		store.Include("Category", "Author"),
		store.OrderBy("title ASC"),
	)
	if err != nil {
		return nil, err
	}
	sales, err := store.ExecuteRaw(ctx, uow, bookSalesQuery, func(r store.Row) (bookSale, error) {
		var s bookSale
		var err error
		if s.BookID, err = r.String("book_id"); err != nil {
			return s, err
		}
		if s.UnitsSold, err = r.Int64("units_sold"); err != nil {
			return s, err
		}
		s.Revenue, err = money(r, "revenue")
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("book sales: %w", err)
	}
	byBook := lo.KeyBy(sales, func(s bookSale) string { return s.BookID })
	return lo.Map(books, func(b domain.Book, _ int) report.BookSales {
		row := report.BookSales{
			BookID:  b.ID,
			Title:   b.Title,
			Price:   b.Price,
			InStock: b.Quantity,
			Revenue: decimal.Zero,
		}
		if b.Author != nil {
			row.Author = b.Author.FullName
		}
		if b.Category != nil {
			row.Category = b.Category.Name
		}
		if s, ok := byBook[b.ID]; ok {
			row.UnitsSold = int(s.UnitsSold)
			row.Revenue = s.Revenue
		}
		return row
	}), nil
}

// ExportBookSales writes the book sales workbook to w.
func (a *App) ExportBookSales(ctx context.Context, w io.Writer) error {
	rows, err := a.BookSales(ctx)
	if err != nil {
		return err
	}
	return report.WriteBookSales(w, rows, a.now())
}

func reportLimit(limit int) int {
	if limit <= 0 {
		return defaultReportLimit
	}
	return min(limit, maxReportLimit)
}

func mapTopBook(r store.Row) (TopBook, error) {
	var out TopBook
	var err error
	if out.BookID, err = r.String("book_id"); err != nil {
		return out, err
	}
	if out.Title, err = r.String("title"); err != nil {
		return out, err
	}
	if out.AuthorName, err = r.String("author_name"); err != nil {
		return out, err
	}
	if out.CategoryName, err = r.String("category_name"); err != nil {
		return out, err
	}
	if out.BuyCount, err = r.Int64("buy_count"); err != nil {
		return out, err
	}
	out.Price, err = money(r, "price")
	return out, err
}

func mapTopCategory(r store.Row) (TopCategory, error) {
	var out TopCategory
	var err error
	if out.CategoryID, err = r.String("category_id"); err != nil {
		return out, err
	}
	if out.CategoryName, err = r.String("category_name"); err != nil {
		return out, err
	}
	if out.UnitsSold, err = r.Int64("units_sold"); err != nil {
		return out, err
	}
	out.Revenue, err = money(r, "revenue")
	return out, err
}

func mapRevenue(r store.Row) (Revenue, error) {
	var out Revenue
	var err error
	if out.OrderCount, err = r.Int64("order_count"); err != nil {
		return out, err
	}
	if out.ItemsSold, err = r.Int64("items_sold"); err != nil {
		return out, err
	}
	if out.GrossRevenue, err = money(r, "gross_revenue"); err != nil {
		return out, err
	}
	out.ShippingTotal, err = money(r, "shipping_total")
	return out, err
}

// money reads a currency column rounded to cents; some dialects sum numerics as floats.
func money(r store.Row, column string) (decimal.Decimal, error) {
	d, err := r.Decimal(column)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}
