package store

import (
	"gorm.io/gorm"
)

const (
	// DefaultPageSize applies when a caller asks for a non-positive page size.
	DefaultPageSize = 10
	// MaxPageSize caps how many rows a single page may load.
	MaxPageSize = 100
)

// Page converts a 1-based page index into an offset and limit.
// Non-positive indices behave as page 1, non-positive sizes as DefaultPageSize,
// and sizes above MaxPageSize are clamped.
func Page(pageIndex, pageSize int) (offset, limit int) {
	pageIndex, pageSize = normalizePage(pageIndex, pageSize)
	return (pageIndex - 1) * pageSize, pageSize
}

func normalizePage(pageIndex, pageSize int) (int, int) {
	if pageIndex <= 0 {
		pageIndex = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return pageIndex, pageSize
}

// PageResult is one page of a filtered listing.
type PageResult[T any] struct {
	Items      []T
	PageIndex  int
	PageSize   int
	TotalCount int64
}

// PageCount is the number of pages needed to hold TotalCount items.
func (p PageResult[T]) PageCount() int {
	if p.PageSize <= 0 || p.TotalCount <= 0 {
		return 0
	}
	return int((p.TotalCount + int64(p.PageSize) - 1) / int64(p.PageSize))
}

type query struct {
	scopes    []func(*gorm.DB) *gorm.DB
	orders    []string
	includes  []string
	paged     bool
	pageIndex int
	pageSize  int
}

// QueryOption shapes a repository read.
type QueryOption func(*query)

// Where adds a filter condition using gorm's condition syntax.
func Where(cond any, args ...any) QueryOption {
	return func(q *query) {
		q.scopes = append(q.scopes, func(db *gorm.DB) *gorm.DB {
			return db.Where(cond, args...)
		})
	}
}

// Scope adds an arbitrary filter, e.g. a join or a subquery.
func Scope(fn func(*gorm.DB) *gorm.DB) QueryOption {
	return func(q *query) {
		if fn != nil {
			q.scopes = append(q.scopes, fn)
		}
	}
}

// OrderBy appends a sort clause such as "created_at DESC".
func OrderBy(order string) QueryOption {
	return func(q *query) {
		if order != "" {
			q.orders = append(q.orders, order)
		}
	}
}

// Include preloads the named relations, e.g. "Category" or "Items.Book".
func Include(paths ...string) QueryOption {
	return func(q *query) {
		q.includes = append(q.includes, paths...)
	}
}

// Paginate limits the read to one page.
func Paginate(pageIndex, pageSize int) QueryOption {
	return func(q *query) {
		q.paged = true
		q.pageIndex, q.pageSize = normalizePage(pageIndex, pageSize)
	}
}

func buildQuery(opts []QueryOption) *query {
	q := &query{}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *query) filter(db *gorm.DB) *gorm.DB {
	if len(q.scopes) > 0 {
		db = db.Scopes(q.scopes...)
	}
	return db
}

func (q *query) apply(db *gorm.DB) *gorm.DB {
	db = q.filter(db)
	for _, path := range q.includes {
		db = db.Preload(path)
	}
	for _, order := range q.orders {
		db = db.Order(order)
	}
	if q.paged {
		offset, limit := Page(q.pageIndex, q.pageSize)
		db = db.Offset(offset).Limit(limit)
	}
	return db
}
