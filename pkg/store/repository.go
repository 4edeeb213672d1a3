package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookstore/pkg/domain"
)

// ErrMissingKey is returned when staging an entity without an id.
var ErrMissingKey = errors.New("entity key is required")

// Repository reads one entity type and stages its writes in the owning unit of work.
type Repository[T domain.Entity] struct {
	uow *UnitOfWork
}

func (r *Repository[T]) session(ctx context.Context) (*gorm.DB, error) {
	if err := r.uow.checkOpen(); err != nil {
		return nil, err
	}
	return r.uow.db.WithContext(ctx).Model(new(T)), nil
}

// Get returns every entity matching opts.
func (r *Repository[T]) Get(ctx context.Context, opts ...QueryOption) ([]T, error) {
	db, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := buildQuery(opts).apply(db).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("get %s: %w", tableOf[T](), err)
	}
	return items, nil
}

// GetPage returns one page of entities matching opts and the total match count.
func (r *Repository[T]) GetPage(ctx context.Context, pageIndex, pageSize int, opts ...QueryOption) (PageResult[T], error) {
	pageIndex, pageSize = normalizePage(pageIndex, pageSize)
	total, err := r.Count(ctx, opts...)
	if err != nil {
		return PageResult[T]{}, err
	}
	result := PageResult[T]{PageIndex: pageIndex, PageSize: pageSize, TotalCount: total}
	if total == 0 {
		result.Items = []T{}
		return result, nil
	}
	items, err := r.Get(ctx, append(opts, Paginate(pageIndex, pageSize))...)
	if err != nil {
		return PageResult[T]{}, err
	}
	result.Items = items
	return result, nil
}

// GetByID loads one entity by primary key, preloading includes.
func (r *Repository[T]) GetByID(ctx context.Context, id string, includes ...string) (T, bool, error) {
	var item T
	db, err := r.session(ctx)
	if err != nil {
		return item, false, err
	}
	for _, path := range includes {
		db = db.Preload(path)
	}
	err = db.Where(tableOf[T]()+".id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return item, false, nil
	}
	if err != nil {
		return item, false, fmt.Errorf("get %s %s: %w", tableOf[T](), id, err)
	}
	return item, true, nil
}

// Count returns how many entities match the filters in opts.
// Ordering, includes and pagination are ignored.
func (r *Repository[T]) Count(ctx context.Context, opts ...QueryOption) (int64, error) {
	db, err := r.session(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := buildQuery(opts).filter(db).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", tableOf[T](), err)
	}
	return total, nil
}

// Insert stages a new entity.
func (r *Repository[T]) Insert(entity *T) error {
	return r.stage(opInsert, entity)
}

// AddRange stages several new entities.
func (r *Repository[T]) AddRange(entities []T) error {
	for i := range entities {
		if err := r.Insert(&entities[i]); err != nil {
			return err
		}
	}
	return nil
}

// Update stages a full overwrite of entity. A previously staged instance with the
// same key is replaced, so repeated updates before Save keep the last one.
func (r *Repository[T]) Update(entity *T) error {
	return r.stage(opUpdate, entity)
}

// Delete stages a hard delete.
func (r *Repository[T]) Delete(entity *T) error {
	return r.stage(opDelete, entity)
}

// Patch stages a column update on the row with id, applied at Save only while
// cond holds. Values may be Expr to change a column relative to its stored value.
// Save fails with ErrPatchNotApplied when no row matches.
func (r *Repository[T]) Patch(id string, values map[string]any, cond string, args ...any) error {
	if id == "" {
		return fmt.Errorf("patch %s: %w", tableOf[T](), ErrMissingKey)
	}
	if len(values) == 0 {
		return fmt.Errorf("patch %s %s: no columns", tableOf[T](), id)
	}
	return r.uow.trackPatch(tableOf[T](), id, new(T), values, cond, args)
}

// Expr is a SQL expression usable as a Patch value.
func Expr(sql string, args ...any) clause.Expr {
	return gorm.Expr(sql, args...)
}

func (r *Repository[T]) stage(op changeOp, entity *T) error {
	if entity == nil {
		return fmt.Errorf("stage %s: nil entity", tableOf[T]())
	}
	key := (*entity).EntityKey()
	if key == "" {
		return fmt.Errorf("stage %s: %w", tableOf[T](), ErrMissingKey)
	}
	return r.uow.track(op, tableOf[T](), key, entity)
}

func tableOf[T domain.Entity]() string {
	var zero T
	return zero.TableName()
}
