package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookstore/pkg/domain"
)

var (
	// ErrUnitOfWorkClosed is returned by any use of a closed unit of work.
	ErrUnitOfWorkClosed = errors.New("unit of work is closed")
	// ErrAlreadyStaged is returned when the same entity is inserted twice.
	ErrAlreadyStaged = errors.New("entity already staged for insert")
	// ErrStagedForDelete is returned when updating an entity staged for delete.
	ErrStagedForDelete = errors.New("entity staged for delete")
	// ErrPatchNotApplied is returned by Save when a staged patch matched no row.
	ErrPatchNotApplied = errors.New("patch condition matched no row")
)

type changeOp int

const (
	opInsert changeOp = iota
	opUpdate
	opDelete
	opPatch
)

func (op changeOp) String() string {
	switch op {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	case opPatch:
		return "patch"
	default:
		return "delete"
	}
}

type changeKey struct {
	table string
	key   string
}

type change struct {
	op      changeOp
	key     changeKey
	entity  any
	dropped bool

	// patch only
	values map[string]any
	cond   string
	args   []any
}

// UnitOfWork groups repository writes into one validated transaction.
// It is scoped to a single request or command and is not shared across goroutines
// beyond its own locking.
type UnitOfWork struct {
	db    *gorm.DB
	owned bool

	mu      sync.Mutex
	changes []*change
	index   map[changeKey]*change
	repos   map[string]any

	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// UnitOfWorkOption configures a UnitOfWork.
type UnitOfWorkOption func(*UnitOfWork)

// OwnConnection makes Close shut the underlying connection pool.
func OwnConnection() UnitOfWorkOption {
	return func(u *UnitOfWork) {
		u.owned = true
	}
}

// NewUnitOfWork binds a unit of work to db.
func NewUnitOfWork(db *gorm.DB, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		db:    db,
		index: make(map[changeKey]*change),
		repos: make(map[string]any),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

func repositoryFor[T domain.Entity](u *UnitOfWork) *Repository[T] {
	name := tableOf[T]()
	u.mu.Lock()
	defer u.mu.Unlock()
	if r, ok := u.repos[name]; ok {
		return r.(*Repository[T])
	}
	r := &Repository[T]{uow: u}
	u.repos[name] = r
	return r
}

func (u *UnitOfWork) Roles() *Repository[domain.Role]       { return repositoryFor[domain.Role](u) }
func (u *UnitOfWork) Users() *Repository[domain.User]       { return repositoryFor[domain.User](u) }
func (u *UnitOfWork) Categories() *Repository[domain.Category] {
	return repositoryFor[domain.Category](u)
}
func (u *UnitOfWork) Authors() *Repository[domain.Author] { return repositoryFor[domain.Author](u) }
func (u *UnitOfWork) Books() *Repository[domain.Book]     { return repositoryFor[domain.Book](u) }
func (u *UnitOfWork) Orders() *Repository[domain.Order]   { return repositoryFor[domain.Order](u) }
func (u *UnitOfWork) OrderItems() *Repository[domain.OrderItem] {
	return repositoryFor[domain.OrderItem](u)
}
func (u *UnitOfWork) Ratings() *Repository[domain.Rating] { return repositoryFor[domain.Rating](u) }
func (u *UnitOfWork) RefreshTokens() *Repository[domain.RefreshToken] {
	return repositoryFor[domain.RefreshToken](u)
}

// DB exposes the session for queries the repositories cannot express.
func (u *UnitOfWork) DB(ctx context.Context) (*gorm.DB, error) {
	if err := u.checkOpen(); err != nil {
		return nil, err
	}
	return u.db.WithContext(ctx), nil
}

// Pending reports how many staged changes await Save.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.changes {
		if !c.dropped {
			n++
		}
	}
	return n
}

func (u *UnitOfWork) checkOpen() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	return nil
}

func (u *UnitOfWork) track(op changeOp, table, key string, entity any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	k := changeKey{table: table, key: key}
	existing, ok := u.index[k]
	if !ok {
		c := &change{op: op, key: k, entity: entity}
		u.changes = append(u.changes, c)
		u.index[k] = c
		return nil
	}
	switch {
	case existing.op == opInsert && op == opInsert:
		return fmt.Errorf("%s %s: %w", table, key, ErrAlreadyStaged)
	case existing.op == opInsert && op == opUpdate:
		existing.entity = entity
	case existing.op == opInsert && op == opDelete:
		// never written, nothing to delete
		existing.dropped = true
		delete(u.index, k)
	case existing.op == opDelete && op == opUpdate:
		return fmt.Errorf("%s %s: %w", table, key, ErrStagedForDelete)
	case existing.op == opDelete && op == opInsert:
		existing.op = opUpdate
		existing.entity = entity
	default:
		existing.op = op
		existing.entity = entity
	}
	return nil
}

// trackPatch appends a patch. Patches are relative to the stored row, so they are
// never merged with each other or with staged entities.
func (u *UnitOfWork) trackPatch(table, key string, model any, values map[string]any, cond string, args []any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitOfWorkClosed
	}
	u.changes = append(u.changes, &change{
		op:     opPatch,
		key:    changeKey{table: table, key: key},
		entity: model,
		values: values,
		cond:   cond,
		args:   args,
	})
	return nil
}

func (u *UnitOfWork) pending() []*change {
	out := make([]*change, 0, len(u.changes))
	for _, c := range u.changes {
		if !c.dropped {
			out = append(out, c)
		}
	}
	return out
}

// Save validates every staged insert and update, then writes the whole change set in
// staging order inside one transaction. On success the change set is cleared and the
// number of written entities is returned. A *ValidationError lists every failure.
func (u *UnitOfWork) Save(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, ErrUnitOfWorkClosed
	}
	changes := u.pending()
	if len(changes) == 0 {
		return 0, nil
	}

	verr := &ValidationError{}
	for _, c := range changes {
		if c.op == opDelete || c.op == opPatch {
			continue
		}
		failures, err := ValidateEntity(c.entity)
		if err != nil {
			return 0, err
		}
		for _, f := range failures {
			verr.Failures = append(verr.Failures, EntityFailure{
				Entity:  c.key.table,
				Key:     c.key.key,
				Field:   f.Field,
				Message: f.Message,
			})
		}
	}
	if len(verr.Failures) > 0 {
		return 0, verr
	}

	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range changes {
			if err := apply(tx, c); err != nil {
				return fmt.Errorf("%s %s %s: %w", c.op, c.key.table, c.key.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}
	u.changes = nil
	u.index = make(map[changeKey]*change)
	return len(changes), nil
}

func apply(tx *gorm.DB, c *change) error {
	db := tx.Omit(clause.Associations)
	switch c.op {
	case opInsert:
		return db.Create(c.entity).Error
	case opUpdate:
		return db.Save(c.entity).Error
	case opPatch:
		q := tx.Model(c.entity).Where(c.key.table+".id = ?", c.key.key)
		if c.cond != "" {
			q = q.Where(c.cond, c.args...)
		}
		res := q.Updates(c.values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPatchNotApplied
		}
		return nil
	default:
		return db.Delete(c.entity).Error
	}
}

// Close discards staged changes. When the unit of work owns its connection the pool
// is closed too. Only the first call has any effect.
func (u *UnitOfWork) Close() error {
	u.closeOnce.Do(func() {
		u.mu.Lock()
		u.closed = true
		u.changes = nil
		u.index = nil
		u.mu.Unlock()
		if !u.owned {
			return
		}
		sqlDB, err := u.db.DB()
		if err != nil {
			u.closeErr = err
			return
		}
		u.closeErr = sqlDB.Close()
	})
	return u.closeErr
}
