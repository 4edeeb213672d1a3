package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bookstore/pkg/domain"
)

// Migrate creates or updates the schema, seeds the built-in roles and, on Postgres,
// installs the reporting functions.
func Migrate(db *gorm.DB) error {
	return withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&domain.Role{},
			&domain.User{},
			&domain.Category{},
			&domain.Author{},
			&domain.Book{},
			&domain.Order{},
			&domain.OrderItem{},
			&domain.Rating{},
			&domain.RefreshToken{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		for _, stmt := range []string{
			"CREATE INDEX IF NOT EXISTS idx_orders_status_date ON orders (status, date)",
			"CREATE INDEX IF NOT EXISTS idx_order_items_order_book ON order_items (order_id, book_id)",
			"CREATE INDEX IF NOT EXISTS idx_books_live_buy_count ON books (is_deleted, buy_count)",
		} {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
		if err := seedRoles(tx); err != nil {
			return err
		}
		if isPostgres(tx) {
			for _, p := range ReportProcedures {
				if err := tx.Exec(p.CreateStatement()).Error; err != nil {
					return fmt.Errorf("create function %s: %w", p.Name, err)
				}
			}
		}
		return nil
	})
}

func seedRoles(db *gorm.DB) error {
	for _, name := range []string{domain.RoleAdmin, domain.RoleCustomer} {
		var role domain.Role
		err := db.Where("name = ?", name).First(&role).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load role %s: %w", name, err)
		}
		role = domain.Role{ID: uuid.NewString(), Name: name}
		if err := db.Create(&role).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}
