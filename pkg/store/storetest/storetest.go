// Package storetest provides migrated in-memory databases for tests.
package storetest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookstore/pkg/store"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory sqlite database with the full schema applied.
// The pool is limited to one connection so every query sees the same memory db.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewUnitOfWork opens a unit of work over db that is closed when the test ends.
func NewUnitOfWork(t testing.TB, db *gorm.DB) *store.UnitOfWork {
	t.Helper()
	uow := store.NewUnitOfWork(db)
	t.Cleanup(func() { _ = uow.Close() })
	return uow
}
