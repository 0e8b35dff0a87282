package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) Database {
	t.Helper()
	ctx := context.Background()
	url := "sqlite:///" + filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(ctx, url)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Session(ctx).Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func countItems(t *testing.T, db Database) int64 {
	t.Helper()
	var n int64
	if err := db.Session(context.Background()).Raw("SELECT COUNT(*) FROM items").Scan(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTransactionCommits(t *testing.T) {
	db := openTestDB(t)

	err := WithTransaction(context.Background(), db, func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO items (name) VALUES (?)", "a").Error
	})
	if err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}
	if got := countItems(t, db); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := openTestDB(t)

	boom := errors.New("boom")
	err := WithTransaction(context.Background(), db, func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO items (name) VALUES (?)", "a").Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got := countItems(t, db); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)

	func() {
		defer func() { _ = recover() }()
		_ = WithTransaction(context.Background(), db, func(tx *gorm.DB) error {
			if err := tx.Exec("INSERT INTO items (name) VALUES (?)", "a").Error; err != nil {
				return err
			}
			panic("boom")
		})
	}()

	if got := countItems(t, db); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}
