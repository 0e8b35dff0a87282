package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// WithTransaction runs fn inside a transaction. The transaction commits when
// fn returns nil and rolls back otherwise, including on panic.
func WithTransaction(ctx context.Context, db Database, fn func(tx *gorm.DB) error) error {
	tx := db.Session(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
