// Package sequence provides monotonically increasing counters keyed by an
// opaque scope string. Values are allocated with a single atomic statement
// in the database, so concurrent callers on the same scope always receive
// distinct values. A handed-out value is consumed for good: there is no
// decrement and no rollback, and gaps are expected when the work that
// claimed a value later fails.
package sequence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SequenceValue is the persisted counter row for one scope.
type SequenceValue struct {
	Scope     string `gorm:"primaryKey;column:scope;type:varchar(512)"`
	Value     int64  `gorm:"column:value;not null"`
	UpdatedAt time.Time
}

// TableName overrides the table name for SequenceValue.
func (SequenceValue) TableName() string {
	return "sequence_values"
}

// Counter allocates sequence values.
type Counter struct {
	db *gorm.DB
}

// NewCounter creates a Counter backed by the given database.
func NewCounter(db *gorm.DB) *Counter {
	return &Counter{db: db}
}

// AutoMigrate creates or updates the sequence_values table.
func (c *Counter) AutoMigrate() error {
	return c.db.AutoMigrate(&SequenceValue{})
}

// NextValue atomically increments and returns the counter for scope,
// creating it at 1 if absent. The increment happens in one upsert statement
// at the database, never as a read-modify-write in application code.
func (c *Counter) NextValue(ctx context.Context, scope string) (int64, error) {
	if c.db.Dialector.Name() == "mysql" {
		return c.nextValueMySQL(ctx, scope)
	}

	var value int64
	err := c.db.WithContext(ctx).Raw(`
		INSERT INTO sequence_values (scope, value, updated_at) VALUES (?, 1, ?)
		ON CONFLICT (scope) DO UPDATE SET value = sequence_values.value + 1, updated_at = ?
		RETURNING value
	`, scope, time.Now(), time.Now()).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("next value for scope %q: %w", scope, err)
	}
	return value, nil
}

// nextValueMySQL uses the LAST_INSERT_ID upsert idiom because MySQL has no
// RETURNING clause. One affected row means a fresh insert (value 1), two
// mean the conflict branch ran and LAST_INSERT_ID carries the new value.
func (c *Counter) nextValueMySQL(ctx context.Context, scope string) (int64, error) {
	var value int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(`
			INSERT INTO sequence_values (scope, value, updated_at) VALUES (?, 1, ?)
			ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1), updated_at = ?
		`, scope, time.Now(), time.Now())
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			value = 1
			return nil
		}
		return tx.Raw(`SELECT LAST_INSERT_ID()`).Scan(&value).Error
	})
	if err != nil {
		return 0, fmt.Errorf("next value for scope %q: %w", scope, err)
	}
	return value, nil
}
