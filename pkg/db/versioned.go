package db

import (
	"context"
	"time"

	"github.com/railzwaylabs/membership/internal/apperror"
	"gorm.io/gorm"
)

// UpdateVersioned applies updates to the row only if its version still
// matches. On success the caller's version is bumped to the stored value.
func UpdateVersioned(ctx context.Context, tx *gorm.DB, table string, id any, version *int64, updates map[string]any) error {
	next := *version + 1
	updates["version"] = next
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}

	res := tx.WithContext(ctx).
		Table(table).
		Where("id = ? AND version = ?", id, *version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrConcurrentUpdate
	}
	*version = next
	return nil
}
