package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ClaimReminder(ctx context.Context, tx *gorm.DB, log *domain.ReminderLog) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(log)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ReleaseReminder(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Delete(&domain.ReminderLog{}, "id = ?", id).Error
}

func (r *repo) DeleteRemindersBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.WithContext(ctx).Where("sent_at < ?", cutoff.UTC()).Delete(&domain.ReminderLog{})
	return res.RowsAffected, res.Error
}
