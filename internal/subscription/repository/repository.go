package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/subscription/domain"
	"github.com/railzwaylabs/membership/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	return tx.WithContext(ctx).Create(sub).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) error {
	updates := map[string]any{
		"status":      sub.Status,
		"expires_at":  sub.ExpiresAt,
		"canceled_at": sub.CanceledAt,
		"paused_at":   sub.PausedAt,
		"auto_renew":  sub.AutoRenew,
		"metadata":    sub.Metadata,
	}
	if err := db.UpdateVersioned(ctx, tx, domain.Subscription{}.TableName(), sub.ID, &sub.Version, updates); err != nil {
		return err
	}
	sub.UpdatedAt = updates["updated_at"].(time.Time)
	return nil
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	return r.first(tx.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID))
}

func (r *repo) FindByIDUnscoped(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return r.first(tx.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) first(q *gorm.DB) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := q.First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repo) ExistsActive(ctx context.Context, tx *gorm.DB, memberID, planID snowflake.ID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("member_id = ? AND plan_id = ? AND status = ?", memberID, planID, domain.StatusActive).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) CountLiveForMember(ctx context.Context, tx *gorm.DB, memberID snowflake.ID, excludeID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("member_id = ? AND id <> ?", memberID, excludeID).
		Where("status IN ?", []domain.Status{domain.StatusActive, domain.StatusTrialing, domain.StatusPaused}).
		Count(&count).Error
	return count, err
}

func (r *repo) CountActiveForPlan(ctx context.Context, tx *gorm.DB, planID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("plan_id = ? AND status = ?", planID, domain.StatusActive).
		Count(&count).Error
	return count, err
}

func (r *repo) ListDueForExpiry(ctx context.Context, tx *gorm.DB, now time.Time) ([]domain.Subscription, error) {
	var rows []domain.Subscription
	err := tx.WithContext(ctx).
		Where("status IN ?", []domain.Status{domain.StatusActive, domain.StatusTrialing}).
		Where("expires_at < ?", now.UTC()).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListActiveExpiringBetween(ctx context.Context, tx *gorm.DB, start, end time.Time, autoRenewOnly bool) ([]domain.Subscription, error) {
	q := tx.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Where("expires_at >= ? AND expires_at < ?", start.UTC(), end.Add(time.Second).UTC())
	if autoRenewOnly {
		q = q.Where("auto_renew = ?", true)
	}
	var rows []domain.Subscription
	err := q.Order("expires_at ASC").Find(&rows).Error
	return rows, err
}
