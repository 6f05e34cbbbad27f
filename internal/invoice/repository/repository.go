package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/invoice/domain"
	"github.com/railzwaylabs/membership/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	if invoice.Version == 0 {
		invoice.Version = 1
	}
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	updates := map[string]any{
		"status":             invoice.Status,
		"paid_at":            invoice.PaidAt,
		"payment_provider":   invoice.PaymentProvider,
		"provider_reference": invoice.ProviderReference,
		"metadata":           invoice.Metadata,
	}
	if err := db.UpdateVersioned(ctx, tx, domain.Invoice{}.TableName(), invoice.ID, &invoice.Version, updates); err != nil {
		return err
	}
	invoice.UpdatedAt = updates["updated_at"].(time.Time)
	return nil
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return first(tx.WithContext(ctx).Where("id = ? AND issuer_org_id = ?", id, orgID))
}

func (r *repo) FindByIDUnscoped(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return first(tx.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) NumberExists(ctx context.Context, tx *gorm.DB, number string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&domain.Invoice{}).Where("invoice_number = ?", number).Count(&count).Error
	return count > 0, err
}

func (r *repo) FindOpenBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, kind domain.Kind) (*domain.Invoice, error) {
	return first(tx.WithContext(ctx).
		Where("member_subscription_id = ? AND kind = ?", subscriptionID, kind).
		Where("status IN ?", []domain.Status{domain.StatusPending, domain.StatusFailed}).
		Order("created_at DESC"))
}

func (r *repo) ListBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) ([]domain.Invoice, error) {
	var rows []domain.Invoice
	err := tx.WithContext(ctx).
		Where("member_subscription_id = ?", subscriptionID).
		Order("due_date ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListOverdue(ctx context.Context, tx *gorm.DB, now time.Time) ([]domain.Invoice, error) {
	var rows []domain.Invoice
	err := tx.WithContext(ctx).
		Where("status IN ?", []domain.Status{domain.StatusPending, domain.StatusFailed}).
		Where("due_date < ?", now.UTC()).
		Order("due_date ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) DeleteCancelledBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.StatusCancelled, cutoff.UTC()).
		Delete(&domain.Invoice{})
	return res.RowsAffected, res.Error
}

func first(q *gorm.DB) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := q.First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}
