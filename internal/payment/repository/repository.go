package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	"github.com/railzwaylabs/membership/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	if payment.Version == 0 {
		payment.Version = 1
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	updates := map[string]any{
		"status":                 payment.Status,
		"failure_reason":         payment.FailureReason,
		"channel":                payment.Channel,
		"paid_at":                payment.PaidAt,
		"gateway_transaction_id": payment.GatewayTransactionID,
		"authorization_url":      payment.AuthorizationURL,
		"access_code":            payment.AccessCode,
		"metadata":               payment.Metadata,
	}
	if err := db.UpdateVersioned(ctx, tx, domain.Payment{}.TableName(), payment.ID, &payment.Version, updates); err != nil {
		return err
	}
	payment.UpdatedAt = updates["updated_at"].(time.Time)
	return nil
}

func (r *repo) FindByReference(ctx context.Context, tx *gorm.DB, reference string) (*domain.Payment, error) {
	return firstPayment(tx.WithContext(ctx).Where("provider_reference = ?", reference))
}

func (r *repo) FindByOrgReference(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, reference string) (*domain.Payment, error) {
	return firstPayment(tx.WithContext(ctx).Where("provider_reference = ? AND payer_org_id = ?", reference, orgID))
}

func (r *repo) ListPendingByInvoice(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var rows []domain.Payment
	err := tx.WithContext(ctx).
		Where("invoice_id = ? AND status = ?", invoiceID, domain.StatusPending).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) UpsertAuthorization(ctx context.Context, tx *gorm.DB, auth *domain.Authorization) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "authorization_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_code", "email", "brand", "last4", "exp_month", "exp_year", "reusable", "active", "updated_at",
		}),
	}).Create(auth).Error
}

func (r *repo) FindActiveAuthorization(ctx context.Context, tx *gorm.DB, memberID snowflake.ID, provider domain.Provider) (*domain.Authorization, error) {
	var auth domain.Authorization
	err := tx.WithContext(ctx).
		Where("member_id = ? AND provider = ? AND active = ? AND reusable = ?", memberID, provider, true, true).
		Order("updated_at DESC").
		First(&auth).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auth, nil
}

func (r *repo) ListActiveAuthorizations(ctx context.Context, tx *gorm.DB, memberID snowflake.ID) ([]domain.Authorization, error) {
	var rows []domain.Authorization
	err := tx.WithContext(ctx).
		Where("member_id = ? AND active = ?", memberID, true).
		Find(&rows).Error
	return rows, err
}

func (r *repo) DeactivateAuthorization(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).
		Model(&domain.Authorization{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, event *domain.EventRecord) error {
	return tx.WithContext(ctx).Create(event).Error
}

func (r *repo) DeleteEventsBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.WithContext(ctx).Where("received_at < ?", cutoff.UTC()).Delete(&domain.EventRecord{})
	return res.RowsAffected, res.Error
}

func firstPayment(q *gorm.DB) (*domain.Payment, error) {
	var payment domain.Payment
	if err := q.First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}
