package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Invoice is a billing obligation tied to at most one subscription.
// MemberSubscriptionID is nulled when the subscription is deleted.
type Invoice struct {
	ID                         snowflake.ID      `json:"id" gorm:"primaryKey"`
	IssuerOrgID                snowflake.ID      `json:"issuer_org_id" gorm:"not null;index"`
	BilledUserID               snowflake.ID      `json:"billed_user_id" gorm:"not null;index"`
	MemberSubscriptionID       *snowflake.ID     `json:"member_subscription_id,omitempty" gorm:"uniqueIndex:idx_invoices_subscription_period"`
	OrganizationSubscriptionID *snowflake.ID     `json:"organization_subscription_id,omitempty"`
	InvoiceNumber              string            `json:"invoice_number" gorm:"type:text;not null;uniqueIndex"`
	Kind                       Kind              `json:"kind" gorm:"type:text;not null"`
	Amount                     int64             `json:"amount" gorm:"not null"`
	Currency                   string            `json:"currency" gorm:"type:text;not null"`
	Status                     Status            `json:"status" gorm:"type:text;not null;index"`
	DueDate                    time.Time         `json:"due_date" gorm:"not null;index"`
	PaidAt                     *time.Time        `json:"paid_at,omitempty"`
	PeriodStart                *time.Time        `json:"period_start,omitempty"`
	PeriodEnd                  *time.Time        `json:"period_end,omitempty" gorm:"uniqueIndex:idx_invoices_subscription_period"`
	PaymentProvider            string            `json:"payment_provider,omitempty" gorm:"type:text"`
	ProviderReference          string            `json:"provider_reference,omitempty" gorm:"type:text"`
	Metadata                   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	Version                    int64             `json:"version" gorm:"not null;default:1"`
	CreatedAt                  time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt                  time.Time         `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) TransitionTo(target Status) error {
	if i.Status == target {
		return nil
	}
	if !CanTransition(i.Status, target) {
		return ErrInvalidTransition
	}
	i.Status = target
	return nil
}

type CreateInput struct {
	IssuerOrgID          snowflake.ID
	BilledUserID         snowflake.ID
	MemberSubscriptionID *snowflake.ID
	Kind                 Kind
	Amount               int64
	Currency             string
	DueDate              time.Time
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	Metadata             map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindByIDUnscoped(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	NumberExists(ctx context.Context, db *gorm.DB, number string) (bool, error)
	FindOpenBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, kind Kind) (*Invoice, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Invoice, error)
	ListOverdue(ctx context.Context, db *gorm.DB, now time.Time) ([]Invoice, error)
	DeleteCancelledBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type Service interface {
	Create(ctx context.Context, db *gorm.DB, input CreateInput) (*Invoice, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)
	Cancel(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)
}

var (
	ErrNotFound          = errors.New("invoice_not_found")
	ErrInvalidStatus     = errors.New("invalid_invoice_status")
	ErrInvalidTransition = errors.New("invalid_invoice_transition")
	ErrAlreadyPaid       = errors.New("invoice_already_paid")
	ErrNotPayable        = errors.New("invoice_not_payable")
	ErrDuplicatePeriod   = errors.New("invoice_period_exists")
	ErrNumberExhausted   = errors.New("invoice_number_exhausted")
	ErrInvalidAmount     = errors.New("invalid_invoice_amount")
)
