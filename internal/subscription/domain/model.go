package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription is a member's enrollment in a plan. Deleting it leaves its
// invoices in place.
type Subscription struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrganizationID snowflake.ID      `json:"organization_id" gorm:"not null;index"`
	MemberID       snowflake.ID      `json:"member_id" gorm:"not null;index:idx_member_subscriptions_member_plan"`
	PlanID         snowflake.ID      `json:"plan_id" gorm:"not null;index:idx_member_subscriptions_member_plan"`
	Status         Status            `json:"status" gorm:"type:text;not null;index"`
	StartedAt      time.Time         `json:"started_at" gorm:"not null"`
	ExpiresAt      time.Time         `json:"expires_at" gorm:"not null;index"`
	CanceledAt     *time.Time        `json:"canceled_at,omitempty"`
	PausedAt       *time.Time        `json:"paused_at,omitempty"`
	AutoRenew      bool              `json:"auto_renew" gorm:"not null"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	Version        int64             `json:"version" gorm:"not null;default:1"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "member_subscriptions" }

// TransitionTo moves the subscription to target, stamping the lifecycle
// timestamps that belong to it.
func (s *Subscription) TransitionTo(target Status, now time.Time) error {
	if !CanTransition(s.Status, target) {
		return ErrInvalidTransition
	}
	switch target {
	case StatusCanceled:
		s.CanceledAt = &now
		s.AutoRenew = false
	case StatusPaused:
		s.PausedAt = &now
	case StatusActive:
		s.PausedAt = nil
	case StatusExpired, StatusTrialing:
	}
	s.Status = target
	return nil
}

type CreateInput struct {
	OrganizationID snowflake.ID
	MemberID       snowflake.ID
	PlanID         snowflake.ID
	TrialDays      int
	AutoRenew      *bool
	StartAt        *time.Time
	Metadata       map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindByIDUnscoped(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ExistsActive(ctx context.Context, db *gorm.DB, memberID, planID snowflake.ID) (bool, error)
	CountLiveForMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID, excludeID snowflake.ID) (int64, error)
	CountActiveForPlan(ctx context.Context, db *gorm.DB, planID snowflake.ID) (int64, error)
	ListDueForExpiry(ctx context.Context, db *gorm.DB, now time.Time) ([]Subscription, error)
	ListActiveExpiringBetween(ctx context.Context, db *gorm.DB, start, end time.Time, autoRenewOnly bool) ([]Subscription, error)
}

// Created pairs a new subscription with its first invoice.
type Created struct {
	Subscription *Subscription
	InvoiceID    snowflake.ID
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Created, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	Cancel(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	Pause(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	Resume(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	// Reactivate returns the open reactivation invoice for a lapsed
	// subscription, issuing one when none exists.
	Reactivate(ctx context.Context, orgID, id snowflake.ID) (snowflake.ID, error)
}

var (
	ErrNotFound          = errors.New("subscription_not_found")
	ErrInvalidStatus     = errors.New("invalid_subscription_status")
	ErrInvalidTransition = errors.New("invalid_subscription_transition")
	ErrAlreadyActive     = errors.New("subscription_already_active")
	ErrPlanInactive      = errors.New("plan_inactive")
	ErrMemberNotFound    = errors.New("member_not_found")
	ErrAlreadyCanceled   = errors.New("subscription_already_canceled")
	ErrNotReactivatable  = errors.New("subscription_not_reactivatable")
	ErrPeriodElapsed     = errors.New("subscription_period_elapsed")
)
