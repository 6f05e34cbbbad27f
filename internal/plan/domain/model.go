package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Plan is a recurring price scoped to one organization. Price is in whole
// currency units.
type Plan struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganizationID snowflake.ID `json:"organization_id" gorm:"not null;index"`
	Name           string       `json:"name" gorm:"type:text;not null"`
	Price          int64        `json:"price" gorm:"not null"`
	Currency       string       `json:"currency" gorm:"type:text;not null"`
	Interval       Interval     `json:"interval" gorm:"type:text;not null"`
	IntervalCount  int          `json:"interval_count" gorm:"not null;default:1"`
	IsActive       bool         `json:"is_active" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (Plan) TableName() string { return "member_plans" }

type CreateInput struct {
	OrganizationID snowflake.ID
	Name           string
	Price          int64
	Currency       string
	Interval       Interval
	IntervalCount  int
}

type UpdateInput struct {
	Name          *string
	Price         *int64
	Interval      *Interval
	IntervalCount *int
	IsActive      *bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	Save(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Plan, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]Plan, error)
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Plan, error)
	Update(ctx context.Context, orgID, planID snowflake.ID, input UpdateInput) (*Plan, error)
}

var (
	ErrNotFound        = errors.New("plan_not_found")
	ErrInvalidInterval = errors.New("invalid_interval")
	ErrInvalidPrice    = errors.New("invalid_price")
	ErrPlanLocked      = errors.New("plan_pricing_locked")
)
