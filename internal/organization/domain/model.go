package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended:
		return true
	}
	return false
}

// Organization is the tenant root. Plans, members and subscriptions cascade
// with it.
type Organization struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Slug      string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	Email     string       `json:"email" gorm:"type:text"`
	Status    Status       `json:"status" gorm:"type:text;not null;default:active"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Organization) TableName() string { return "organizations" }

type CreateInput struct {
	Name  string
	Email string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, org *Organization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Organization, error)
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Organization, error)
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
}

var (
	ErrInvalidName = errors.New("invalid_organization_name")
	ErrNotFound    = errors.New("organization_not_found")
)
