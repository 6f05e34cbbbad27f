package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Member struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganizationID snowflake.ID `json:"organization_id" gorm:"not null;index"`
	Email          string       `json:"email" gorm:"type:text;not null"`
	Phone          string       `json:"phone" gorm:"type:text"`
	FirstName      string       `json:"first_name" gorm:"type:text"`
	LastName       string       `json:"last_name" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (Member) TableName() string { return "members" }

func (m Member) DisplayName() string {
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	if name == "" {
		return m.Email
	}
	return name
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]Member, error)
}

type CreateInput struct {
	OrganizationID snowflake.ID
	Email          string
	Phone          string
	FirstName      string
	LastName       string
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*Member, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*Member, error)
}

var (
	ErrNotFound     = errors.New("member_not_found")
	ErrInvalidEmail = errors.New("invalid_member_email")
	ErrEmailTaken   = errors.New("member_email_taken")
)
