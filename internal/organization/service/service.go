package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSlugAttempts = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.Organization, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperror.InvalidArgument(domain.ErrInvalidName.Error(), "organization name is required")
	}

	base := slug.Make(name)
	if base == "" {
		base = "org"
	}

	var created *domain.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		value, err := s.uniqueSlug(ctx, tx, base)
		if err != nil {
			return err
		}
		org := &domain.Organization{
			ID:     s.genID.Generate(),
			Name:   name,
			Slug:   value,
			Email:  strings.TrimSpace(input.Email),
			Status: domain.StatusActive,
		}
		if err := s.repo.Insert(ctx, tx, org); err != nil {
			return err
		}
		created = org
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("organization created", zap.String("organization_id", created.ID.String()), zap.String("slug", created.Slug))
	return created, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	org, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, apperror.NotFound(domain.ErrNotFound.Error())
	}
	return org, nil
}

// uniqueSlug appends -2, -3, ... until the slug is free.
func (s *Service) uniqueSlug(ctx context.Context, tx *gorm.DB, base string) (string, error) {
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		existing, err := s.repo.FindBySlug(ctx, tx, candidate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", apperror.InvalidState("slug_exhausted", "could not allocate a unique slug")
}
