package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/member/domain"
	"github.com/railzwaylabs/membership/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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
		log:   p.Log.Named("member.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.Member, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, apperror.InvalidArgument(domain.ErrInvalidEmail.Error(), "a valid email is required")
	}

	member := &domain.Member{
		ID:             s.genID.Generate(),
		OrganizationID: input.OrganizationID,
		Email:          email,
		Phone:          strings.TrimSpace(input.Phone),
		FirstName:      strings.TrimSpace(input.FirstName),
		LastName:       strings.TrimSpace(input.LastName),
	}
	if err := s.repo.Insert(ctx, s.db, member); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperror.InvalidState(domain.ErrEmailTaken.Error(), "a member with this email already exists")
		}
		return nil, err
	}

	s.log.Info("member created",
		zap.String("member_id", member.ID.String()),
		zap.String("organization_id", member.OrganizationID.String()),
	)
	return member, nil
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*domain.Member, error) {
	member, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if member == nil || member.OrganizationID != orgID {
		return nil, apperror.NotFound(domain.ErrNotFound.Error())
	}
	return member, nil
}
