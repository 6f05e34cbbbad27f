package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
	Repo  domain.Repository

	SubscriptionRepo subscriptiondomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	subRepo  subscriptiondomain.Repository
	currency string
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		subRepo:  p.SubscriptionRepo,
		currency: p.Cfg.Billing.DefaultCurrency,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.Plan, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperror.InvalidArgument("invalid_name", "plan name is required")
	}
	if input.Price <= 0 {
		return nil, apperror.InvalidArgument(domain.ErrInvalidPrice.Error(), "price must be positive")
	}
	if !input.Interval.Valid() {
		return nil, apperror.InvalidArgument(domain.ErrInvalidInterval.Error(), "unknown billing interval")
	}
	count := input.IntervalCount
	if count == 0 {
		count = 1
	}
	if count < 1 {
		return nil, apperror.InvalidArgument(domain.ErrInvalidInterval.Error(), "interval_count must be >= 1")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = s.currency
	}

	plan := &domain.Plan{
		ID:             s.genID.Generate(),
		OrganizationID: input.OrganizationID,
		Name:           name,
		Price:          input.Price,
		Currency:       currency,
		Interval:       input.Interval,
		IntervalCount:  count,
		IsActive:       true,
	}
	if err := s.repo.Insert(ctx, s.db, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Update edits a plan. Price and interval are frozen while any active
// subscription references the plan.
func (s *Service) Update(ctx context.Context, orgID, planID snowflake.ID, input domain.UpdateInput) (*domain.Plan, error) {
	var updated *domain.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := s.repo.FindByID(ctx, tx, orgID, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return apperror.NotFound(domain.ErrNotFound.Error())
		}

		pricing := (input.Price != nil && *input.Price != plan.Price) ||
			(input.Interval != nil && *input.Interval != plan.Interval) ||
			(input.IntervalCount != nil && *input.IntervalCount != plan.IntervalCount)
		if pricing {
			active, err := s.subRepo.CountActiveForPlan(ctx, tx, plan.ID)
			if err != nil {
				return err
			}
			if active > 0 {
				return apperror.InvalidState(domain.ErrPlanLocked.Error(), "plan has active subscriptions")
			}
		}

		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return apperror.InvalidArgument("invalid_name", "plan name is required")
			}
			plan.Name = name
		}
		if input.Price != nil {
			if *input.Price <= 0 {
				return apperror.InvalidArgument(domain.ErrInvalidPrice.Error(), "price must be positive")
			}
			plan.Price = *input.Price
		}
		if input.Interval != nil {
			if !input.Interval.Valid() {
				return apperror.InvalidArgument(domain.ErrInvalidInterval.Error(), "unknown billing interval")
			}
			plan.Interval = *input.Interval
		}
		if input.IntervalCount != nil {
			if *input.IntervalCount < 1 {
				return apperror.InvalidArgument(domain.ErrInvalidInterval.Error(), "interval_count must be >= 1")
			}
			plan.IntervalCount = *input.IntervalCount
		}
		if input.IsActive != nil {
			plan.IsActive = *input.IsActive
		}

		if err := s.repo.Save(ctx, tx, plan); err != nil {
			return err
		}
		updated = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("plan updated", zap.String("plan_id", updated.ID.String()))
	return updated, nil
}
