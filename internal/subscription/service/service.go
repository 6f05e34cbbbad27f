package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/clock"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	"github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	PlanRepo    plandomain.Repository
	MemberRepo  memberdomain.Repository
	Invoices    invoicedomain.Service
	InvoiceRepo invoicedomain.Repository
	Payments    paymentdomain.Service `optional:"true"`
}

// authorizationRevoker is the slice of the payment service used on cancel.
type authorizationRevoker interface {
	DeactivateAuthorizations(ctx context.Context, memberID snowflake.ID) error
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	planRepo    plandomain.Repository
	memberRepo  memberdomain.Repository
	invoices    invoicedomain.Service
	invoiceRepo invoicedomain.Repository
	revoker     authorizationRevoker
}

func NewService(p Params) domain.Service {
	svc := &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		planRepo:    p.PlanRepo,
		memberRepo:  p.MemberRepo,
		invoices:    p.Invoices,
		invoiceRepo: p.InvoiceRepo,
	}
	if p.Payments != nil {
		svc.revoker = p.Payments
	}
	return svc
}

// Create enrolls a member in a plan and issues the first invoice in the same
// transaction. Trial subscriptions are billed at trial end.
func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.Created, error) {
	if input.TrialDays < 0 {
		return nil, apperror.InvalidArgument("invalid_trial_days", "trial_days must not be negative")
	}

	now := s.clock.Now(ctx).UTC()
	start := now
	if input.StartAt != nil {
		start = input.StartAt.UTC()
	}
	autoRenew := true
	if input.AutoRenew != nil {
		autoRenew = *input.AutoRenew
	}

	var out *domain.Created
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.memberRepo.FindByID(ctx, tx, input.MemberID)
		if err != nil {
			return err
		}
		if member == nil || member.OrganizationID != input.OrganizationID {
			return apperror.NotFound(domain.ErrMemberNotFound.Error())
		}

		plan, err := s.planRepo.FindByID(ctx, tx, input.OrganizationID, input.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return apperror.NotFound(plandomain.ErrNotFound.Error())
		}
		if !plan.IsActive {
			return apperror.InvalidState(domain.ErrPlanInactive.Error(), "plan is not accepting new subscriptions")
		}

		exists, err := s.repo.ExistsActive(ctx, tx, member.ID, plan.ID)
		if err != nil {
			return err
		}
		if exists {
			return apperror.InvalidState(domain.ErrAlreadyActive.Error(), "member already has an active subscription to this plan")
		}

		sub := &domain.Subscription{
			ID:             s.genID.Generate(),
			OrganizationID: input.OrganizationID,
			MemberID:       member.ID,
			PlanID:         plan.ID,
			StartedAt:      start,
			AutoRenew:      autoRenew,
			Metadata:       datatypes.JSONMap(input.Metadata),
		}

		// The first paid period starts now, or when the trial ends.
		periodStart := start
		if input.TrialDays > 0 {
			sub.Status = domain.StatusTrialing
			periodStart = start.AddDate(0, 0, input.TrialDays)
			sub.ExpiresAt = periodStart
		} else {
			sub.Status = domain.StatusActive
		}
		periodEnd, err := plandomain.CalculatePeriodEnd(periodStart, plan.Interval, plan.IntervalCount)
		if err != nil {
			return apperror.InvalidArgument(plandomain.ErrInvalidInterval.Error(), err.Error())
		}
		if sub.Status == domain.StatusActive {
			sub.ExpiresAt = periodEnd
		}

		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}

		inv, err := s.invoices.Create(ctx, tx, invoicedomain.CreateInput{
			IssuerOrgID:          sub.OrganizationID,
			BilledUserID:         member.ID,
			MemberSubscriptionID: &sub.ID,
			Kind:                 invoicedomain.KindInitial,
			Amount:               plan.Price,
			Currency:             plan.Currency,
			DueDate:              periodStart,
			PeriodStart:          &periodStart,
			PeriodEnd:            &periodEnd,
			Metadata: map[string]any{
				"plan_id":   plan.ID.String(),
				"plan_name": plan.Name,
			},
		})
		if err != nil {
			return err
		}

		out = &domain.Created{Subscription: sub, InvoiceID: inv.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", out.Subscription.ID.String()),
		zap.String("status", string(out.Subscription.Status)),
		zap.String("invoice_id", out.InvoiceID.String()),
	)
	return out, nil
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperror.NotFound(domain.ErrNotFound.Error())
	}
	return sub, nil
}

func (s *Service) Cancel(ctx context.Context, orgID, id snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.transition(ctx, orgID, id, domain.StatusCanceled)
	if err != nil {
		return nil, err
	}

	live, err := s.repo.CountLiveForMember(ctx, s.db, sub.MemberID, sub.ID)
	if err != nil {
		s.log.Warn("count live subscriptions failed", zap.Error(err), zap.String("member_id", sub.MemberID.String()))
		return sub, nil
	}
	if live == 0 && s.revoker != nil {
		if err := s.revoker.DeactivateAuthorizations(ctx, sub.MemberID); err != nil {
			s.log.Warn("deactivate saved authorizations failed",
				zap.Error(err),
				zap.String("member_id", sub.MemberID.String()),
			)
		}
	}
	return sub, nil
}

func (s *Service) Pause(ctx context.Context, orgID, id snowflake.ID) (*domain.Subscription, error) {
	return s.transition(ctx, orgID, id, domain.StatusPaused)
}

// Resume reactivates a paused subscription whose paid period has not elapsed.
// A lapsed one must be paid for through Reactivate.
func (s *Service) Resume(ctx context.Context, orgID, id snowflake.ID) (*domain.Subscription, error) {
	return s.transition(ctx, orgID, id, domain.StatusActive)
}

func (s *Service) transition(ctx context.Context, orgID, id snowflake.ID, target domain.Status) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return apperror.NotFound(domain.ErrNotFound.Error())
		}

		now := s.clock.Now(ctx).UTC()
		switch {
		case target == domain.StatusCanceled && sub.Status == domain.StatusCanceled:
			return apperror.InvalidState(domain.ErrAlreadyCanceled.Error(), "subscription is already canceled")
		case target == domain.StatusActive && sub.Status != domain.StatusPaused:
			return apperror.InvalidState(domain.ErrInvalidTransition.Error(), "only paused subscriptions can be resumed")
		case target == domain.StatusActive && !sub.ExpiresAt.After(now):
			return apperror.InvalidState(domain.ErrPeriodElapsed.Error(), "paid period has elapsed, reactivate instead")
		}
		if target == domain.StatusActive {
			exists, err := s.repo.ExistsActive(ctx, tx, sub.MemberID, sub.PlanID)
			if err != nil {
				return err
			}
			if exists {
				return apperror.InvalidState(domain.ErrAlreadyActive.Error(), "member already has an active subscription to this plan")
			}
		}

		from := sub.Status
		if err := sub.TransitionTo(target, now); err != nil {
			return apperror.InvalidState(domain.ErrInvalidTransition.Error(), "cannot move from "+string(from)+" to "+string(target))
		}
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription status changed",
		zap.String("subscription_id", out.ID.String()),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) Reactivate(ctx context.Context, orgID, id snowflake.ID) (snowflake.ID, error) {
	var invoiceID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return apperror.NotFound(domain.ErrNotFound.Error())
		}
		if !sub.Status.Reactivatable() {
			return apperror.InvalidState(domain.ErrNotReactivatable.Error(), "subscription is "+string(sub.Status))
		}

		open, err := s.openInvoice(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if open != 0 {
			invoiceID = open
			return nil
		}

		plan, err := s.planRepo.FindByID(ctx, tx, orgID, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return apperror.NotFound(plandomain.ErrNotFound.Error())
		}

		now := s.clock.Now(ctx).UTC()
		inv, err := s.invoices.Create(ctx, tx, invoicedomain.CreateInput{
			IssuerOrgID:          sub.OrganizationID,
			BilledUserID:         sub.MemberID,
			MemberSubscriptionID: &sub.ID,
			Kind:                 invoicedomain.KindReactivation,
			Amount:               plan.Price,
			Currency:             plan.Currency,
			DueDate:              now,
			Metadata: map[string]any{
				"plan_id":   plan.ID.String(),
				"plan_name": plan.Name,
			},
		})
		if err != nil {
			return err
		}
		invoiceID = inv.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return invoiceID, nil
}

// openInvoice finds an unpaid invoice that already settles a reactivation:
// an explicit reactivation invoice, or the unpaid initial or renewal one.
func (s *Service) openInvoice(ctx context.Context, tx *gorm.DB, subID snowflake.ID) (snowflake.ID, error) {
	for _, kind := range []invoicedomain.Kind{invoicedomain.KindReactivation, invoicedomain.KindInitial, invoicedomain.KindRenewal} {
		inv, err := s.invoiceRepo.FindOpenBySubscription(ctx, tx, subID, kind)
		if err != nil {
			return 0, err
		}
		if inv != nil {
			return inv.ID, nil
		}
	}
	return 0, nil
}
