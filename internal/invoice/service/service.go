package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/railzwaylabs/membership/internal/invoice/domain"
	"github.com/railzwaylabs/membership/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxNumberAttempts = 8

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	currency string
	numberFn domain.NumberGenerator
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		currency: p.Cfg.Billing.DefaultCurrency,
		numberFn: domain.RandomNumber,
	}
}

// Create inserts a pending invoice using tx when given. Number collisions are
// retried inside a savepoint so an outer transaction survives them.
func (s *Service) Create(ctx context.Context, tx *gorm.DB, input domain.CreateInput) (*domain.Invoice, error) {
	if tx == nil {
		tx = s.db
	}
	if input.Amount < 0 {
		return nil, apperror.InvalidArgument(domain.ErrInvalidAmount.Error(), "invoice amount must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.currency)
	}
	kind := input.Kind
	if kind == "" {
		kind = domain.KindAdHoc
	}

	now := s.clock.Now(ctx)
	invoice := &domain.Invoice{
		ID:                   s.genID.Generate(),
		IssuerOrgID:          input.IssuerOrgID,
		BilledUserID:         input.BilledUserID,
		MemberSubscriptionID: input.MemberSubscriptionID,
		Kind:                 kind,
		Amount:               input.Amount,
		Currency:             currency,
		Status:               domain.StatusPending,
		DueDate:              input.DueDate.UTC(),
		PeriodStart:          utcPtr(input.PeriodStart),
		PeriodEnd:            utcPtr(input.PeriodEnd),
		Metadata:             datatypes.JSONMap(input.Metadata),
		Version:              1,
	}
	if invoice.Metadata == nil {
		invoice.Metadata = datatypes.JSONMap{}
	}
	invoice.Metadata["kind"] = string(kind)

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		invoice.InvoiceNumber = s.numberFn(now)
		err := tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.Insert(ctx, sp, invoice)
		})
		if err == nil {
			s.log.Info("invoice created",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.String("kind", string(kind)),
			)
			return invoice, nil
		}
		if !db.IsUniqueViolation(err) {
			return nil, err
		}

		taken, lookupErr := s.repo.NumberExists(ctx, tx, invoice.InvoiceNumber)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if !taken {
			return nil, apperror.InvalidState(domain.ErrDuplicatePeriod.Error(), "an invoice already exists for this billing period")
		}
		s.log.Warn("invoice number collision, regenerating",
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.Int("attempt", attempt),
		)
	}
	return nil, domain.ErrNumberExhausted
}

func (s *Service) Get(ctx context.Context, orgID, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperror.NotFound(domain.ErrNotFound.Error())
	}
	return invoice, nil
}

func (s *Service) Cancel(ctx context.Context, orgID, id snowflake.ID) (*domain.Invoice, error) {
	var out *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return apperror.NotFound(domain.ErrNotFound.Error())
		}
		if err := invoice.TransitionTo(domain.StatusCancelled); err != nil {
			return apperror.InvalidState(domain.ErrNotPayable.Error(), "invoice is "+string(invoice.Status))
		}
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		out = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("invoice cancelled", zap.String("invoice_id", out.ID.String()))
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
