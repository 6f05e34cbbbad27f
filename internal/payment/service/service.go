package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	"github.com/railzwaylabs/membership/internal/observability"
	"github.com/railzwaylabs/membership/internal/payment/adapters"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	Cfg              config.Config
	Metrics          *observability.Metrics
	Registry         *adapters.Registry
	Repo             domain.Repository
	InvoiceRepo      invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	PlanRepo         plandomain.Repository
	MemberRepo       memberdomain.Repository
	Notifier         notificationdomain.Dispatcher
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	metrics          *observability.Metrics
	registry         *adapters.Registry
	repo             domain.Repository
	invoiceRepo      invoicedomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	planRepo         plandomain.Repository
	memberRepo       memberdomain.Repository
	notifier         notificationdomain.Dispatcher

	defaultProvider domain.Provider
	referencePrefix string
	callbackURL     string
	baseURL         string
	pendingTTL      time.Duration
	gatewayTimeout  time.Duration
}

func NewService(p Params) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("payment.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		metrics:          p.Metrics,
		registry:         p.Registry,
		repo:             p.Repo,
		invoiceRepo:      p.InvoiceRepo,
		subscriptionRepo: p.SubscriptionRepo,
		planRepo:         p.PlanRepo,
		memberRepo:       p.MemberRepo,
		notifier:         p.Notifier,
		defaultProvider:  domain.Provider(strings.ToLower(p.Cfg.Billing.DefaultProvider)),
		referencePrefix:  p.Cfg.Billing.ReferencePrefix,
		callbackURL:      p.Cfg.Paystack.CallbackURL,
		baseURL:          strings.TrimRight(p.Cfg.App.BaseURL, "/"),
		pendingTTL:       p.Cfg.Billing.PendingPaymentTTL,
		gatewayTimeout:   p.Cfg.Billing.GatewayTimeout,
	}
}

// InitializePayment starts a hosted checkout for an unpaid invoice. The local
// payment row is written before the gateway is called.
func (s *Service) InitializePayment(ctx context.Context, input domain.InitializeInput) (*domain.InitializeOutput, error) {
	provider := input.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	gateway, err := s.registry.Get(provider)
	if err != nil {
		return nil, apperror.InvalidArgument(domain.ErrProviderNotFound.Error(), "payment provider "+string(provider)+" is not configured")
	}

	var (
		payment *domain.Payment
		reused  *domain.InitializeOutput
		invoice *invoicedomain.Invoice
		member  *memberdomain.Member
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err = s.invoiceRepo.FindByID(ctx, tx, input.OrganizationID, input.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return apperror.NotFound(domain.ErrInvoiceNotFound.Error())
		}
		if err := payableInvoice(invoice); err != nil {
			return err
		}

		now := s.clock.Now(ctx).UTC()
		reused, err = s.reuseOrSupersede(ctx, tx, invoice, provider, now)
		if err != nil || reused != nil {
			return err
		}

		member, err = s.memberRepo.FindByID(ctx, tx, invoice.BilledUserID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperror.NotFound(subscriptiondomain.ErrMemberNotFound.Error())
		}

		payment = s.newPayment(invoice, provider, now)
		return s.repo.Insert(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}
	if reused != nil {
		return reused, nil
	}

	callback := input.CallbackURL
	if callback == "" {
		callback = s.callbackURL
	}
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	result, err := gateway.InitializeTransaction(gctx, domain.InitializeRequest{
		Email:       member.Email,
		AmountMinor: toMinorUnits(invoice.Amount),
		Currency:    invoice.Currency,
		Reference:   payment.ProviderReference,
		CallbackURL: callback,
		Metadata: map[string]any{
			"invoice_id":      invoice.ID.String(),
			"invoice_number":  invoice.InvoiceNumber,
			"payment_id":      payment.ID.String(),
			"organization_id": invoice.IssuerOrgID.String(),
			"payer_id":        member.ID.String(),
			"payer_email":     member.Email,
			"payer_name":      member.DisplayName(),
		},
	})
	if err != nil {
		s.observeGateway(provider, "initialize", err)
		return nil, s.failInitialize(ctx, payment, err)
	}
	s.observeGateway(provider, "initialize", nil)

	payment.AuthorizationURL = result.AuthorizationURL
	payment.AccessCode = result.AccessCode
	payment.GatewayTransactionID = result.GatewayTransactionID
	if err := s.repo.Update(ctx, s.db, payment); err != nil {
		return nil, err
	}

	s.log.Info("payment initialized",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("reference", payment.ProviderReference),
		zap.String("provider", string(provider)),
	)
	return &domain.InitializeOutput{
		AuthorizationURL: payment.AuthorizationURL,
		AccessCode:       payment.AccessCode,
		Reference:        payment.ProviderReference,
	}, nil
}

// reuseOrSupersede returns a recent pending checkout for the same invoice and
// provider when one exists. Every other pending attempt is marked failed.
func (s *Service) reuseOrSupersede(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, provider domain.Provider, now time.Time) (*domain.InitializeOutput, error) {
	pending, err := s.repo.ListPendingByInvoice(ctx, tx, invoice.ID)
	if err != nil {
		return nil, err
	}

	var reused *domain.InitializeOutput
	for i := range pending {
		p := &pending[i]
		fresh := p.Provider == provider &&
			p.AuthorizationURL != "" &&
			p.Amount == invoice.Amount &&
			now.Sub(p.CreatedAt) < s.pendingTTL
		if fresh && reused == nil {
			reused = &domain.InitializeOutput{
				AuthorizationURL: p.AuthorizationURL,
				AccessCode:       p.AccessCode,
				Reference:        p.ProviderReference,
				Reused:           true,
			}
			continue
		}
		if err := p.TransitionTo(domain.StatusFailed); err != nil {
			return nil, err
		}
		p.FailureReason = domain.FailureSuperseded
		if err := s.repo.Update(ctx, tx, p); err != nil {
			return nil, err
		}
		s.log.Info("pending payment superseded", zap.String("reference", p.ProviderReference))
	}
	return reused, nil
}

// failInitialize records a gateway failure. A timeout leaves the payment
// pending since the provider may still have created the transaction.
func (s *Service) failInitialize(ctx context.Context, payment *domain.Payment, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		s.log.Warn("payment initialize timed out", zap.String("reference", payment.ProviderReference))
		return apperror.Gateway("payment provider timed out", cause)
	}

	if err := payment.TransitionTo(domain.StatusFailed); err == nil {
		payment.FailureReason = domain.FailureGatewayInitialize
		if err := s.repo.Update(ctx, s.db, payment); err != nil {
			s.log.Error("mark payment failed", zap.Error(err), zap.String("reference", payment.ProviderReference))
		}
	}
	s.log.Warn("payment initialize failed", zap.Error(cause), zap.String("reference", payment.ProviderReference))
	return apperror.Gateway(gatewayMessage(cause), cause)
}

// VerifyPayment polls the gateway and reconciles the answer through the same
// path webhooks use.
func (s *Service) VerifyPayment(ctx context.Context, orgID snowflake.ID, reference string) (*domain.VerifyOutput, error) {
	reference = strings.TrimSpace(reference)
	payment, err := s.repo.FindByOrgReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperror.NotFound(domain.ErrPaymentNotFound.Error())
	}

	gateway, err := s.registry.Get(payment.Provider)
	if err != nil {
		return nil, apperror.InvalidArgument(domain.ErrProviderNotFound.Error(), "payment provider "+string(payment.Provider)+" is not configured")
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	txn, err := gateway.VerifyTransaction(gctx, payment.ProviderReference, payment.GatewayTransactionID)
	s.observeGateway(payment.Provider, "verify", err)
	if err != nil {
		return nil, apperror.Gateway(gatewayMessage(err), err)
	}

	if _, err := s.ApplyTransactionOutcome(ctx, domain.Outcome{
		Reference:   payment.ProviderReference,
		Transaction: txn,
		Source:      "verify",
	}); err != nil {
		return nil, err
	}

	current, err := s.repo.FindByReference(ctx, s.db, payment.ProviderReference)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperror.NotFound(domain.ErrPaymentNotFound.Error())
	}
	return &domain.VerifyOutput{
		Status:  current.Status,
		Amount:  current.Amount,
		PaidAt:  current.PaidAt,
		Channel: current.Channel,
	}, nil
}

func (s *Service) newPayment(invoice *invoicedomain.Invoice, provider domain.Provider, now time.Time) *domain.Payment {
	return &domain.Payment{
		ID:                s.genID.Generate(),
		InvoiceID:         invoice.ID,
		PayerOrgID:        invoice.IssuerOrgID,
		PayerUserID:       invoice.BilledUserID,
		Amount:            invoice.Amount,
		Currency:          invoice.Currency,
		Provider:          provider,
		ProviderReference: s.newReference(now),
		Status:            domain.StatusPending,
		Metadata: datatypes.JSONMap{
			"invoice_number": invoice.InvoiceNumber,
		},
		Version:   1,
		CreatedAt: now,
	}
}

// newReference returns {PREFIX}-{unixMillis}-{shortId}.
func (s *Service) newReference(now time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", s.referencePrefix, now.UnixMilli(), strings.ToUpper(short))
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.gatewayTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

func (s *Service) observeGateway(provider domain.Provider, op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.GatewayCalls.WithLabelValues(string(provider), op, outcome).Inc()
}

func payableInvoice(invoice *invoicedomain.Invoice) error {
	switch {
	case invoice.Status == invoicedomain.StatusPaid:
		return apperror.InvalidState(invoicedomain.ErrAlreadyPaid.Error(), "invoice is already paid")
	case !invoice.Status.Payable():
		return apperror.InvalidState(domain.ErrInvoiceNotPayable.Error(), "invoice is "+string(invoice.Status))
	}
	return nil
}

func gatewayMessage(err error) string {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return ""
}

// toMinorUnits converts whole currency units to the gateway's minor unit.
func toMinorUnits(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(100)).IntPart()
}

func displayAmount(amount int64, currency string) string {
	return currency + " " + decimal.NewFromInt(amount).StringFixed(2)
}
