package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	"github.com/railzwaylabs/membership/internal/observability"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
	Repo             domain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	InvoiceRepo      invoicedomain.Repository
	PlanRepo         plandomain.Repository
	MemberRepo       memberdomain.Repository
	PaymentRepo      paymentdomain.Repository
	Invoices         invoicedomain.Service
	Notifier         notificationdomain.Dispatcher
	Payments         paymentdomain.Service `optional:"true"`
	Sessions         domain.SessionCleaner `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	cfg              config.BillingConfig
	loc              *time.Location
	baseURL          string
	metrics          *observability.Metrics
	repo             domain.Repository
	subscriptionRepo subscriptiondomain.Repository
	invoiceRepo      invoicedomain.Repository
	planRepo         plandomain.Repository
	memberRepo       memberdomain.Repository
	paymentRepo      paymentdomain.Repository
	invoices         invoicedomain.Service
	notifier         notificationdomain.Dispatcher
	payments         paymentdomain.Service
	sessions         domain.SessionCleaner
}

func NewService(p Params) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("lifecycle.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		cfg:              p.Cfg.Billing,
		loc:              p.Cfg.Location(),
		baseURL:          strings.TrimRight(p.Cfg.App.BaseURL, "/"),
		metrics:          p.Metrics,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		invoiceRepo:      p.InvoiceRepo,
		planRepo:         p.PlanRepo,
		memberRepo:       p.MemberRepo,
		paymentRepo:      p.PaymentRepo,
		invoices:         p.Invoices,
		notifier:         p.Notifier,
		payments:         p.Payments,
		sessions:         p.Sessions,
	}
}

func (s *Service) Run(ctx context.Context, job string) (domain.JobResult, error) {
	switch job {
	case domain.JobExpireDueSubscriptions:
		return s.ExpireDueSubscriptions(ctx)
	case domain.JobSendExpiryReminders:
		return s.SendExpiryReminders(ctx)
	case domain.JobCheckOverdueInvoices:
		return s.CheckOverdueInvoices(ctx)
	case domain.JobAutoRenewSubscriptions:
		return s.AutoRenewSubscriptions(ctx)
	case domain.JobCleanupOldRecords:
		return s.CleanupOldRecords(ctx)
	default:
		return domain.JobResult{Job: job}, domain.ErrUnknownJob
	}
}

type itemOutcome int

const (
	itemSucceeded itemOutcome = iota
	itemSkipped
	itemFailed
)

// jobRun accumulates per-entity outcomes of one job run.
type jobRun struct {
	mu      sync.Mutex
	started time.Time
	result  domain.JobResult
}

func (s *Service) startRun(job string) *jobRun {
	s.log.Info("job started", zap.String("job", job))
	return &jobRun{started: time.Now(), result: domain.JobResult{Job: job}}
}

func (r *jobRun) add(o itemOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Processed++
	switch o {
	case itemSucceeded:
		r.result.Succeeded++
	case itemSkipped:
		r.result.Skipped++
	case itemFailed:
		r.result.Failed++
	}
}

func (s *Service) finishRun(run *jobRun) domain.JobResult {
	run.mu.Lock()
	defer run.mu.Unlock()
	res := run.result
	res.Duration = time.Since(run.started)

	if s.metrics != nil {
		outcome := "ok"
		if res.Failed > 0 {
			outcome = "partial"
		}
		s.metrics.JobRuns.WithLabelValues(res.Job, outcome).Inc()
		s.metrics.JobItems.WithLabelValues(res.Job, "succeeded").Add(float64(res.Succeeded))
		s.metrics.JobItems.WithLabelValues(res.Job, "failed").Add(float64(res.Failed))
		s.metrics.JobItems.WithLabelValues(res.Job, "skipped").Add(float64(res.Skipped))
		s.metrics.JobDuration.WithLabelValues(res.Job).Observe(res.Duration.Seconds())
	}
	s.log.Info("job finished",
		zap.String("job", res.Job),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// forEach runs fn over items with bounded concurrency. An item's error is
// logged against its id and never stops the batch.
func forEach[T any](ctx context.Context, s *Service, run *jobRun, items []T, idOf func(T) snowflake.ID, fn func(context.Context, T) (itemOutcome, error)) {
	limit := s.cfg.JobConcurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				run.add(itemSkipped)
				return nil
			}
			outcome, err := fn(ctx, item)
			if err != nil {
				s.log.Error("job item failed",
					zap.String("job", run.result.Job),
					zap.String("entity_id", idOf(item).String()),
					zap.Error(err),
				)
				outcome = itemFailed
			}
			run.add(outcome)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) recipient(ctx context.Context, memberID snowflake.ID) (notificationdomain.Recipient, bool) {
	member, err := s.memberRepo.FindByID(ctx, s.db, memberID)
	if err != nil || member == nil {
		s.log.Warn("member not found for notification", zap.String("member_id", memberID.String()), zap.Error(err))
		return notificationdomain.Recipient{}, false
	}
	return notificationdomain.Recipient{Name: member.DisplayName(), Email: member.Email, Phone: member.Phone}, true
}

// notify sends and logs failures. It reports whether delivery succeeded.
func (s *Service) notify(ctx context.Context, memberID snowflake.ID, templateKey string, data map[string]any) bool {
	to, ok := s.recipient(ctx, memberID)
	if !ok {
		return false
	}
	if err := s.notifier.Notify(ctx, to, templateKey, data); err != nil {
		s.log.Warn("notification failed",
			zap.Error(err),
			zap.String("member_id", memberID.String()),
			zap.String("template", templateKey),
		)
		return false
	}
	return true
}

func (s *Service) reactivationLink(id snowflake.ID) string {
	return s.baseURL + "/subscriptions/" + id.String() + "/reactivate"
}

func (s *Service) payLink(id snowflake.ID) string {
	return s.baseURL + "/invoices/" + id.String() + "/pay"
}
