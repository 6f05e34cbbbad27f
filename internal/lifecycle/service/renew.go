package service

import (
	"context"
	"time"

	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/clock"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoRenewSubscriptions extends auto-renewing subscriptions that expire
// tomorrow by one plan period and issues the renewal invoice for it.
func (s *Service) AutoRenewSubscriptions(ctx context.Context) (domain.JobResult, error) {
	run := s.startRun(domain.JobAutoRenewSubscriptions)
	now := s.clock.Now(ctx)
	start, end := clock.DayWindow(now.AddDate(0, 0, 1), s.loc)

	subs, err := s.subscriptionRepo.ListActiveExpiringBetween(ctx, s.db, start, end, true)
	if err != nil {
		return s.finishRun(run), err
	}

	forEach(ctx, s, run, subs, subscriptionID, func(ctx context.Context, candidate subscriptiondomain.Subscription) (itemOutcome, error) {
		var (
			renewed *subscriptiondomain.Subscription
			invoice *invoicedomain.Invoice
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := s.subscriptionRepo.FindByIDUnscoped(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if sub == nil || sub.Status != subscriptiondomain.StatusActive || !sub.AutoRenew {
				return nil
			}
			// A rerun finds the period already moved past the window.
			if sub.ExpiresAt.Before(start) || !sub.ExpiresAt.Before(end.Add(time.Second)) {
				return nil
			}

			plan, err := s.planRepo.FindByID(ctx, tx, sub.OrganizationID, sub.PlanID)
			if err != nil {
				return err
			}
			if plan == nil {
				return plandomain.ErrNotFound
			}
			periodStart := sub.ExpiresAt
			periodEnd, err := plandomain.CalculatePeriodEnd(periodStart, plan.Interval, plan.IntervalCount)
			if err != nil {
				return err
			}

			invoice, err = s.invoices.Create(ctx, tx, invoicedomain.CreateInput{
				IssuerOrgID:          sub.OrganizationID,
				BilledUserID:         sub.MemberID,
				MemberSubscriptionID: &sub.ID,
				Kind:                 invoicedomain.KindRenewal,
				Amount:               plan.Price,
				Currency:             plan.Currency,
				DueDate:              periodEnd,
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

			sub.ExpiresAt = periodEnd
			if err := s.subscriptionRepo.Update(ctx, tx, sub); err != nil {
				return err
			}
			renewed = sub
			return nil
		})
		if apperror.CodeOf(err) == invoicedomain.ErrDuplicatePeriod.Error() {
			return itemSkipped, nil
		}
		if err != nil {
			return itemFailed, err
		}
		if renewed == nil {
			return itemSkipped, nil
		}

		s.log.Info("subscription renewed",
			zap.String("subscription_id", renewed.ID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.Time("expires_at", renewed.ExpiresAt),
		)
		s.notify(ctx, renewed.MemberID, notificationdomain.TemplateInvoiceCreated, map[string]any{
			"invoice_id":     invoice.ID.String(),
			"invoice_number": invoice.InvoiceNumber,
			"amount":         displayAmount(invoice.Amount, invoice.Currency),
			"due_date":       invoice.DueDate.Format(time.RFC3339),
			"pay_link":       s.payLink(invoice.ID),
		})
		s.chargeRenewal(ctx, invoice)
		return itemSucceeded, nil
	})

	return s.finishRun(run), nil
}

// chargeRenewal charges a saved card for the renewal invoice when enabled.
// The invoice stays payable through the pay link when this fails.
func (s *Service) chargeRenewal(ctx context.Context, invoice *invoicedomain.Invoice) {
	if !s.cfg.AutoChargeRenewals || s.payments == nil {
		return
	}
	_, err := s.payments.ChargeSavedAuthorization(ctx, invoice.ID)
	switch {
	case err == nil:
	case apperror.CodeOf(err) == paymentdomain.ErrNoSavedAuthorization.Error():
		s.log.Debug("no saved card for renewal", zap.String("invoice_id", invoice.ID.String()))
	default:
		s.log.Warn("renewal charge failed", zap.Error(err), zap.String("invoice_id", invoice.ID.String()))
	}
}
