package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/clock"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"github.com/samber/lo"
)

const day = 24 * time.Hour

// SendExpiryReminders notifies active members whose subscription expires
// exactly N days from today, once per offset and period.
func (s *Service) SendExpiryReminders(ctx context.Context) (domain.JobResult, error) {
	run := s.startRun(domain.JobSendExpiryReminders)
	now := s.clock.Now(ctx)

	for _, offset := range lo.Uniq(s.cfg.ExpiryReminderDays) {
		if offset < 0 {
			continue
		}
		start, end := clock.DayWindow(now.AddDate(0, 0, offset), s.loc)
		subs, err := s.subscriptionRepo.ListActiveExpiringBetween(ctx, s.db, start, end, false)
		if err != nil {
			return s.finishRun(run), err
		}

		forEach(ctx, s, run, subs, subscriptionID, func(ctx context.Context, sub subscriptiondomain.Subscription) (itemOutcome, error) {
			return s.remind(ctx, domain.ReminderLog{
				Kind:      domain.ReminderExpiry,
				EntityID:  sub.ID,
				Stage:     offset,
				PeriodKey: sub.ExpiresAt.UTC().Format(time.DateOnly),
			}, sub.MemberID, notificationdomain.TemplateSubscriptionExpiryReminder, map[string]any{
				"subscription_id": sub.ID.String(),
				"days_left":       offset,
				"expires_at":      sub.ExpiresAt.UTC().Format(time.RFC3339),
			})
		})
	}

	return s.finishRun(run), nil
}

// CheckOverdueInvoices sends staged reminders for unpaid invoices. A reminder
// goes out only when the whole days overdue equal a configured stage.
func (s *Service) CheckOverdueInvoices(ctx context.Context) (domain.JobResult, error) {
	run := s.startRun(domain.JobCheckOverdueInvoices)
	now := s.clock.Now(ctx).UTC()

	overdue, err := s.invoiceRepo.ListOverdue(ctx, s.db, now)
	if err != nil {
		return s.finishRun(run), err
	}

	forEach(ctx, s, run, overdue, invoiceID, func(ctx context.Context, inv invoicedomain.Invoice) (itemOutcome, error) {
		daysOverdue := DaysOverdue(now, inv.DueDate)
		if !lo.Contains(s.cfg.OverdueReminderDays, daysOverdue) {
			return itemSkipped, nil
		}
		return s.remind(ctx, domain.ReminderLog{
			Kind:      domain.ReminderOverdue,
			EntityID:  inv.ID,
			Stage:     daysOverdue,
			PeriodKey: inv.DueDate.UTC().Format(time.DateOnly),
		}, inv.BilledUserID, notificationdomain.TemplateInvoiceOverdue, map[string]any{
			"invoice_id":     inv.ID.String(),
			"invoice_number": inv.InvoiceNumber,
			"days_overdue":   daysOverdue,
			"amount":         displayAmount(inv.Amount, inv.Currency),
			"pay_link":       s.payLink(inv.ID),
		})
	})

	return s.finishRun(run), nil
}

// DaysOverdue is floor((now - due) / 24h).
func DaysOverdue(now, due time.Time) int {
	return int(now.Sub(due) / day)
}

// remind claims the reminder marker and sends. A failed send releases the
// claim so the next run may try again.
func (s *Service) remind(ctx context.Context, marker domain.ReminderLog, memberID snowflake.ID, templateKey string, data map[string]any) (itemOutcome, error) {
	marker.ID = s.genID.Generate()
	marker.SentAt = s.clock.Now(ctx).UTC()

	claimed, err := s.repo.ClaimReminder(ctx, s.db, &marker)
	if err != nil {
		return itemFailed, err
	}
	if !claimed {
		return itemSkipped, nil
	}

	if !s.notify(ctx, memberID, templateKey, data) {
		if err := s.repo.ReleaseReminder(ctx, s.db, marker.ID); err != nil {
			return itemFailed, err
		}
		return itemFailed, nil
	}
	return itemSucceeded, nil
}

func invoiceID(inv invoicedomain.Invoice) snowflake.ID { return inv.ID }
