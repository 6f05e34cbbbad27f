package service

import (
	"context"

	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CleanupOldRecords purges cancelled invoices, webhook event logs and
// reminder markers past retention, then hands expired sessions to the
// SessionCleaner when one is provided. Each step is independent.
func (s *Service) CleanupOldRecords(ctx context.Context) (domain.JobResult, error) {
	run := s.startRun(domain.JobCleanupOldRecords)
	now := s.clock.Now(ctx).UTC()

	steps := []struct {
		name string
		fn   func() (int64, error)
	}{
		{"cancelled_invoices", func() (int64, error) {
			return s.invoiceRepo.DeleteCancelledBefore(ctx, s.db, now.Add(-s.cfg.InvoiceRetention))
		}},
		{"webhook_events", func() (int64, error) {
			return s.paymentRepo.DeleteEventsBefore(ctx, s.db, now.Add(-s.cfg.WebhookRetention))
		}},
		{"reminder_logs", func() (int64, error) {
			return s.repo.DeleteRemindersBefore(ctx, s.db, now.Add(-s.cfg.InvoiceRetention))
		}},
	}
	if s.sessions != nil {
		steps = append(steps, struct {
			name string
			fn   func() (int64, error)
		}{"sessions", func() (int64, error) { return s.sessions.CleanupExpired(ctx, now) }})
	}

	for _, step := range steps {
		deleted, err := step.fn()
		if err != nil {
			s.log.Error("cleanup step failed", zap.String("step", step.name), zap.Error(err))
			run.add(itemFailed)
			continue
		}
		s.log.Info("cleanup step completed", zap.String("step", step.name), zap.Int64("deleted", deleted))
		run.add(itemSucceeded)
	}

	return s.finishRun(run), nil
}

func displayAmount(amount int64, currency string) string {
	return currency + " " + decimal.NewFromInt(amount).StringFixed(2)
}
