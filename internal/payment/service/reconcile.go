package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// notice is a notification queued until the reconcile transaction commits.
type notice struct {
	payerID     snowflake.ID
	templateKey string
	data        map[string]any
}

// ApplyTransactionOutcome is the single state transition for a gateway
// result, shared by webhooks, verify and saved-card charges. Replays are
// no-ops and success is never downgraded.
func (s *Service) ApplyTransactionOutcome(ctx context.Context, outcome domain.Outcome) (*domain.ReconcileResult, error) {
	if outcome.Transaction == nil || outcome.Reference == "" {
		return nil, apperror.InvalidArgument(domain.ErrInvalidPayload.Error(), "transaction outcome requires a reference")
	}

	var (
		result *domain.ReconcileResult
		queued *notice
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		result, queued, err = s.reconcile(ctx, outcome)
		if !errors.Is(err, apperror.ErrConcurrentUpdate) {
			break
		}
		s.log.Warn("concurrent update during reconcile, retrying", zap.String("reference", outcome.Reference))
	}
	if err != nil {
		return nil, err
	}

	if !result.Matched {
		s.log.Warn("no payment for gateway reference",
			zap.String("reference", outcome.Reference),
			zap.String("source", outcome.Source),
		)
		return result, nil
	}
	if queued != nil {
		s.notifyPayer(ctx, *queued)
	}
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, outcome domain.Outcome) (*domain.ReconcileResult, *notice, error) {
	result := &domain.ReconcileResult{}
	var queued *notice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByReference(ctx, tx, outcome.Reference)
		if err != nil {
			return err
		}
		if payment == nil {
			return nil
		}
		result.Matched = true
		result.PaymentStatus = payment.Status

		switch outcome.Transaction.Status {
		case domain.TransactionSuccess:
			queued, err = s.applySuccess(ctx, tx, payment, outcome.Transaction, result)
		case domain.TransactionFailed:
			queued, err = s.applyFailure(ctx, tx, payment, outcome.Transaction, result)
		case domain.TransactionPending:
			s.log.Debug("transaction still pending", zap.String("reference", outcome.Reference))
		default:
			s.log.Warn("unknown transaction status",
				zap.String("reference", outcome.Reference),
				zap.String("status", string(outcome.Transaction.Status)),
			)
		}
		if err != nil {
			return err
		}
		result.PaymentStatus = payment.Status
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, queued, nil
}

func (s *Service) applySuccess(ctx context.Context, tx *gorm.DB, payment *domain.Payment, txn *domain.Transaction, result *domain.ReconcileResult) (*notice, error) {
	now := s.clock.Now(ctx).UTC()
	paidAt := now
	if txn.PaidAt != nil {
		paidAt = txn.PaidAt.UTC()
	}
	meta := transactionMetadata(txn, paidAt)

	if payment.Status == domain.StatusSuccess {
		if payment.MergeMetadata(meta) {
			return nil, s.repo.Update(ctx, tx, payment)
		}
		return nil, nil
	}
	if payment.Status == domain.StatusFailed {
		// The status stays failed. Money captured after the failure is
		// flagged so an operator can refund it.
		meta["late_success"] = true
		meta["needs_refund"] = true
		meta["refund_reason"] = "success_after_failure"
		if payment.MergeMetadata(meta) {
			s.log.Warn("success reported for failed payment",
				zap.String("reference", payment.ProviderReference),
				zap.String("failure_reason", payment.FailureReason),
			)
			return nil, s.repo.Update(ctx, tx, payment)
		}
		return nil, nil
	}
	if err := payment.TransitionTo(domain.StatusSuccess); err != nil {
		s.log.Warn("payment cannot move to success",
			zap.String("reference", payment.ProviderReference),
			zap.String("status", string(payment.Status)),
		)
		return nil, nil
	}
	payment.PaidAt = &paidAt
	payment.FailureReason = ""
	if txn.Channel != "" {
		payment.Channel = txn.Channel
	}
	payment.MergeMetadata(meta)

	invoice, err := s.invoiceRepo.FindByIDUnscoped(ctx, tx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice != nil {
		switch {
		case invoice.Status == invoicedomain.StatusPaid:
			// Settled by another attempt.
			payment.MergeMetadata(map[string]any{"needs_refund": true, "refund_reason": "duplicate_payment"})
		case !invoicedomain.CanTransition(invoice.Status, invoicedomain.StatusPaid):
			payment.MergeMetadata(map[string]any{"needs_refund": true, "refund_reason": "invoice_" + string(invoice.Status)})
			s.log.Warn("payment received for closed invoice",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("invoice_status", string(invoice.Status)),
			)
		default:
			if err := invoice.TransitionTo(invoicedomain.StatusPaid); err != nil {
				return nil, err
			}
			invoice.PaidAt = &paidAt
			invoice.PaymentProvider = string(payment.Provider)
			invoice.ProviderReference = payment.ProviderReference
			if err := s.invoiceRepo.Update(ctx, tx, invoice); err != nil {
				return nil, err
			}
			result.InvoiceChanged = true

			reactivated, err := s.reactivate(ctx, tx, invoice, paidAt, now)
			if err != nil {
				return nil, err
			}
			result.Reactivated = reactivated
		}
	}

	if err := s.repo.Update(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := s.saveAuthorization(ctx, tx, payment, txn); err != nil {
		return nil, err
	}
	result.Changed = true

	data := map[string]any{
		"reference": payment.ProviderReference,
		"amount":    displayAmount(payment.Amount, payment.Currency),
		"paid_at":   paidAt.Format(time.RFC3339),
	}
	if invoice != nil {
		data["invoice_number"] = invoice.InvoiceNumber
	}
	return &notice{payerID: payment.PayerUserID, templateKey: notificationdomain.TemplatePaymentSuccess, data: data}, nil
}

// reactivate brings a lapsed subscription back once its invoice is paid. If
// the paid period already ended, a new one starts at paidAt.
func (s *Service) reactivate(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, paidAt, now time.Time) (bool, error) {
	if invoice.MemberSubscriptionID == nil {
		return false, nil
	}
	sub, err := s.subscriptionRepo.FindByIDUnscoped(ctx, tx, *invoice.MemberSubscriptionID)
	if err != nil {
		return false, err
	}
	if sub == nil || !sub.Status.Reactivatable() {
		return false, nil
	}

	exists, err := s.subscriptionRepo.ExistsActive(ctx, tx, sub.MemberID, sub.PlanID)
	if err != nil {
		return false, err
	}
	if exists {
		s.log.Warn("member already has an active subscription for plan, not reactivating",
			zap.String("subscription_id", sub.ID.String()),
		)
		return false, nil
	}

	switch {
	case invoice.PeriodEnd != nil && invoice.PeriodEnd.After(sub.ExpiresAt) && invoice.PeriodEnd.After(paidAt):
		sub.ExpiresAt = invoice.PeriodEnd.UTC()
	case !sub.ExpiresAt.After(paidAt):
		plan, err := s.planRepo.FindByID(ctx, tx, sub.OrganizationID, sub.PlanID)
		if err != nil {
			return false, err
		}
		if plan == nil {
			return false, apperror.NotFound(plandomain.ErrNotFound.Error())
		}
		end, err := plandomain.CalculatePeriodEnd(paidAt, plan.Interval, plan.IntervalCount)
		if err != nil {
			return false, err
		}
		sub.ExpiresAt = end
	}

	from := sub.Status
	if err := sub.TransitionTo(subscriptiondomain.StatusActive, now); err != nil {
		return false, err
	}
	if err := s.subscriptionRepo.Update(ctx, tx, sub); err != nil {
		return false, err
	}
	s.log.Info("subscription reactivated by payment",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("from", string(from)),
		zap.Time("expires_at", sub.ExpiresAt),
	)
	return true, nil
}

func (s *Service) saveAuthorization(ctx context.Context, tx *gorm.DB, payment *domain.Payment, txn *domain.Transaction) error {
	card := txn.Authorization
	if card == nil || !card.Reusable || card.Code == "" {
		return nil
	}
	return s.repo.UpsertAuthorization(ctx, tx, &domain.Authorization{
		ID:                s.genID.Generate(),
		OrganizationID:    payment.PayerOrgID,
		MemberID:          payment.PayerUserID,
		Provider:          payment.Provider,
		AuthorizationCode: card.Code,
		CustomerCode:      card.CustomerCode,
		Brand:             card.Brand,
		Last4:             card.Last4,
		ExpMonth:          card.ExpMonth,
		ExpYear:           card.ExpYear,
		Reusable:          true,
		Active:            true,
	})
}

func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, payment *domain.Payment, txn *domain.Transaction, result *domain.ReconcileResult) (*notice, error) {
	switch payment.Status {
	case domain.StatusPending:
	case domain.StatusFailed:
		if payment.MergeMetadata(map[string]any{"gateway_response": txn.GatewayResponse}) {
			return nil, s.repo.Update(ctx, tx, payment)
		}
		return nil, nil
	default:
		s.log.Info("ignoring failure for settled payment",
			zap.String("reference", payment.ProviderReference),
			zap.String("status", string(payment.Status)),
		)
		return nil, nil
	}

	if err := payment.TransitionTo(domain.StatusFailed); err != nil {
		return nil, err
	}
	payment.FailureReason = txn.GatewayResponse
	if payment.FailureReason == "" {
		payment.FailureReason = "declined"
	}
	if txn.Channel != "" {
		payment.Channel = txn.Channel
	}
	payment.MergeMetadata(map[string]any{"gateway_response": txn.GatewayResponse})
	if err := s.repo.Update(ctx, tx, payment); err != nil {
		return nil, err
	}
	result.Changed = true

	invoice, err := s.invoiceRepo.FindByIDUnscoped(ctx, tx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"reference": payment.ProviderReference,
		"amount":    displayAmount(payment.Amount, payment.Currency),
		"reason":    payment.FailureReason,
	}
	if invoice != nil {
		if invoice.Status == invoicedomain.StatusPending {
			if err := invoice.TransitionTo(invoicedomain.StatusFailed); err != nil {
				return nil, err
			}
			if err := s.invoiceRepo.Update(ctx, tx, invoice); err != nil {
				return nil, err
			}
			result.InvoiceChanged = true
		}
		data["invoice_number"] = invoice.InvoiceNumber
		data["retry_link"] = s.baseURL + "/invoices/" + invoice.ID.String() + "/pay"
	}
	return &notice{payerID: payment.PayerUserID, templateKey: notificationdomain.TemplatePaymentFailed, data: data}, nil
}

func (s *Service) notifyPayer(ctx context.Context, n notice) {
	if s.notifier == nil {
		return
	}
	member, err := s.memberRepo.FindByID(ctx, s.db, n.payerID)
	if err != nil || member == nil {
		s.log.Warn("payer not found for notification", zap.String("member_id", n.payerID.String()), zap.Error(err))
		return
	}
	to := notificationdomain.Recipient{Name: member.DisplayName(), Email: member.Email, Phone: member.Phone}
	if err := s.notifier.Notify(ctx, to, n.templateKey, n.data); err != nil {
		s.log.Warn("payment notification failed",
			zap.Error(err),
			zap.String("member_id", member.ID.String()),
			zap.String("template", n.templateKey),
		)
	}
}

func transactionMetadata(txn *domain.Transaction, paidAt time.Time) map[string]any {
	meta := map[string]any{
		"paid_at":          paidAt.Format(time.RFC3339),
		"channel":          txn.Channel,
		"gateway_response": txn.GatewayResponse,
	}
	if txn.Authorization != nil {
		meta["card_brand"] = txn.Authorization.Brand
		meta["card_last4"] = txn.Authorization.Last4
	}
	return meta
}
