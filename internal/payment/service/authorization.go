package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChargeSavedAuthorization charges the invoice's payer with a saved reusable
// card and reconciles the result like any other gateway outcome.
func (s *Service) ChargeSavedAuthorization(ctx context.Context, invoiceID snowflake.ID) (*domain.ReconcileResult, error) {
	var (
		payment *domain.Payment
		auth    *domain.Authorization
		member  *memberdomain.Member
		invoice *invoicedomain.Invoice
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.invoiceRepo.FindByIDUnscoped(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return apperror.NotFound(domain.ErrInvoiceNotFound.Error())
		}
		if err := payableInvoice(invoice); err != nil {
			return err
		}

		auth, err = s.savedAuthorization(ctx, tx, invoice.BilledUserID)
		if err != nil {
			return err
		}
		if auth == nil {
			return apperror.InvalidState(domain.ErrNoSavedAuthorization.Error(), "payer has no reusable card on file")
		}

		member, err = s.memberRepo.FindByID(ctx, tx, invoice.BilledUserID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperror.NotFound(subscriptiondomain.ErrMemberNotFound.Error())
		}

		payment = s.newPayment(invoice, auth.Provider, s.clock.Now(ctx).UTC())
		payment.Metadata["charge"] = "saved_authorization"
		return s.repo.Insert(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	gateway, err := s.registry.Get(auth.Provider)
	if err != nil {
		return nil, s.failInitialize(ctx, payment, err)
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	txn, err := gateway.ChargeAuthorization(gctx, domain.ChargeRequest{
		AuthorizationCode: auth.AuthorizationCode,
		CustomerCode:      auth.CustomerCode,
		Email:             member.Email,
		AmountMinor:       toMinorUnits(invoice.Amount),
		Currency:          invoice.Currency,
		Reference:         payment.ProviderReference,
		Metadata: map[string]any{
			"invoice_id":     invoice.ID.String(),
			"invoice_number": invoice.InvoiceNumber,
			"payment_id":     payment.ID.String(),
			"payer_id":       member.ID.String(),
		},
	})
	s.observeGateway(auth.Provider, "charge_authorization", err)
	if err != nil {
		return nil, s.failInitialize(ctx, payment, err)
	}

	return s.ApplyTransactionOutcome(ctx, domain.Outcome{
		Reference:   payment.ProviderReference,
		Transaction: txn,
		Source:      "charge_authorization",
	})
}

func (s *Service) savedAuthorization(ctx context.Context, tx *gorm.DB, memberID snowflake.ID) (*domain.Authorization, error) {
	if s.defaultProvider != "" {
		auth, err := s.repo.FindActiveAuthorization(ctx, tx, memberID, s.defaultProvider)
		if err != nil || auth != nil {
			return auth, err
		}
	}
	auths, err := s.repo.ListActiveAuthorizations(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}
	for i := range auths {
		if auths[i].Reusable {
			return &auths[i], nil
		}
	}
	return nil, nil
}

// DeactivateAuthorizations revokes every saved card of a member. Local rows
// are deactivated even when the gateway call fails.
func (s *Service) DeactivateAuthorizations(ctx context.Context, memberID snowflake.ID) error {
	auths, err := s.repo.ListActiveAuthorizations(ctx, s.db, memberID)
	if err != nil {
		return err
	}

	var errs []error
	for _, auth := range auths {
		if gateway, err := s.registry.Get(auth.Provider); err == nil {
			gctx, cancel := s.gatewayContext(ctx)
			err := gateway.DeactivateAuthorization(gctx, auth.AuthorizationCode)
			cancel()
			s.observeGateway(auth.Provider, "deactivate_authorization", err)
			if err != nil {
				s.log.Warn("gateway deactivate authorization failed",
					zap.Error(err),
					zap.String("authorization_id", auth.ID.String()),
				)
			}
		}
		if err := s.repo.DeactivateAuthorization(ctx, s.db, auth.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
