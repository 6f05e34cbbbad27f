package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/observability"
	"github.com/railzwaylabs/membership/internal/payment/adapters"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Metrics  *observability.Metrics
	Adapters *adapters.Registry
	Repo     domain.Repository
	Payments domain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *observability.Metrics
	adapters *adapters.Registry
	repo     domain.Repository
	payments domain.Service
}

func NewService(p Params) domain.WebhookService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    p.Clock,
		metrics:  p.Metrics,
		adapters: p.Adapters,
		repo:     p.Repo,
		payments: p.Payments,
	}
}

// IngestWebhook verifies and applies one gateway delivery. Only a bad
// signature is rejected. Unmatched, unhandled and failed events are
// acknowledged and kept in the event log with their outcome; VerifyPayment
// reconciles anything a failed delivery left behind.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	name, err := domain.ParseProvider(provider)
	if err != nil {
		return apperror.InvalidArgument(domain.ErrInvalidProvider.Error(), "unknown payment provider")
	}
	gateway, err := s.adapters.Get(name)
	if err != nil {
		return apperror.NotFound(domain.ErrProviderNotFound.Error())
	}

	if err := gateway.VerifyWebhook(payload, headers); err != nil {
		s.count(name, "unknown", "rejected")
		s.log.Warn("webhook signature rejected", zap.String("provider", string(name)), zap.Error(err))
		return apperror.SignatureInvalid()
	}

	receivedAt := s.clock.Now(ctx).UTC()
	record := &domain.EventRecord{
		ID:         s.genID.Generate(),
		Provider:   name,
		ReceivedAt: receivedAt,
	}
	if json.Valid(payload) {
		record.Payload = datatypes.JSON(maskPayload(payload))
	} else {
		record.Payload = datatypes.JSON(`{}`)
	}

	event, err := gateway.ParseWebhook(payload)
	if err != nil {
		record.EventType = "malformed"
		s.finish(ctx, record, domain.OutcomeError)
		s.log.Warn("webhook payload could not be parsed", zap.String("provider", string(name)), zap.Error(err))
		return nil
	}
	record.EventType = event.Type
	record.Reference = event.Reference

	s.log.Info("processing webhook",
		zap.String("provider", string(name)),
		zap.String("type", event.Type),
		zap.String("reference", event.Reference),
		zap.Int("payload_size", len(payload)),
	)

	if event.Kind == domain.EventIgnored || event.Transaction == nil {
		s.log.Warn("unhandled webhook event", zap.String("provider", string(name)), zap.String("type", event.Type))
		s.finish(ctx, record, domain.OutcomeIgnored)
		return nil
	}

	result, err := s.payments.ApplyTransactionOutcome(ctx, domain.Outcome{
		Reference:   event.Reference,
		Transaction: event.Transaction,
		Source:      "webhook",
	})
	if err != nil {
		s.finish(ctx, record, domain.OutcomeError)
		s.log.Error("webhook processing failed",
			zap.String("provider", string(name)),
			zap.String("reference", event.Reference),
			zap.Error(err),
		)
		return nil
	}

	switch {
	case !result.Matched:
		s.finish(ctx, record, domain.OutcomeUnmatched)
	case result.Changed:
		s.finish(ctx, record, domain.OutcomeApplied)
	default:
		s.finish(ctx, record, domain.OutcomeNoop)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, record *domain.EventRecord, outcome string) {
	processed := s.clock.Now(ctx).UTC()
	record.Outcome = outcome
	record.ProcessedAt = &processed
	s.count(record.Provider, record.EventType, outcome)
	if err := s.repo.InsertEvent(ctx, s.db, record); err != nil {
		s.log.Warn("store webhook event failed", zap.Error(err), zap.String("reference", record.Reference))
	}
}

func (s *Service) count(provider domain.Provider, eventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WebhookEvents.WithLabelValues(string(provider), eventType, outcome).Inc()
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "card", "authorization", "authorization_code", "billing_details", "shipping_details", "payment_method_details", "email", "phone":
			m[k] = "***"
		default:
			if nested, ok := v.(map[string]any); ok {
				maskMap(nested)
			} else if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
