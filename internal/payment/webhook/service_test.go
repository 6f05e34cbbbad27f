package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/billingtest"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/observability"
	"github.com/railzwaylabs/membership/internal/payment/adapters"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	"github.com/railzwaylabs/membership/internal/payment/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) InitializePayment(ctx context.Context, input domain.InitializeInput) (*domain.InitializeOutput, error) {
	args := m.Called(ctx, input)
	return nil, args.Error(1)
}

func (m *MockPaymentService) VerifyPayment(ctx context.Context, orgID snowflake.ID, reference string) (*domain.VerifyOutput, error) {
	args := m.Called(ctx, orgID, reference)
	return nil, args.Error(1)
}

func (m *MockPaymentService) ApplyTransactionOutcome(ctx context.Context, outcome domain.Outcome) (*domain.ReconcileResult, error) {
	args := m.Called(ctx, outcome)
	res, _ := args.Get(0).(*domain.ReconcileResult)
	return res, args.Error(1)
}

func (m *MockPaymentService) ChargeSavedAuthorization(ctx context.Context, invoiceID snowflake.ID) (*domain.ReconcileResult, error) {
	args := m.Called(ctx, invoiceID)
	return nil, args.Error(1)
}

func (m *MockPaymentService) DeactivateAuthorizations(ctx context.Context, memberID snowflake.ID) error {
	return m.Called(ctx, memberID).Error(0)
}

// stubGateway accepts signature "good" and parses {"event","reference"}.
type stubGateway struct{}

func (stubGateway) Provider() domain.Provider { return domain.ProviderPaystack }

func (stubGateway) InitializeTransaction(context.Context, domain.InitializeRequest) (*domain.InitializeResult, error) {
	return nil, errors.New("unused")
}

func (stubGateway) VerifyTransaction(context.Context, string, string) (*domain.Transaction, error) {
	return nil, errors.New("unused")
}

func (stubGateway) ChargeAuthorization(context.Context, domain.ChargeRequest) (*domain.Transaction, error) {
	return nil, errors.New("unused")
}

func (stubGateway) DeactivateAuthorization(context.Context, string) error { return nil }

func (stubGateway) VerifyWebhook(_ []byte, headers http.Header) error {
	if headers.Get("X-Paystack-Signature") != "good" {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (stubGateway) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var body struct {
		Event     string `json:"event"`
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	event := &domain.WebhookEvent{Type: body.Event, Reference: body.Reference, Kind: domain.EventIgnored}
	switch body.Event {
	case "charge.success":
		event.Kind = domain.EventChargeSuccess
		event.Transaction = &domain.Transaction{Reference: body.Reference, Status: domain.TransactionSuccess}
	case "charge.failed":
		event.Kind = domain.EventChargeFailed
		event.Transaction = &domain.Transaction{Reference: body.Reference, Status: domain.TransactionFailed}
	}
	return event, nil
}

func newTestService(t *testing.T) (*Service, *MockPaymentService, *gorm.DB) {
	t.Helper()
	db := billingtest.OpenDB(t)
	payments := &MockPaymentService{}
	return &Service{
		db:       db,
		log:      zap.NewNop(),
		genID:    billingtest.Node(t),
		clock:    clock.Fixed{At: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)},
		metrics:  observability.NewTestMetrics(),
		adapters: adapters.NewRegistry(stubGateway{}),
		repo:     repository.Provide(),
		payments: payments,
	}, payments, db
}

func signed() http.Header {
	h := http.Header{}
	h.Set("X-Paystack-Signature", "good")
	return h
}

func TestIngestRejectsBadSignature(t *testing.T) {
	svc, payments, db := newTestService(t)

	err := svc.IngestWebhook(context.Background(), "paystack", []byte(`{"event":"charge.success","reference":"R1"}`), http.Header{})
	require.True(t, errors.Is(err, apperror.ErrSignatureInvalid))
	payments.AssertNotCalled(t, "ApplyTransactionOutcome", mock.Anything, mock.Anything)

	var count int64
	require.NoError(t, db.Model(&domain.EventRecord{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestIngestUnknownProvider(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.IngestWebhook(context.Background(), "stripe", []byte(`{}`), signed())
	require.True(t, errors.Is(err, apperror.ErrNotFound))

	err = svc.IngestWebhook(context.Background(), "flutterwave", []byte(`{}`), signed())
	require.True(t, errors.Is(err, apperror.ErrInvalidArgument))
}

func TestIngestAppliesChargeSuccess(t *testing.T) {
	svc, payments, db := newTestService(t)
	payments.On("ApplyTransactionOutcome", mock.Anything, mock.MatchedBy(func(o domain.Outcome) bool {
		return o.Reference == "R1" && o.Transaction.Status == domain.TransactionSuccess && o.Source == "webhook"
	})).Return(&domain.ReconcileResult{Matched: true, Changed: true}, nil).Once()

	err := svc.IngestWebhook(context.Background(), "paystack", []byte(`{"event":"charge.success","reference":"R1","card":"4081"}`), signed())
	require.NoError(t, err)
	payments.AssertExpectations(t)

	var record domain.EventRecord
	require.NoError(t, db.First(&record).Error)
	require.Equal(t, domain.OutcomeApplied, record.Outcome)
	require.Equal(t, "charge.success", record.EventType)
	require.NotContains(t, string(record.Payload), "4081")
}

func TestIngestAcknowledgesUnmatchedAndIgnored(t *testing.T) {
	svc, payments, db := newTestService(t)
	payments.On("ApplyTransactionOutcome", mock.Anything, mock.Anything).
		Return(&domain.ReconcileResult{Matched: false}, nil).Once()

	require.NoError(t, svc.IngestWebhook(context.Background(), "paystack", []byte(`{"event":"charge.failed","reference":"nope"}`), signed()))
	require.NoError(t, svc.IngestWebhook(context.Background(), "paystack", []byte(`{"event":"subscription.disable"}`), signed()))
	require.NoError(t, svc.IngestWebhook(context.Background(), "paystack", []byte(`not json`), signed()))
	payments.AssertNumberOfCalls(t, "ApplyTransactionOutcome", 1)

	var outcomes []string
	require.NoError(t, db.Model(&domain.EventRecord{}).Order("id").Pluck("outcome", &outcomes).Error)
	require.Equal(t, []string{domain.OutcomeUnmatched, domain.OutcomeIgnored, domain.OutcomeError}, outcomes)
}

func TestIngestAcknowledgesReconcileErrors(t *testing.T) {
	cases := map[string]error{
		"concurrent update": apperror.ErrConcurrentUpdate,
		"store failure":     errors.New("db down"),
	}
	for name, reconcileErr := range cases {
		t.Run(name, func(t *testing.T) {
			svc, payments, db := newTestService(t)
			payments.On("ApplyTransactionOutcome", mock.Anything, mock.Anything).
				Return(nil, reconcileErr).Once()

			err := svc.IngestWebhook(context.Background(), "paystack", []byte(`{"event":"charge.success","reference":"R1"}`), signed())
			require.NoError(t, err)

			var record domain.EventRecord
			require.NoError(t, db.First(&record).Error)
			require.Equal(t, domain.OutcomeError, record.Outcome)
			require.Equal(t, "R1", record.Reference)
		})
	}
}

func TestMaskPayload(t *testing.T) {
	raw := `{"card": "4242", "user": {"billing_details": "secret"}, "data": {"authorization": {"authorization_code": "AUTH_x"}}, "other": "ok"}`
	masked := maskPayload([]byte(raw))

	var output map[string]any
	require.NoError(t, json.Unmarshal(masked, &output))

	assert.Equal(t, "***", output["card"])
	assert.Equal(t, "ok", output["other"])
	user, _ := output["user"].(map[string]any)
	assert.Equal(t, "***", user["billing_details"])
	data, _ := output["data"].(map[string]any)
	assert.Equal(t, "***", data["authorization"])
}
