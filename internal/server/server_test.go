package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/billingtest"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/railzwaylabs/membership/internal/observability"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockWebhooks struct{ mock.Mock }

func (m *mockWebhooks) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	return m.Called(ctx, provider, payload, headers).Error(0)
}

type mockSubscriptions struct {
	subscriptiondomain.Service
	mock.Mock
}

func (m *mockSubscriptions) Get(ctx context.Context, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	args := m.Called(ctx, orgID, id)
	sub, _ := args.Get(0).(*subscriptiondomain.Subscription)
	return sub, args.Error(1)
}

func (m *mockSubscriptions) Cancel(ctx context.Context, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	args := m.Called(ctx, orgID, id)
	sub, _ := args.Get(0).(*subscriptiondomain.Subscription)
	return sub, args.Error(1)
}

type mockPayments struct {
	paymentdomain.Service
	mock.Mock
}

func (m *mockPayments) InitializePayment(ctx context.Context, input paymentdomain.InitializeInput) (*paymentdomain.InitializeOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*paymentdomain.InitializeOutput)
	return out, args.Error(1)
}

type testServer struct {
	srv           *Server
	webhooks      *mockWebhooks
	subscriptions *mockSubscriptions
	payments      *mockPayments
	metrics       *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		webhooks:      &mockWebhooks{},
		subscriptions: &mockSubscriptions{},
		payments:      &mockPayments{},
		metrics:       observability.NewTestMetrics(),
	}
	ts.srv = New(Params{
		Cfg:           config.Config{App: config.AppConfig{Env: "development"}, Database: config.DatabaseConfig{Driver: "sqlite"}},
		Log:           zap.NewNop(),
		DB:            billingtest.OpenDB(t),
		Metrics:       ts.metrics,
		Subscriptions: ts.subscriptions,
		Payments:      ts.payments,
		Webhooks:      ts.webhooks,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestWebhookAcknowledges(t *testing.T) {
	ts := newTestServer(t)
	ts.webhooks.On("IngestWebhook", mock.Anything, "paystack", []byte(`{"event":"charge.success"}`), mock.Anything).Return(nil)

	rec := ts.do(http.MethodPost, "/webhooks/paystack", `{"event":"charge.success"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerRequestID))
	ts.webhooks.AssertExpectations(t)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t)
	ts.webhooks.On("IngestWebhook", mock.Anything, "paystack", mock.Anything, mock.Anything).Return(apperror.SignatureInvalid())

	rec := ts.do(http.MethodPost, "/webhooks/paystack", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_signature", decodeError(t, rec).Type)
}

func TestScopedRoutesRequireOrganization(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/v1/subscriptions/123", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	ts.subscriptions.AssertNotCalled(t, "Get")
}

func TestErrorMapping(t *testing.T) {
	const orgID = snowflake.ID(42)
	headers := map[string]string{headerOrganization: orgID.String()}

	cases := []struct {
		name     string
		setup    func(ts *testServer)
		method   string
		path     string
		status   int
		wantType string
	}{
		{
			name: "not found",
			setup: func(ts *testServer) {
				ts.subscriptions.On("Get", mock.Anything, orgID, snowflake.ID(7)).Return(nil, apperror.NotFound(subscriptiondomain.ErrNotFound.Error()))
			},
			method: http.MethodGet, path: "/v1/subscriptions/7", status: http.StatusNotFound, wantType: "not_found",
		},
		{
			name: "invalid state",
			setup: func(ts *testServer) {
				ts.subscriptions.On("Cancel", mock.Anything, orgID, snowflake.ID(7)).Return(nil, apperror.InvalidState(subscriptiondomain.ErrAlreadyCanceled.Error(), "subscription is already canceled"))
			},
			method: http.MethodPost, path: "/v1/subscriptions/7/cancel", status: http.StatusConflict, wantType: "invalid_state",
		},
		{
			name: "gateway",
			setup: func(ts *testServer) {
				ts.payments.On("InitializePayment", mock.Anything, mock.Anything).Return(nil, apperror.Gateway("Invalid key", errors.New("401")))
			},
			method: http.MethodPost, path: "/v1/invoices/9/pay", status: http.StatusBadGateway, wantType: "gateway_error",
		},
		{
			name: "unclassified",
			setup: func(ts *testServer) {
				ts.subscriptions.On("Get", mock.Anything, orgID, snowflake.ID(8)).Return(nil, errors.New("connection reset"))
			},
			method: http.MethodGet, path: "/v1/subscriptions/8", status: http.StatusInternalServerError, wantType: "internal_error",
		},
		{
			name:   "bad id",
			setup:  func(*testServer) {},
			method: http.MethodGet, path: "/v1/subscriptions/abc", status: http.StatusBadRequest, wantType: "invalid_request",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			tc.setup(ts)
			rec := ts.do(tc.method, tc.path, "", headers)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.wantType, decodeError(t, rec).Type)
		})
	}
}

func TestGatewayMessageIsForwarded(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.On("InitializePayment", mock.Anything, mock.MatchedBy(func(in paymentdomain.InitializeInput) bool {
		return in.InvoiceID == 9 && in.Provider == paymentdomain.ProviderStripe
	})).Return(nil, apperror.Gateway("Invalid key", nil))

	rec := ts.do(http.MethodPost, "/v1/invoices/9/pay", `{"provider":"stripe"}`, map[string]string{headerOrganization: "42"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Invalid key", decodeError(t, rec).Message)
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, ReadinessStateReady, resp.SystemState)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.metrics.JobRuns.WithLabelValues("expire_due_subscriptions", "ok").Inc()

	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "membership_billing_job_runs_total")
}
