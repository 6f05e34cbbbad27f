package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/billingtest"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	invoicerepo "github.com/railzwaylabs/membership/internal/invoice/repository"
	invoiceservice "github.com/railzwaylabs/membership/internal/invoice/service"
	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	"github.com/railzwaylabs/membership/internal/lifecycle/repository"
	memberrepo "github.com/railzwaylabs/membership/internal/member/repository"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	"github.com/railzwaylabs/membership/internal/notification/notificationtest"
	"github.com/railzwaylabs/membership/internal/observability"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	paymentrepo "github.com/railzwaylabs/membership/internal/payment/repository"
	planrepo "github.com/railzwaylabs/membership/internal/plan/repository"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	subscriptionrepo "github.com/railzwaylabs/membership/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var testNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc      *Service
	f        *billingtest.Fixture
	recorder *notificationtest.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := billingtest.Seed(t)
	clk := clock.Fixed{At: testNow}
	cfg := config.Config{
		App: config.AppConfig{BaseURL: "https://gym.example.com/", Timezone: "UTC"},
		Billing: config.BillingConfig{
			DefaultCurrency:     "NGN",
			JobConcurrency:      1,
			ExpiryReminderDays:  []int{7, 3, 1},
			OverdueReminderDays: []int{1, 3, 7, 14, 30},
			InvoiceRetention:    180 * 24 * time.Hour,
			WebhookRetention:    90 * 24 * time.Hour,
		},
	}
	recorder := &notificationtest.Recorder{}
	invoices := invoiceservice.NewService(invoiceservice.Params{
		DB:    f.DB,
		Log:   zap.NewNop(),
		GenID: f.Node,
		Clock: clk,
		Cfg:   cfg,
		Repo:  invoicerepo.Provide(),
	})

	svc := NewService(Params{
		DB:               f.DB,
		Log:              zap.NewNop(),
		GenID:            f.Node,
		Clock:            clk,
		Cfg:              cfg,
		Metrics:          observability.NewTestMetrics(),
		Repo:             repository.Provide(),
		SubscriptionRepo: subscriptionrepo.Provide(),
		InvoiceRepo:      invoicerepo.Provide(),
		PlanRepo:         planrepo.Provide(),
		MemberRepo:       memberrepo.Provide(),
		PaymentRepo:      paymentrepo.Provide(),
		Invoices:         invoices,
		Notifier:         recorder,
	}).(*Service)
	return &harness{svc: svc, f: f, recorder: recorder}
}

func (h *harness) reload(t *testing.T, id snowflake.ID) *subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, h.f.DB.First(&sub, "id = ?", id).Error)
	return &sub
}

func TestExpireDueSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lapsed := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.Add(-time.Hour))
	trial := h.f.Subscription(t, subscriptiondomain.StatusTrialing, testNow.Add(-48*time.Hour))
	current := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 1))

	res, err := h.svc.ExpireDueSubscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 2, res.Succeeded)

	require.Equal(t, subscriptiondomain.StatusExpired, h.reload(t, lapsed.ID).Status)
	require.Equal(t, subscriptiondomain.StatusExpired, h.reload(t, trial.ID).Status)
	require.Equal(t, subscriptiondomain.StatusActive, h.reload(t, current.ID).Status)

	sent := h.recorder.ByTemplate(notificationdomain.TemplateSubscriptionExpired)
	require.Len(t, sent, 4)
	for _, msg := range sent {
		if msg.Data["subscription_id"] == lapsed.ID.String() {
			assert.Equal(t, "https://gym.example.com/subscriptions/"+lapsed.ID.String()+"/reactivate", msg.Data["reactivation_link"])
		}
	}

	// A second run on the same day finds nothing to expire.
	res, err = h.svc.ExpireDueSubscriptions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Len(t, h.recorder.ByTemplate(notificationdomain.TemplateSubscriptionExpired), 4)
}

func TestExpireKeepsStatusWhenNotificationFails(t *testing.T) {
	h := newHarness(t)
	h.recorder.Err = errors.New("smtp down")
	sub := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.Add(-time.Minute))

	res, err := h.svc.ExpireDueSubscriptions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, subscriptiondomain.StatusExpired, h.reload(t, sub.ID).Status)
}

func TestExpireLeavesPausedAndCanceledAlone(t *testing.T) {
	h := newHarness(t)
	paused := h.f.Subscription(t, subscriptiondomain.StatusPaused, testNow.Add(-time.Hour))
	canceled := h.f.Subscription(t, subscriptiondomain.StatusCanceled, testNow.Add(-time.Hour))

	res, err := h.svc.ExpireDueSubscriptions(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Processed)
	require.Equal(t, subscriptiondomain.StatusPaused, h.reload(t, paused.ID).Status)
	require.Equal(t, subscriptiondomain.StatusCanceled, h.reload(t, canceled.ID).Status)
}

func TestSendExpiryRemindersOnOffsetDaysOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	threeDays := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 3))
	h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 2))
	lateOnDaySeven := h.f.Subscription(t, subscriptiondomain.StatusActive, time.Date(2024, 3, 22, 23, 0, 0, 0, time.UTC))

	res, err := h.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)

	sent := h.recorder.ByTemplate(notificationdomain.TemplateSubscriptionExpiryReminder)
	require.Len(t, sent, 4)
	ids := map[string]int{}
	for _, msg := range sent {
		ids[msg.Data["subscription_id"].(string)] = msg.Data["days_left"].(int)
	}
	require.Equal(t, map[string]int{threeDays.ID.String(): 3, lateOnDaySeven.ID.String(): 7}, ids)

	res, err = h.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Succeeded)
	require.Equal(t, 2, res.Skipped)
	require.Len(t, h.recorder.ByTemplate(notificationdomain.TemplateSubscriptionExpiryReminder), 4)
}

func TestExpiryReminderRetriedAfterFailedSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 1))

	h.recorder.Err = errors.New("gateway unavailable")
	res, err := h.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	h.recorder.Err = nil
	res, err = h.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)

	var markers int64
	require.NoError(t, h.f.DB.Model(&domain.ReminderLog{}).Count(&markers).Error)
	require.EqualValues(t, 1, markers)
}

func TestExpiryRemindersSkipTrialingSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.f.Subscription(t, subscriptiondomain.StatusTrialing, testNow.AddDate(0, 0, 3))

	res, err := h.svc.SendExpiryReminders(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Succeeded)
	require.Empty(t, h.recorder.ByTemplate(notificationdomain.TemplateSubscriptionExpiryReminder))
}

func TestCheckOverdueInvoicesSendsOnStageDays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	threeDays := h.f.Invoice(t, nil, invoicedomain.StatusPending, testNow.AddDate(0, 0, -3))
	h.f.Invoice(t, nil, invoicedomain.StatusPending, testNow.AddDate(0, 0, -2))
	oneDay := h.f.Invoice(t, nil, invoicedomain.StatusFailed, testNow.Add(-25*time.Hour))
	h.f.Invoice(t, nil, invoicedomain.StatusPaid, testNow.AddDate(0, 0, -3))

	res, err := h.svc.CheckOverdueInvoices(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Processed)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Skipped)

	stages := map[string]int{}
	for _, msg := range h.recorder.ByTemplate(notificationdomain.TemplateInvoiceOverdue) {
		stages[msg.Data["invoice_id"].(string)] = msg.Data["days_overdue"].(int)
		assert.Equal(t, "NGN 5000.00", msg.Data["amount"])
	}
	require.Equal(t, map[string]int{threeDays.ID.String(): 3, oneDay.ID.String(): 1}, stages)

	res, err = h.svc.CheckOverdueInvoices(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Succeeded)
	require.Equal(t, 3, res.Skipped)
}

func TestDaysOverdue(t *testing.T) {
	cases := []struct {
		name string
		late time.Duration
		want int
	}{
		{"just due", time.Minute, 0},
		{"under a day", 23 * time.Hour, 0},
		{"one day", 24 * time.Hour, 1},
		{"almost three", 71 * time.Hour, 2},
		{"thirty", 30*24*time.Hour + time.Hour, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DaysOverdue(testNow, testNow.Add(-tc.late)))
		})
	}
}

func TestAutoRenewExtendsAndInvoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 1))
	optedOut := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 1))
	require.NoError(t, h.f.DB.Model(optedOut).Update("auto_renew", false).Error)

	res, err := h.svc.AutoRenewSubscriptions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Succeeded)

	renewed := h.reload(t, sub.ID)
	wantEnd := time.Date(2024, 4, 16, 9, 0, 0, 0, time.UTC)
	require.True(t, renewed.ExpiresAt.Equal(wantEnd), renewed.ExpiresAt)
	require.True(t, h.reload(t, optedOut.ID).ExpiresAt.Equal(testNow.AddDate(0, 0, 1)))

	var invoices []invoicedomain.Invoice
	require.NoError(t, h.f.DB.Where("member_subscription_id = ?", sub.ID).Find(&invoices).Error)
	require.Len(t, invoices, 1)
	inv := invoices[0]
	require.Equal(t, invoicedomain.KindRenewal, inv.Kind)
	require.Equal(t, invoicedomain.StatusPending, inv.Status)
	require.EqualValues(t, 5000, inv.Amount)
	require.True(t, inv.PeriodStart.Equal(testNow.AddDate(0, 0, 1)))
	require.True(t, inv.PeriodEnd.Equal(wantEnd))
	require.True(t, inv.DueDate.Equal(renewed.ExpiresAt), inv.DueDate)

	created := h.recorder.ByTemplate(notificationdomain.TemplateInvoiceCreated)
	require.Len(t, created, 2)
	require.Equal(t, "https://gym.example.com/invoices/"+inv.ID.String()+"/pay", created[0].Data["pay_link"])

	// The period moved out of tomorrow's window.
	res, err = h.svc.AutoRenewSubscriptions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
}

func TestAutoRenewSkipsExistingPeriodInvoice(t *testing.T) {
	h := newHarness(t)
	expires := testNow.AddDate(0, 0, 1)
	sub := h.f.Subscription(t, subscriptiondomain.StatusActive, expires)

	periodEnd := time.Date(2024, 4, 16, 9, 0, 0, 0, time.UTC)
	existing := h.f.Invoice(t, sub, invoicedomain.StatusPending, periodEnd)
	require.NoError(t, h.f.DB.Model(existing).Updates(map[string]any{"period_start": expires, "period_end": periodEnd}).Error)

	res, err := h.svc.AutoRenewSubscriptions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.True(t, h.reload(t, sub.ID).ExpiresAt.Equal(expires))
}

func TestAutoRenewIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	broken := &subscriptiondomain.Subscription{
		ID:             h.f.Node.Generate(),
		OrganizationID: h.f.Org.ID,
		MemberID:       h.f.Member.ID,
		PlanID:         h.f.Node.Generate(),
		Status:         subscriptiondomain.StatusActive,
		StartedAt:      testNow.AddDate(0, -1, 0),
		ExpiresAt:      testNow.AddDate(0, 0, 1).Add(-time.Hour),
		AutoRenew:      true,
		Metadata:       datatypes.JSONMap{},
		Version:        1,
	}
	require.NoError(t, h.f.DB.Create(broken).Error)
	healthy := h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 1))

	res, err := h.svc.AutoRenewSubscriptions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Succeeded)
	require.True(t, h.reload(t, healthy.ID).ExpiresAt.After(testNow.AddDate(0, 0, 2)))
}

type chargeSpy struct {
	paymentdomain.Service
	invoices []snowflake.ID
	err      error
}

func (c *chargeSpy) ChargeSavedAuthorization(_ context.Context, invoiceID snowflake.ID) (*paymentdomain.ReconcileResult, error) {
	c.invoices = append(c.invoices, invoiceID)
	return nil, c.err
}

func TestAutoRenewChargesSavedCardWhenEnabled(t *testing.T) {
	h := newHarness(t)
	spy := &chargeSpy{err: errors.New("card declined")}
	h.svc.payments = spy
	h.svc.cfg.AutoChargeRenewals = true
	h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.AddDate(0, 0, 1))

	res, err := h.svc.AutoRenewSubscriptions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Len(t, spy.invoices, 1)
}

type sessionSpy struct{ calls int }

func (s *sessionSpy) CleanupExpired(context.Context, time.Time) (int64, error) {
	s.calls++
	return 3, nil
}

func TestCleanupOldRecords(t *testing.T) {
	h := newHarness(t)
	sessions := &sessionSpy{}
	h.svc.sessions = sessions
	db := h.f.DB

	stale := h.f.Invoice(t, nil, invoicedomain.StatusCancelled, testNow.AddDate(0, -8, 0))
	require.NoError(t, db.Model(stale).UpdateColumn("created_at", testNow.AddDate(0, 0, -200)).Error)
	recent := h.f.Invoice(t, nil, invoicedomain.StatusCancelled, testNow)
	unpaid := h.f.Invoice(t, nil, invoicedomain.StatusPending, testNow.AddDate(0, -8, 0))
	require.NoError(t, db.Model(unpaid).UpdateColumn("created_at", testNow.AddDate(0, 0, -200)).Error)

	require.NoError(t, db.Create(&paymentdomain.EventRecord{
		ID:         h.f.Node.Generate(),
		Provider:   paymentdomain.ProviderPaystack,
		EventType:  "charge.success",
		Payload:    datatypes.JSON(`{}`),
		Outcome:    paymentdomain.OutcomeApplied,
		ReceivedAt: testNow.AddDate(0, 0, -91),
	}).Error)
	require.NoError(t, db.Create(&domain.ReminderLog{
		ID:        h.f.Node.Generate(),
		Kind:      domain.ReminderOverdue,
		EntityID:  stale.ID,
		Stage:     1,
		PeriodKey: "2023-07-15",
		SentAt:    testNow.AddDate(-1, 0, 0),
	}).Error)

	res, err := h.svc.CleanupOldRecords(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, res.Succeeded)
	require.Equal(t, 1, sessions.calls)

	var remaining []invoicedomain.Invoice
	require.NoError(t, db.Order("id").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	require.ElementsMatch(t, []snowflake.ID{recent.ID, unpaid.ID}, []snowflake.ID{remaining[0].ID, remaining[1].ID})

	var events, markers int64
	require.NoError(t, db.Model(&paymentdomain.EventRecord{}).Count(&events).Error)
	require.NoError(t, db.Model(&domain.ReminderLog{}).Count(&markers).Error)
	require.Zero(t, events)
	require.Zero(t, markers)
}

func TestRunDispatchesByName(t *testing.T) {
	h := newHarness(t)
	h.f.Subscription(t, subscriptiondomain.StatusActive, testNow.Add(-time.Hour))

	res, err := h.svc.Run(context.Background(), domain.JobExpireDueSubscriptions)
	require.NoError(t, err)
	require.Equal(t, domain.JobExpireDueSubscriptions, res.Job)
	require.Equal(t, 1, res.Succeeded)

	_, err = h.svc.Run(context.Background(), "rebuild_ledger")
	require.ErrorIs(t, err, domain.ErrUnknownJob)
}
