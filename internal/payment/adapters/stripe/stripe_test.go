package stripe

import (
	"net/http"
	"testing"
	"time"

	"github.com/railzwaylabs/membership/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "client_reference_id": "MBR-1700000000000-abc12345",
      "payment_status": "paid",
      "status": "complete",
      "amount_total": 500000,
      "currency": "ngn",
      "created": 1710496800
    }
  }
}`

func TestVerifyWebhook(t *testing.T) {
	a := New(Config{APIKey: "sk_test", WebhookSecret: "whsec_test"})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(completedEvent),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	require.NoError(t, a.VerifyWebhook(signed.Payload, headers))

	other := New(Config{APIKey: "sk_test", WebhookSecret: "whsec_other"})
	require.ErrorIs(t, other.VerifyWebhook(signed.Payload, headers), domain.ErrInvalidSignature)
	require.ErrorIs(t, a.VerifyWebhook(signed.Payload, http.Header{}), domain.ErrInvalidSignature)
}

func TestParseCheckoutCompleted(t *testing.T) {
	a := New(Config{})
	event, err := a.ParseWebhook([]byte(completedEvent))
	require.NoError(t, err)
	require.Equal(t, domain.EventChargeSuccess, event.Kind)
	require.Equal(t, "MBR-1700000000000-abc12345", event.Reference)
	require.Equal(t, int64(500000), event.Transaction.AmountMinor)
	require.Equal(t, "NGN", event.Transaction.Currency)
	require.NotNil(t, event.Transaction.PaidAt)
}

func TestParsePaymentIntentFailed(t *testing.T) {
	a := New(Config{})
	event, err := a.ParseWebhook([]byte(`{
	  "id": "evt_2",
	  "object": "event",
	  "type": "payment_intent.payment_failed",
	  "data": {
	    "object": {
	      "id": "pi_1",
	      "object": "payment_intent",
	      "amount": 500000,
	      "currency": "ngn",
	      "status": "requires_payment_method",
	      "metadata": {"reference": "MBR-2"},
	      "last_payment_error": {"message": "Your card was declined."}
	    }
	  }
	}`))
	require.NoError(t, err)
	require.Equal(t, domain.EventChargeFailed, event.Kind)
	require.Equal(t, "MBR-2", event.Reference)
	require.Equal(t, "Your card was declined.", event.Transaction.GatewayResponse)
}

func paymentIntentSucceeded(extra string) []byte {
	return []byte(`{
	  "id": "evt_4",
	  "object": "event",
	  "type": "payment_intent.succeeded",
	  "data": {
	    "object": {
	      "id": "pi_2",
	      "object": "payment_intent",
	      "amount": 500000,
	      "currency": "ngn",
	      "status": "succeeded",
	      "created": 1710496800,
	      "metadata": {"reference": "MBR-4"},
	      "payment_method": {"id": "pm_1", "object": "payment_method", "type": "card",
	        "card": {"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030}}` + extra + `
	    }
	  }
	}`)
}

func TestPaymentIntentCardReusableOnlyWhenSaved(t *testing.T) {
	a := New(Config{})
	cases := []struct {
		name         string
		extra        string
		reusable     bool
		customerCode string
	}{
		{"guest checkout", ``, false, ""},
		{"customer without saving", `, "customer": "cus_1"`, false, "cus_1"},
		{"saved for off session", `, "customer": "cus_1", "setup_future_usage": "off_session"`, true, "cus_1"},
		{"saved on session only", `, "customer": "cus_1", "setup_future_usage": "on_session"`, false, "cus_1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := a.ParseWebhook(paymentIntentSucceeded(tc.extra))
			require.NoError(t, err)
			require.Equal(t, domain.EventChargeSuccess, event.Kind)
			auth := event.Transaction.Authorization
			require.NotNil(t, auth)
			require.Equal(t, "pm_1", auth.Code)
			require.Equal(t, "4242", auth.Last4)
			require.Equal(t, tc.reusable, auth.Reusable)
			require.Equal(t, tc.customerCode, auth.CustomerCode)
		})
	}
}

func TestParseUnhandledEventIsIgnored(t *testing.T) {
	a := New(Config{})
	event, err := a.ParseWebhook([]byte(`{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	require.NoError(t, err)
	require.Equal(t, domain.EventIgnored, event.Kind)
}
