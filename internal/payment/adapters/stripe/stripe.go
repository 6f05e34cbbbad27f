package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/railzwaylabs/membership/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureHeader = "Stripe-Signature"

type Config struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
	// BaseURL overrides the API endpoint, used against stripe-mock.
	BaseURL string
}

// Adapter maps Stripe Checkout sessions and payment intents onto the gateway
// contract. The payment reference travels as client_reference_id and as
// metadata[reference].
type Adapter struct {
	apiKey        string
	webhookSecret string
	successURL    string
	cancelURL     string
	backend       stripego.Backend
}

func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripego.Int64(1),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		backendCfg.URL = stripego.String(strings.TrimSpace(cfg.BaseURL))
	}
	return &Adapter{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		backend:       stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg),
	}
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderStripe }

func (a *Adapter) sessions() *session.Client {
	return &session.Client{B: a.backend, Key: a.apiKey}
}

func (a *Adapter) intents() *paymentintent.Client {
	return &paymentintent.Client{B: a.backend, Key: a.apiKey}
}

func (a *Adapter) methods() *paymentmethod.Client {
	return &paymentmethod.Client{B: a.backend, Key: a.apiKey}
}

func (a *Adapter) InitializeTransaction(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	if a.apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	successURL := a.successURL
	if req.CallbackURL != "" {
		successURL = req.CallbackURL
	}
	metadata := stringMetadata(req.Metadata, req.Reference)

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		ClientReferenceID: stripego.String(req.Reference),
		CustomerEmail:     stripego.String(req.Email),
		CustomerCreation:  stripego.String("always"),
		SuccessURL:        stripego.String(successURL),
		CancelURL:         stripego.String(a.cancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripego.String(strings.ToLower(req.Currency)),
					UnitAmount: stripego.Int64(req.AmountMinor),
					ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripego.String(productName(req.Metadata)),
					},
				},
				Quantity: stripego.Int64(1),
			},
		},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripego.String("off_session"),
			Metadata:         metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("init:" + req.Reference)

	s, err := a.sessions().New(params)
	if err != nil {
		return nil, wrapError(err)
	}
	return &domain.InitializeResult{
		AuthorizationURL:     s.URL,
		AccessCode:           s.ID,
		Reference:            req.Reference,
		GatewayTransactionID: s.ID,
	}, nil
}

func (a *Adapter) VerifyTransaction(ctx context.Context, reference, gatewayTransactionID string) (*domain.Transaction, error) {
	if a.apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	if strings.TrimSpace(gatewayTransactionID) == "" {
		return nil, &domain.GatewayError{Provider: domain.ProviderStripe, Message: "missing checkout session id"}
	}
	params := &stripego.CheckoutSessionParams{}
	params.AddExpand("payment_intent.payment_method")
	params.Context = ctx

	s, err := a.sessions().Get(gatewayTransactionID, params)
	if err != nil {
		return nil, wrapError(err)
	}
	tx := sessionTransaction(s)
	if tx.Reference == "" {
		tx.Reference = reference
	}
	return tx, nil
}

func (a *Adapter) ChargeAuthorization(ctx context.Context, req domain.ChargeRequest) (*domain.Transaction, error) {
	if a.apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(req.AmountMinor),
		Currency:      stripego.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripego.String(req.AuthorizationCode),
		Confirm:       stripego.Bool(true),
		OffSession:    stripego.Bool(true),
	}
	if req.CustomerCode != "" {
		params.Customer = stripego.String(req.CustomerCode)
	}
	for k, v := range stringMetadata(req.Metadata, req.Reference) {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("charge:" + req.Reference)

	pi, err := a.intents().New(params)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripego.ErrorTypeCard {
			// Card declines are an outcome, not a transport failure.
			return &domain.Transaction{
				Reference:       req.Reference,
				Status:          domain.TransactionFailed,
				AmountMinor:     req.AmountMinor,
				Currency:        strings.ToUpper(req.Currency),
				GatewayResponse: stripeErr.Msg,
			}, nil
		}
		return nil, wrapError(err)
	}
	tx := intentTransaction(pi)
	tx.Reference = req.Reference
	return tx, nil
}

func (a *Adapter) DeactivateAuthorization(ctx context.Context, authorizationCode string) error {
	if a.apiKey == "" {
		return domain.ErrInvalidConfig
	}
	params := &stripego.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := a.methods().Detach(authorizationCode, params); err != nil {
		return wrapError(err)
	}
	return nil
}

func (a *Adapter) VerifyWebhook(payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" || a.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.Data == nil {
		return nil, domain.ErrInvalidPayload
	}
	out := &domain.WebhookEvent{Type: string(event.Type), Kind: domain.EventIgnored}

	switch out.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var s stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		tx := sessionTransaction(&s)
		switch out.Type {
		case "checkout.session.async_payment_failed":
			tx.Status = domain.TransactionFailed
			tx.GatewayResponse = "async payment failed"
		case "checkout.session.expired":
			tx.Status = domain.TransactionFailed
			tx.GatewayResponse = "checkout session expired"
		}
		out.Reference = tx.Reference
		out.Transaction = tx
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		tx := intentTransaction(&pi)
		tx.Reference = pi.Metadata["reference"]
		if out.Type == "payment_intent.payment_failed" {
			tx.Status = domain.TransactionFailed
		}
		out.Reference = tx.Reference
		out.Transaction = tx
	default:
		return out, nil
	}

	switch out.Transaction.Status {
	case domain.TransactionSuccess:
		out.Kind = domain.EventChargeSuccess
	case domain.TransactionFailed:
		out.Kind = domain.EventChargeFailed
	case domain.TransactionPending:
		out.Kind = domain.EventIgnored
	}
	return out, nil
}

func sessionTransaction(s *stripego.CheckoutSession) *domain.Transaction {
	tx := &domain.Transaction{
		Reference:   s.ClientReferenceID,
		Status:      domain.TransactionPending,
		AmountMinor: s.AmountTotal,
		Currency:    strings.ToUpper(string(s.Currency)),
	}
	switch {
	case s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid:
		tx.Status = domain.TransactionSuccess
	case s.Status == stripego.CheckoutSessionStatusExpired:
		tx.Status = domain.TransactionFailed
		tx.GatewayResponse = "checkout session expired"
	}
	if s.PaymentIntent != nil {
		pi := intentTransaction(s.PaymentIntent)
		tx.PaidAt = pi.PaidAt
		tx.Channel = pi.Channel
		tx.Authorization = pi.Authorization
		if tx.GatewayResponse == "" {
			tx.GatewayResponse = pi.GatewayResponse
		}
		if tx.Authorization != nil && tx.Authorization.CustomerCode == "" && s.Customer != nil {
			tx.Authorization.CustomerCode = s.Customer.ID
		}
	}
	if tx.Status == domain.TransactionSuccess && tx.PaidAt == nil && s.Created > 0 {
		paidAt := time.Unix(s.Created, 0).UTC()
		tx.PaidAt = &paidAt
	}
	return tx
}

func intentTransaction(pi *stripego.PaymentIntent) *domain.Transaction {
	tx := &domain.Transaction{
		Status:      domain.TransactionPending,
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
	}
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		tx.Status = domain.TransactionSuccess
		if pi.Created > 0 {
			paidAt := time.Unix(pi.Created, 0).UTC()
			tx.PaidAt = &paidAt
		}
	case stripego.PaymentIntentStatusCanceled, stripego.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil || pi.Status == stripego.PaymentIntentStatusCanceled {
			tx.Status = domain.TransactionFailed
		}
	}
	if pi.LastPaymentError != nil {
		tx.GatewayResponse = pi.LastPaymentError.Msg
	}
	if pm := pi.PaymentMethod; pm != nil && pm.ID != "" {
		tx.Channel = string(pm.Type)
		auth := &domain.CardAuthorization{Code: pm.ID}
		if pi.Customer != nil && pi.Customer.ID != "" {
			auth.CustomerCode = pi.Customer.ID
			// Off-session charges need the method saved to the customer.
			auth.Reusable = pi.SetupFutureUsage == stripego.PaymentIntentSetupFutureUsageOffSession ||
				(pm.Customer != nil && pm.Customer.ID != "")
		}
		if pm.Card != nil {
			auth.Brand = string(pm.Card.Brand)
			auth.Last4 = pm.Card.Last4
			auth.ExpMonth = strconv.FormatInt(pm.Card.ExpMonth, 10)
			auth.ExpYear = strconv.FormatInt(pm.Card.ExpYear, 10)
		}
		tx.Authorization = auth
	}
	return tx
}

func stringMetadata(in map[string]any, reference string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			raw, err := json.Marshal(val)
			if err == nil {
				out[k] = string(raw)
			}
		}
	}
	out["reference"] = reference
	return out
}

func productName(metadata map[string]any) string {
	if v, ok := metadata["invoice_number"].(string); ok && v != "" {
		return "Invoice " + v
	}
	return "Membership"
}

func wrapError(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return &domain.GatewayError{
			Provider: domain.ProviderStripe,
			Message:  stripeErr.Msg,
			Status:   stripeErr.HTTPStatusCode,
		}
	}
	return err
}
