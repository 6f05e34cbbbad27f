package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/railzwaylabs/membership/internal/payment/domain"
)

const (
	defaultBaseURL  = "https://api.paystack.co"
	signatureHeader = "X-Paystack-Signature"
)

type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// Adapter talks to the Paystack REST API.
type Adapter struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func New(cfg Config) *Adapter {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Adapter{
		secretKey: strings.TrimSpace(cfg.SecretKey),
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Provider() domain.Provider { return domain.ProviderPaystack }

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type authorizationData struct {
	AuthorizationCode string `json:"authorization_code"`
	CardType          string `json:"card_type"`
	Brand             string `json:"brand"`
	Last4             string `json:"last4"`
	ExpMonth          string `json:"exp_month"`
	ExpYear           string `json:"exp_year"`
	Reusable          bool   `json:"reusable"`
}

type customerData struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type transactionData struct {
	Reference       string             `json:"reference"`
	Status          string             `json:"status"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency"`
	PaidAt          string             `json:"paid_at"`
	Channel         string             `json:"channel"`
	GatewayResponse string             `json:"gateway_response"`
	Authorization   *authorizationData `json:"authorization"`
	Customer        *customerData      `json:"customer"`
}

func (a *Adapter) InitializeTransaction(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}
	if req.Currency != "" {
		body["currency"] = strings.ToUpper(req.Currency)
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}

	var data initializeData
	if err := a.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, &domain.GatewayError{Provider: domain.ProviderPaystack, Message: "missing authorization url"}
	}
	reference := data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &domain.InitializeResult{
		AuthorizationURL:     data.AuthorizationURL,
		AccessCode:           data.AccessCode,
		Reference:            reference,
		GatewayTransactionID: data.AccessCode,
	}, nil
}

func (a *Adapter) VerifyTransaction(ctx context.Context, reference, _ string) (*domain.Transaction, error) {
	var data transactionData
	if err := a.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}
	return data.toTransaction(), nil
}

func (a *Adapter) ChargeAuthorization(ctx context.Context, req domain.ChargeRequest) (*domain.Transaction, error) {
	body := map[string]any{
		"authorization_code": req.AuthorizationCode,
		"email":              req.Email,
		"amount":             req.AmountMinor,
		"reference":          req.Reference,
		"metadata":           req.Metadata,
	}
	if req.Currency != "" {
		body["currency"] = strings.ToUpper(req.Currency)
	}

	var data transactionData
	if err := a.do(ctx, http.MethodPost, "/transaction/charge_authorization", body, &data); err != nil {
		return nil, err
	}
	return data.toTransaction(), nil
}

func (a *Adapter) DeactivateAuthorization(ctx context.Context, authorizationCode string) error {
	body := map[string]any{"authorization_code": authorizationCode}
	return a.do(ctx, http.MethodPost, "/customer/deactivate_authorization", body, nil)
}

// VerifyWebhook checks the hex HMAC-SHA512 of the raw body in constant time.
func (a *Adapter) VerifyWebhook(payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" || a.secretKey == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(a.secretKey))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	event := &domain.WebhookEvent{Type: strings.TrimSpace(env.Event), Kind: domain.EventIgnored}

	switch event.Type {
	case "charge.success", "charge.failed":
		var data transactionData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		tx := data.toTransaction()
		if event.Type == "charge.success" {
			event.Kind = domain.EventChargeSuccess
			tx.Status = domain.TransactionSuccess
		} else {
			event.Kind = domain.EventChargeFailed
			tx.Status = domain.TransactionFailed
		}
		event.Reference = data.Reference
		event.Transaction = tx
	default:
		var ref struct {
			Reference string `json:"reference"`
		}
		_ = json.Unmarshal(env.Data, &ref)
		event.Reference = ref.Reference
	}
	return event, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) error {
	if a.secretKey == "" {
		return domain.ErrInvalidConfig
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return &domain.GatewayError{Provider: domain.ProviderPaystack, Status: resp.StatusCode, Message: "invalid response"}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		return &domain.GatewayError{Provider: domain.ProviderPaystack, Status: resp.StatusCode, Message: strings.TrimSpace(env.Message)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode paystack %s: %w", path, err)
	}
	return nil
}

func (d transactionData) toTransaction() *domain.Transaction {
	tx := &domain.Transaction{
		Reference:       d.Reference,
		Status:          mapStatus(d.Status),
		AmountMinor:     d.Amount,
		Currency:        strings.ToUpper(d.Currency),
		Channel:         d.Channel,
		GatewayResponse: d.GatewayResponse,
	}
	if paidAt, err := parseTime(d.PaidAt); err == nil {
		tx.PaidAt = &paidAt
	}
	if d.Authorization != nil && d.Authorization.AuthorizationCode != "" {
		brand := d.Authorization.Brand
		if brand == "" {
			brand = strings.TrimSpace(d.Authorization.CardType)
		}
		auth := &domain.CardAuthorization{
			Code:     d.Authorization.AuthorizationCode,
			Brand:    brand,
			Last4:    d.Authorization.Last4,
			ExpMonth: d.Authorization.ExpMonth,
			ExpYear:  d.Authorization.ExpYear,
			Reusable: d.Authorization.Reusable,
		}
		if d.Customer != nil {
			auth.CustomerCode = d.Customer.CustomerCode
		}
		tx.Authorization = auth
	}
	return tx
}

func mapStatus(raw string) domain.TransactionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return domain.TransactionSuccess
	case "failed", "abandoned", "reversed":
		return domain.TransactionFailed
	default:
		return domain.TransactionPending
	}
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty time")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
