package domain

import (
	"context"
	"net/http"
	"time"
)

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	Metadata    map[string]any
	CallbackURL string
}

type InitializeResult struct {
	AuthorizationURL     string
	AccessCode           string
	Reference            string
	GatewayTransactionID string
}

type ChargeRequest struct {
	AuthorizationCode string
	CustomerCode      string
	Email             string
	AmountMinor       int64
	Currency          string
	Reference         string
	Metadata          map[string]any
}

type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
	TransactionPending TransactionStatus = "pending"
)

type CardAuthorization struct {
	Code         string
	CustomerCode string
	Brand        string
	Last4        string
	ExpMonth     string
	ExpYear      string
	Reusable     bool
}

// Transaction is the gateway's view of a charge, normalized across providers.
type Transaction struct {
	Reference       string
	Status          TransactionStatus
	AmountMinor     int64
	Currency        string
	PaidAt          *time.Time
	Channel         string
	GatewayResponse string
	Authorization   *CardAuthorization
}

type EventKind string

const (
	EventChargeSuccess EventKind = "charge.success"
	EventChargeFailed  EventKind = "charge.failed"
	EventIgnored       EventKind = "ignored"
)

type WebhookEvent struct {
	Type        string
	Kind        EventKind
	Reference   string
	Transaction *Transaction
}

// Gateway is a payment provider adapter.
type Gateway interface {
	Provider() Provider
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference, gatewayTransactionID string) (*Transaction, error)
	ChargeAuthorization(ctx context.Context, req ChargeRequest) (*Transaction, error)
	DeactivateAuthorization(ctx context.Context, authorizationCode string) error

	VerifyWebhook(payload []byte, headers http.Header) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// GatewayError carries a provider message that is safe to show callers.
type GatewayError struct {
	Provider Provider
	Message  string
	Status   int
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return string(e.Provider) + ": request failed"
	}
	return string(e.Provider) + ": " + e.Message
}
