package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type InitializeInput struct {
	OrganizationID snowflake.ID
	InvoiceID      snowflake.ID
	Provider       Provider
	CallbackURL    string
}

type InitializeOutput struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
	Reused           bool   `json:"reused"`
}

type VerifyOutput struct {
	Status  Status     `json:"status"`
	Amount  int64      `json:"amount"`
	PaidAt  *time.Time `json:"paid_at,omitempty"`
	Channel string     `json:"channel,omitempty"`
}

// Outcome is the provider-agnostic result reconciled against local state by
// both the verify path and the webhook path.
type Outcome struct {
	Reference   string
	Transaction *Transaction
	Source      string
}

type ReconcileResult struct {
	Matched        bool
	Changed        bool
	PaymentStatus  Status
	InvoiceChanged bool
	Reactivated    bool
}

type Service interface {
	InitializePayment(ctx context.Context, input InitializeInput) (*InitializeOutput, error)
	VerifyPayment(ctx context.Context, orgID snowflake.ID, reference string) (*VerifyOutput, error)
	ApplyTransactionOutcome(ctx context.Context, outcome Outcome) (*ReconcileResult, error)
	ChargeSavedAuthorization(ctx context.Context, invoiceID snowflake.ID) (*ReconcileResult, error)
	DeactivateAuthorizations(ctx context.Context, memberID snowflake.ID) error
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Payment, error)
	FindByOrgReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reference string) (*Payment, error)
	ListPendingByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)

	UpsertAuthorization(ctx context.Context, db *gorm.DB, auth *Authorization) error
	FindActiveAuthorization(ctx context.Context, db *gorm.DB, memberID snowflake.ID, provider Provider) (*Authorization, error)
	ListActiveAuthorizations(ctx context.Context, db *gorm.DB, memberID snowflake.ID) ([]Authorization, error)
	DeactivateAuthorization(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) error
	DeleteEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidStatus        = errors.New("invalid_payment_status")
	ErrInvalidTransition    = errors.New("invalid_payment_transition")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvoiceNotPayable    = errors.New("invoice_not_payable")
	ErrNoSavedAuthorization = errors.New("no_saved_authorization")
)
