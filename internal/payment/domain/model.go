package domain

import (
	"reflect"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment is one attempt to settle an invoice. ProviderReference is the
// idempotency key for reconciliation.
type Payment struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	InvoiceID            snowflake.ID      `json:"invoice_id" gorm:"not null;index"`
	PayerOrgID           snowflake.ID      `json:"payer_org_id" gorm:"not null;index"`
	PayerUserID          snowflake.ID      `json:"payer_user_id" gorm:"not null;index"`
	Amount               int64             `json:"amount" gorm:"not null"`
	Currency             string            `json:"currency" gorm:"type:text;not null"`
	Provider             Provider          `json:"provider" gorm:"type:text;not null"`
	ProviderReference    string            `json:"provider_reference" gorm:"type:text;not null;uniqueIndex"`
	GatewayTransactionID string            `json:"gateway_transaction_id,omitempty" gorm:"type:text"`
	AuthorizationURL     string            `json:"authorization_url,omitempty" gorm:"type:text"`
	AccessCode           string            `json:"access_code,omitempty" gorm:"type:text"`
	Status               Status            `json:"status" gorm:"type:text;not null;index"`
	FailureReason        string            `json:"failure_reason,omitempty" gorm:"type:text"`
	Channel              string            `json:"channel,omitempty" gorm:"type:text"`
	PaidAt               *time.Time        `json:"paid_at,omitempty"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	Version              int64             `json:"version" gorm:"not null;default:1"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) TransitionTo(target Status) error {
	if p.Status == target {
		return nil
	}
	if !CanTransition(p.Status, target) {
		return ErrInvalidTransition
	}
	p.Status = target
	return nil
}

// MergeMetadata overlays values onto the payment metadata, skipping empty
// strings so a sparse event never erases what an earlier one recorded.
func (p *Payment) MergeMetadata(values map[string]any) bool {
	if p.Metadata == nil {
		p.Metadata = datatypes.JSONMap{}
	}
	changed := false
	for key, value := range values {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		if current, ok := p.Metadata[key]; ok && reflect.DeepEqual(current, value) {
			continue
		}
		p.Metadata[key] = value
		changed = true
	}
	return changed
}

// Authorization is a reusable card authorization saved from a successful
// charge.
type Authorization struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	OrganizationID    snowflake.ID `json:"organization_id" gorm:"not null;index"`
	MemberID          snowflake.ID `json:"member_id" gorm:"not null;index"`
	Provider          Provider     `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_payment_authorizations_code"`
	AuthorizationCode string       `json:"-" gorm:"type:text;not null;uniqueIndex:idx_payment_authorizations_code"`
	CustomerCode      string       `json:"customer_code,omitempty" gorm:"type:text"`
	Email             string       `json:"email,omitempty" gorm:"type:text"`
	Brand             string       `json:"brand,omitempty" gorm:"type:text"`
	Last4             string       `json:"last4,omitempty" gorm:"type:text"`
	ExpMonth          string       `json:"exp_month,omitempty" gorm:"type:text"`
	ExpYear           string       `json:"exp_year,omitempty" gorm:"type:text"`
	Reusable          bool         `json:"reusable" gorm:"not null;default:false"`
	Active            bool         `json:"active" gorm:"not null"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (Authorization) TableName() string { return "payment_authorizations" }

// EventRecord logs every verified webhook delivery with a masked payload.
type EventRecord struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider    Provider       `json:"provider" gorm:"type:text;not null"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	Reference   string         `json:"reference" gorm:"type:text;index"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Outcome     string         `json:"outcome" gorm:"type:text;not null"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null;index"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeUnmatched = "unmatched"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

const (
	FailureSuperseded        = "superseded"
	FailureGatewayInitialize = "gateway_initialize_failed"
)
