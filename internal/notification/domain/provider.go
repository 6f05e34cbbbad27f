package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Template keys understood by the providers.
const (
	TemplateSubscriptionExpired        = "subscription.expired"
	TemplateSubscriptionExpiryReminder = "subscription.expiry_reminder"
	TemplateInvoiceOverdue             = "invoice.overdue"
	TemplateInvoiceCreated             = "invoice.created"
	TemplatePaymentSuccess             = "payment.success"
	TemplatePaymentFailed              = "payment.failed"
)

type Message struct {
	Channel     Channel
	To          string
	TemplateKey string
	Data        map[string]any
}

// Provider delivers a message over one channel.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Dispatcher is fire-and-forget from the engine's perspective: callers log
// returned errors and move on.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
	// Notify emails the recipient and also texts them when a phone is known.
	Notify(ctx context.Context, to Recipient, templateKey string, data map[string]any) error
}

var (
	ErrNoProvider       = errors.New("notification_provider_missing")
	ErrMissingRecipient = errors.New("notification_recipient_missing")
)

// Subject renders a short subject line for a template key.
func Subject(templateKey string, data map[string]any) string {
	switch templateKey {
	case TemplateSubscriptionExpired:
		return "Your membership has expired"
	case TemplateSubscriptionExpiryReminder:
		return fmt.Sprintf("Your membership expires in %v day(s)", data["days_left"])
	case TemplateInvoiceOverdue:
		return fmt.Sprintf("Invoice %v is %v day(s) overdue", data["invoice_number"], data["days_overdue"])
	case TemplateInvoiceCreated:
		return fmt.Sprintf("New invoice %v", data["invoice_number"])
	case TemplatePaymentSuccess:
		return "Payment received"
	case TemplatePaymentFailed:
		return "Payment failed"
	default:
		return strings.ReplaceAll(templateKey, ".", " ")
	}
}
