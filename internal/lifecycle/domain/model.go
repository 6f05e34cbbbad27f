package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Job names accepted by the scheduler and the run-job command.
const (
	JobExpireDueSubscriptions = "expire_due_subscriptions"
	JobSendExpiryReminders    = "send_expiry_reminders"
	JobCheckOverdueInvoices   = "check_overdue_invoices"
	JobAutoRenewSubscriptions = "auto_renew_subscriptions"
	JobCleanupOldRecords      = "cleanup_old_records"
)

var Jobs = []string{
	JobAutoRenewSubscriptions,
	JobExpireDueSubscriptions,
	JobSendExpiryReminders,
	JobCheckOverdueInvoices,
	JobCleanupOldRecords,
}

type ReminderKind string

const (
	ReminderExpiry  ReminderKind = "subscription_expiry"
	ReminderOverdue ReminderKind = "invoice_overdue"
)

// ReminderLog marks a reminder as sent. The unique key makes a rerun of the
// same job on the same day a no-op.
type ReminderLog struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Kind      ReminderKind `json:"kind" gorm:"type:text;not null;uniqueIndex:idx_reminder_logs_key"`
	EntityID  snowflake.ID `json:"entity_id" gorm:"not null;uniqueIndex:idx_reminder_logs_key"`
	Stage     int          `json:"stage" gorm:"not null;uniqueIndex:idx_reminder_logs_key"`
	PeriodKey string       `json:"period_key" gorm:"type:text;not null;uniqueIndex:idx_reminder_logs_key"`
	SentAt    time.Time    `json:"sent_at" gorm:"not null"`
}

func (ReminderLog) TableName() string { return "reminder_logs" }

// JobResult is the aggregate outcome of one job run. Per-entity errors are
// logged, never returned.
type JobResult struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

type Repository interface {
	// ClaimReminder records a reminder and reports whether this call won the
	// claim.
	ClaimReminder(ctx context.Context, db *gorm.DB, log *ReminderLog) (bool, error)
	ReleaseReminder(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	DeleteRemindersBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

// SessionCleaner purges expired auth sessions and tokens. Owned by the auth
// module, which is outside this service.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type Service interface {
	ExpireDueSubscriptions(ctx context.Context) (JobResult, error)
	SendExpiryReminders(ctx context.Context) (JobResult, error)
	CheckOverdueInvoices(ctx context.Context) (JobResult, error)
	AutoRenewSubscriptions(ctx context.Context) (JobResult, error)
	CleanupOldRecords(ctx context.Context) (JobResult, error)
	Run(ctx context.Context, job string) (JobResult, error)
}

var ErrUnknownJob = errors.New("unknown_job")
