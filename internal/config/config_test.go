package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, []int{7, 3, 1}, cfg.Billing.ExpiryReminderDays)
	require.Equal(t, []int{1, 3, 7, 14, 30}, cfg.Billing.OverdueReminderDays)
	require.Equal(t, "MBR", cfg.Billing.ReferencePrefix)
	require.Equal(t, "UTC", cfg.Location().String())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BILLING_DAILY_HOUR", "6")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Billing.DailyHour)
	require.True(t, cfg.IsDevelopment())
}

func TestValidateRejectsBadHour(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Billing.DailyHour = 24
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownOTelProtocol(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OTEL_PROTOCOL", "grpc")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, OTelProtocolGRPC, cfg.OTel.Protocol)

	cfg.OTel.Protocol = "thrift"
	require.Error(t, cfg.Validate())
}
