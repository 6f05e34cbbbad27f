package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Paystack     PaystackConfig     `mapstructure:"paystack"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Notification NotificationConfig `mapstructure:"notification"`
	OTel         OTelConfig         `mapstructure:"otel"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Name     string `mapstructure:"name"`
	BaseURL  string `mapstructure:"base_url"`
	Timezone string `mapstructure:"timezone"`
	NodeID   int64  `mapstructure:"node_id"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BillingConfig struct {
	DefaultProvider     string        `mapstructure:"default_provider"`
	DefaultCurrency     string        `mapstructure:"default_currency"`
	ReferencePrefix     string        `mapstructure:"reference_prefix"`
	JobConcurrency      int           `mapstructure:"job_concurrency"`
	DailyHour           int           `mapstructure:"daily_hour"`
	WeeklyDay           int           `mapstructure:"weekly_day"`
	TickSpec            string        `mapstructure:"tick_spec"`
	ExpiryReminderDays  []int         `mapstructure:"expiry_reminder_days"`
	OverdueReminderDays []int         `mapstructure:"overdue_reminder_days"`
	InvoiceRetention    time.Duration `mapstructure:"invoice_retention"`
	WebhookRetention    time.Duration `mapstructure:"webhook_retention"`
	PendingPaymentTTL   time.Duration `mapstructure:"pending_payment_ttl"`
	GatewayTimeout      time.Duration `mapstructure:"gateway_timeout"`
	JobLockTTL          time.Duration `mapstructure:"job_lock_ttl"`
	AutoChargeRenewals  bool          `mapstructure:"auto_charge_renewals"`
}

type PaystackConfig struct {
	SecretKey   string `mapstructure:"secret_key"`
	BaseURL     string `mapstructure:"base_url"`
	CallbackURL string `mapstructure:"callback_url"`
}

type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

type NotificationConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	From         string `mapstructure:"from"`
	FromName     string `mapstructure:"from_name"`
	SMSEndpoint  string `mapstructure:"sms_endpoint"`
	SMSAPIKey    string `mapstructure:"sms_api_key"`
	SMSSender    string `mapstructure:"sms_sender"`
}

const (
	OTelProtocolHTTP = "http"
	OTelProtocolGRPC = "grpc"
)

type OTelConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Protocol    string `mapstructure:"protocol"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.name", "membership")
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=membership port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("billing.default_provider", "paystack")
	v.SetDefault("billing.default_currency", "NGN")
	v.SetDefault("billing.reference_prefix", "MBR")
	v.SetDefault("billing.job_concurrency", 4)
	v.SetDefault("billing.daily_hour", 9)
	v.SetDefault("billing.weekly_day", int(time.Sunday))
	v.SetDefault("billing.tick_spec", "0 * * * *")
	v.SetDefault("billing.expiry_reminder_days", []int{7, 3, 1})
	v.SetDefault("billing.overdue_reminder_days", []int{1, 3, 7, 14, 30})
	v.SetDefault("billing.invoice_retention", 180*24*time.Hour)
	v.SetDefault("billing.webhook_retention", 90*24*time.Hour)
	v.SetDefault("billing.pending_payment_ttl", 30*time.Minute)
	v.SetDefault("billing.gateway_timeout", 15*time.Second)
	v.SetDefault("billing.job_lock_ttl", 50*time.Minute)
	v.SetDefault("billing.auto_charge_renewals", false)

	v.SetDefault("paystack.base_url", "https://api.paystack.co")

	v.SetDefault("notification.smtp_port", 587)
	v.SetDefault("notification.from_name", "Membership")

	v.SetDefault("otel.service_name", "membership")
	v.SetDefault("otel.protocol", OTelProtocolHTTP)
	v.SetDefault("otel.insecure", false)

	// Keys without a meaningful default are still registered so that
	// AutomaticEnv picks them up during Unmarshal.
	for _, key := range []string{
		"redis.password",
		"paystack.secret_key", "paystack.callback_url",
		"stripe.api_key", "stripe.webhook_secret", "stripe.success_url", "stripe.cancel_url",
		"notification.smtp_host", "notification.smtp_user", "notification.smtp_password",
		"notification.from", "notification.sms_endpoint", "notification.sms_api_key", "notification.sms_sender",
		"otel.endpoint",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

// Load reads configuration from defaults, an optional file named by
// CONFIG_FILE, and the environment (APP_ENV, DATABASE_DSN, BILLING_DAILY_HOUR, ...).
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			fmt.Fprintf(os.Stderr, "config file %s changed (%s); restart to apply\n", e.Name, e.Op)
		})
		v.WatchConfig()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Billing.DailyHour < 0 || c.Billing.DailyHour > 23 {
		return errors.New("billing.daily_hour must be within 0-23")
	}
	if c.Billing.WeeklyDay < 0 || c.Billing.WeeklyDay > 6 {
		return errors.New("billing.weekly_day must be within 0-6")
	}
	if strings.TrimSpace(c.Billing.ReferencePrefix) == "" {
		return errors.New("billing.reference_prefix is required")
	}
	if c.OTel.Protocol != OTelProtocolHTTP && c.OTel.Protocol != OTelProtocolGRPC {
		return fmt.Errorf("otel.protocol must be %q or %q", OTelProtocolHTTP, OTelProtocolGRPC)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Env), "development")
}

// Location returns the billing timezone used for day windows.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
