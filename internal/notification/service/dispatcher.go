package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/railzwaylabs/membership/internal/config"
	"github.com/railzwaylabs/membership/internal/notification/domain"
	"github.com/railzwaylabs/membership/internal/notification/provider/email"
	"github.com/railzwaylabs/membership/internal/notification/provider/logsink"
	"github.com/railzwaylabs/membership/internal/notification/provider/sms"
	"github.com/railzwaylabs/membership/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *observability.Metrics
}

type Dispatcher struct {
	log       *zap.Logger
	metrics   *observability.Metrics
	providers map[domain.Channel]domain.Provider
}

// NewDispatcher wires SMTP and SMS providers when configured and falls back
// to logging for channels without credentials.
func NewDispatcher(p Params) domain.Dispatcher {
	fallback := logsink.NewProvider(p.Log)
	providers := map[domain.Channel]domain.Provider{
		domain.ChannelEmail: fallback,
		domain.ChannelSMS:   fallback,
	}

	n := p.Cfg.Notification
	if strings.TrimSpace(n.SMTPHost) != "" {
		providers[domain.ChannelEmail] = email.NewProvider(email.Config{
			Host:     n.SMTPHost,
			Port:     n.SMTPPort,
			User:     n.SMTPUser,
			Password: n.SMTPPassword,
			From:     n.From,
			FromName: n.FromName,
		})
	}
	if strings.TrimSpace(n.SMSEndpoint) != "" {
		providers[domain.ChannelSMS] = sms.NewProvider(sms.Config{
			Endpoint: n.SMSEndpoint,
			APIKey:   n.SMSAPIKey,
			Sender:   n.SMSSender,
		})
	}

	return New(p.Log, p.Metrics, providers)
}

func New(log *zap.Logger, metrics *observability.Metrics, providers map[domain.Channel]domain.Provider) *Dispatcher {
	return &Dispatcher{
		log:       log.Named("notification.dispatcher"),
		metrics:   metrics,
		providers: providers,
	}
}

func (d *Dispatcher) Send(ctx context.Context, msg domain.Message) error {
	if !msg.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", msg.Channel)
	}
	provider, ok := d.providers[msg.Channel]
	if !ok {
		d.count(msg, false)
		return domain.ErrNoProvider
	}

	if err := provider.Send(ctx, msg); err != nil {
		d.count(msg, false)
		d.log.Warn("notification provider failed",
			zap.Error(err),
			zap.String("channel", string(msg.Channel)),
			zap.String("template", msg.TemplateKey),
		)
		return err
	}
	d.count(msg, true)
	return nil
}

func (d *Dispatcher) Notify(ctx context.Context, to domain.Recipient, templateKey string, data map[string]any) error {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if to.Name != "" {
		payload["name"] = to.Name
	}

	var errs []error
	if to.Email != "" {
		errs = append(errs, d.Send(ctx, domain.Message{
			Channel:     domain.ChannelEmail,
			To:          to.Email,
			TemplateKey: templateKey,
			Data:        payload,
		}))
	}
	if to.Phone != "" {
		errs = append(errs, d.Send(ctx, domain.Message{
			Channel:     domain.ChannelSMS,
			To:          to.Phone,
			TemplateKey: templateKey,
			Data:        payload,
		}))
	}
	if len(errs) == 0 {
		return domain.ErrMissingRecipient
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) count(msg domain.Message, ok bool) {
	if d.metrics == nil {
		return
	}
	if ok {
		d.metrics.NotificationsSent.WithLabelValues(string(msg.Channel), msg.TemplateKey).Inc()
		return
	}
	d.metrics.NotificationsFailed.WithLabelValues(string(msg.Channel), msg.TemplateKey).Inc()
}
