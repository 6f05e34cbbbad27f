package logsink

import (
	"context"

	"github.com/railzwaylabs/membership/internal/notification/domain"
	"go.uber.org/zap"
)

// Provider writes messages to the log. Used for channels without credentials.
type Provider struct {
	log *zap.Logger
}

func NewProvider(log *zap.Logger) *Provider {
	return &Provider{log: log.Named("notification.logsink")}
}

func (p *Provider) Send(_ context.Context, msg domain.Message) error {
	p.log.Info("notification",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("template", msg.TemplateKey),
		zap.Any("data", msg.Data),
	)
	return nil
}
