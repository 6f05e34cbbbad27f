package adapters

import (
	"sort"
	"strings"

	"github.com/railzwaylabs/membership/internal/config"
	"github.com/railzwaylabs/membership/internal/payment/adapters/paystack"
	"github.com/railzwaylabs/membership/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/membership/internal/payment/domain"
	"go.uber.org/zap"
)

type Registry struct {
	gateways map[domain.Provider]domain.Gateway
}

func NewRegistry(gateways ...domain.Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.Provider]domain.Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		r.gateways[g.Provider()] = g
	}
	return r
}

// NewRegistryFromConfig registers every provider that has credentials.
func NewRegistryFromConfig(cfg config.Config, log *zap.Logger) *Registry {
	var gateways []domain.Gateway
	if strings.TrimSpace(cfg.Paystack.SecretKey) != "" {
		gateways = append(gateways, paystack.New(paystack.Config{
			SecretKey: cfg.Paystack.SecretKey,
			BaseURL:   cfg.Paystack.BaseURL,
			Timeout:   cfg.Billing.GatewayTimeout,
		}))
	}
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		gateways = append(gateways, stripe.New(stripe.Config{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
			Timeout:       cfg.Billing.GatewayTimeout,
		}))
	}
	r := NewRegistry(gateways...)
	if len(r.gateways) == 0 {
		log.Warn("no payment provider configured")
	} else {
		log.Info("payment providers registered", zap.Strings("providers", r.Providers()))
	}
	return r
}

func (r *Registry) Get(provider domain.Provider) (domain.Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return g, nil
}

func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
