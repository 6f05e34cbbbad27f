package payment

import (
	"github.com/railzwaylabs/membership/internal/payment/adapters"
	"github.com/railzwaylabs/membership/internal/payment/repository"
	paymentservice "github.com/railzwaylabs/membership/internal/payment/service"
	"github.com/railzwaylabs/membership/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(adapters.NewRegistryFromConfig),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
