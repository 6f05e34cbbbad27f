package lifecycle

import (
	"github.com/railzwaylabs/membership/internal/lifecycle/repository"
	"github.com/railzwaylabs/membership/internal/lifecycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lifecycle.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
