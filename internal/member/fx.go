package member

import (
	"github.com/railzwaylabs/membership/internal/member/repository"
	"github.com/railzwaylabs/membership/internal/member/service"
	"go.uber.org/fx"
)

var Module = fx.Module("member.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
