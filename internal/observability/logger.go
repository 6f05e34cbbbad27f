package observability

import (
	"github.com/railzwaylabs/membership/internal/config"
	"go.uber.org/zap"
)

func NewLogger(cfg config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("service", cfg.App.Name)), nil
}
