package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railzwaylabs/membership/internal/config"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	"github.com/railzwaylabs/membership/internal/observability"
	organizationdomain "github.com/railzwaylabs/membership/internal/organization/domain"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	Redis         *redis.Client `optional:"true"`
	Metrics       *observability.Metrics
	Organizations organizationdomain.Service
	Members       memberdomain.Service
	Plans         plandomain.Service
	Subscriptions subscriptiondomain.Service
	Invoices      invoicedomain.Service
	Payments      paymentdomain.Service
	Webhooks      paymentdomain.WebhookService
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	db       *gorm.DB
	redis    *redis.Client
	gatherer prometheus.Gatherer

	organizationSvc organizationdomain.Service
	memberSvc       memberdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	webhookSvc      paymentdomain.WebhookService
}

func New(p Params) *Server {
	if !p.Cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:          gin.New(),
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		db:              p.DB,
		redis:           p.Redis,
		gatherer:        prometheus.Gatherers{p.Metrics.Registry, prometheus.DefaultGatherer},
		organizationSvc: p.Organizations,
		memberSvc:       p.Members,
		planSvc:         p.Plans,
		subscriptionSvc: p.Subscriptions,
		invoiceSvc:      p.Invoices,
		paymentSvc:      p.Payments,
		webhookSvc:      p.Webhooks,
	}
	s.engine.Use(RequestID(), AccessLog(s.log), Recovery(s.log))
	s.RegisterRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/readyz", s.Readyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.engine.POST("/webhooks/:provider", s.HandleWebhook)

	v1 := s.engine.Group("/v1")
	v1.POST("/organizations", s.CreateOrganization)

	scoped := v1.Group("", RequireOrganization())
	scoped.POST("/members", s.CreateMember)
	scoped.GET("/members/:id", s.GetMember)

	scoped.POST("/plans", s.CreatePlan)
	scoped.PATCH("/plans/:id", s.UpdatePlan)

	scoped.POST("/subscriptions", s.CreateSubscription)
	scoped.GET("/subscriptions/:id", s.GetSubscription)
	scoped.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	scoped.POST("/subscriptions/:id/pause", s.PauseSubscription)
	scoped.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	scoped.POST("/subscriptions/:id/reactivate", s.ReactivateSubscription)

	scoped.GET("/invoices/:id", s.GetInvoice)
	scoped.POST("/invoices/:id/cancel", s.CancelInvoice)
	scoped.POST("/invoices/:id/pay", s.InitializePayment)
	scoped.GET("/payments/:reference/verify", s.VerifyPayment)
}

// Register serves HTTP for the lifetime of the fx app.
func Register(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				s.log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
