package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/gocart/internal/authorization"
	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/identity"
	"github.com/smallbiznis/gocart/internal/observability"
	obsmiddleware "github.com/smallbiznis/gocart/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gocart/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gocart/internal/observability/tracing"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/internal/settlement/reporter"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	settlementSvc domain.Service
	reporter      *reporter.Reporter
	identity      identity.Resolver
	authzSvc      authorization.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	SettlementSvc domain.Service
	Reporter      *reporter.Reporter
	Identity      identity.Resolver
	AuthzSvc      authorization.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		settlementSvc: p.SettlementSvc,
		reporter:      p.Reporter,
		identity:      p.Identity,
		authzSvc:      p.AuthzSvc,
	}

	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.POST("/stripe", s.withProvider("stripe"), s.HandleStripeWebhook)
		api.POST("/payments/webhooks/:provider", s.withProvider(""), s.HandlePaymentWebhook)
		api.PUT("/payments", identity.Required(s.identity), s.HandlePaymentConfirmation)
	}

	admin := s.engine.Group("/admin", identity.Required(s.identity))
	{
		admin.GET("/settlements/:provider/:eventId",
			s.authorize(authorization.ObjectSettlement, authorization.ActionSettlementView),
			s.GetSettlement,
		)
	}
}
