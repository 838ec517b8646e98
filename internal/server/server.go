package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/nubera-hq/nubera/internal/audit"
	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	"github.com/nubera-hq/nubera/internal/authorization"
	"github.com/nubera-hq/nubera/internal/config"
	"github.com/nubera-hq/nubera/internal/governor"
	governordomain "github.com/nubera-hq/nubera/internal/governor/domain"
	"github.com/nubera-hq/nubera/internal/identity"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	obsmetrics "github.com/nubera-hq/nubera/internal/observability/metrics"
	"github.com/nubera-hq/nubera/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	authorization.Module,
	audit.Module,
	identity.Module,
	governor.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestMeta())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	db           *gorm.DB
	genID        *snowflake.Node
	identitySvc  identitydomain.Service
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	governorSvc  governordomain.Service
	usageLimiter *ratelimit.UsageRequestLimiter
	metrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	DB           *gorm.DB
	GenID        *snowflake.Node
	IdentitySvc  identitydomain.Service
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	GovernorSvc  governordomain.Service
	UsageLimiter *ratelimit.UsageRequestLimiter `optional:"true"`
	Metrics      *obsmetrics.Metrics            `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		db:           p.DB,
		genID:        p.GenID,
		identitySvc:  p.IdentitySvc,
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		governorSvc:  p.GovernorSvc,
		usageLimiter: p.UsageLimiter,
		metrics:      p.Metrics,
	}
	s.RegisterRoutes()
	return s
}

// RegisterRoutes mounts the public and operator surfaces. Every group
// goes through session resolution; space-gated groups additionally pass
// the policy gate.
func (s *Server) RegisterRoutes() {
	r := s.engine
	r.Use(s.ResolveSession())

	v1 := r.Group("/v1")
	{
		v1.GET("/session", s.currentSession)

		member := v1.Group("")
		member.Use(s.RequireSpace(identitydomain.SpaceCustomer,
			identitydomain.RoleOwner,
			identitydomain.RoleAdmin,
			identitydomain.RoleMember,
		))
		member.POST("/usage/request", s.rateLimitUsage(), s.requestUsage)

		viewer := v1.Group("")
		viewer.Use(s.RequireSpace(identitydomain.SpaceCustomer))
		viewer.GET("/usage/availability", s.checkAvailability)

		admin := v1.Group("")
		admin.Use(s.RequireSpace(identitydomain.SpaceCustomer,
			identitydomain.RoleOwner,
			identitydomain.RoleAdmin,
		))
		admin.GET("/audit-logs", s.listAuditLogs)
	}

	operator := r.Group("/operator/v1")
	operator.Use(s.RequireSpace(identitydomain.SpaceOperator))
	{
		operator.GET("/audit-logs", s.listAuditLogsCrossTenant)
		operator.GET("/circuit", s.circuitStatus)
	}
}
