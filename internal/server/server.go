package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/rollout/internal/apikey"
	apikeydomain "github.com/smallbiznis/rollout/internal/apikey/domain"
	"github.com/smallbiznis/rollout/internal/audit"
	auditdomain "github.com/smallbiznis/rollout/internal/audit/domain"
	"github.com/smallbiznis/rollout/internal/config"
	"github.com/smallbiznis/rollout/internal/evaluation"
	"github.com/smallbiznis/rollout/internal/flag"
	flagdomain "github.com/smallbiznis/rollout/internal/flag/domain"
	"github.com/smallbiznis/rollout/internal/flagcache"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	flagcache.Module,
	audit.Module,
	apikey.Module,
	flag.Module,
	evaluation.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, httpMetrics *HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(MetricsMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log, newHTTPMetrics())
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	resolver apikeydomain.Resolver
	flagSvc  flagdomain.Service
	auditSvc auditdomain.Service
	evalSvc  evaluation.Service
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Resolver apikeydomain.Resolver
	FlagSvc  flagdomain.Service
	AuditSvc auditdomain.Service
	EvalSvc  evaluation.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http.server"),
		resolver: p.Resolver,
		flagSvc:  p.FlagSvc,
		auditSvc: p.AuditSvc,
		evalSvc:  p.EvalSvc,
	}

	svc.registerSDKRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerSDKRoutes mounts the evaluation surface used by SDK clients,
// authenticated by API key.
func (s *Server) registerSDKRoutes() {
	v1 := s.engine.Group("/v1", s.APIKeyRequired())

	v1.POST("/evaluate", s.Evaluate)
	v1.POST("/evaluate/bulk", s.EvaluateBulk)
	v1.POST("/evaluate/all", s.EvaluateAll)
	v1.GET("/sdk/config", s.SDKConfig)
}

// registerAdminRoutes mounts the flag management surface used by the
// control plane, authenticated by tenant headers.
func (s *Server) registerAdminRoutes() {
	flags := s.engine.Group("/v1/flags", s.TenantRequired())

	flags.POST("", s.CreateFlag)
	flags.GET("", s.ListFlags)
	flags.GET("/:key", s.GetFlag)
	flags.PATCH("/:key", s.UpdateFlag)
	flags.DELETE("/:key", s.DeleteFlag)
	flags.POST("/:key/toggle", s.ToggleFlag)
	flags.GET("/:key/audit", s.ListFlagAudit)
}
