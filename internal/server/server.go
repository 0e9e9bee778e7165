package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/cache"
	"github.com/omniquery/fanout-api/internal/config"
	"github.com/omniquery/fanout-api/internal/server/middleware"
	v1 "github.com/omniquery/fanout-api/internal/server/v1"
	"github.com/omniquery/fanout-api/internal/server/validator"
)

const serviceName = "fanout-api"

// Deps carries everything the HTTP layer needs. RespCache may be nil to
// run without the response cache; Requests may be nil to drop the
// request-log view.
type Deps struct {
	Aggregator v1.Aggregator
	Streamer   v1.StreamService
	Snapshots  v1.SnapshotSource
	RespCache  cache.CacheService
	Requests   v1.RequestLogSource
}

type Server struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger
	deps   Deps
}

func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))
	engine.Use(middleware.Tracing(serviceName))

	s := &Server{
		router: engine,
		config: cfg,
		logger: logger,
		deps:   deps,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	val := validator.New()

	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	rl := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.config.Auth.APIKeys))
	api.Use(rl.Middleware())
	{
		respTTL := s.config.Cache.ResponseTTL
		if respTTL <= 0 {
			respTTL = 30 * time.Second
		}

		aggregateHandler := v1.NewAggregateHandler(s.deps.Aggregator, s.deps.RespCache, respTTL, val, s.logger)
		api.POST("/aggregate", aggregateHandler.Aggregate)

		streamHandler := v1.NewStreamHandler(s.deps.Streamer, val, s.logger)
		api.POST("/stream", streamHandler.Stream)

		providerHandler := v1.NewProviderHandler(s.deps.Snapshots)
		api.GET("/providers", providerHandler.List)

		if s.deps.Requests != nil {
			requestHandler := v1.NewRequestHandler(s.deps.Requests)
			api.GET("/requests", requestHandler.ListRecent)
		}
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}
