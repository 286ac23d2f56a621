package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ZanzyTHEbar/contrib-rounds/docs"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/cache"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/config"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/coordination"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/leaderboard"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/middleware"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ratelimit"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/round"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/security"
)

const version = "1.0.0"

// dependencies are the externally owned resources the server is assembled from
type dependencies struct {
	db        *database.DB
	redis     *coordination.RedisClient
	collector round.Collector
	ledger    ledger.Client
	breaker   func() map[string]interface{}
	pools     func() map[string]interface{}
}

type server struct {
	cfg         *config.Config
	db          *database.DB
	repo        *database.Repository
	redis       *coordination.RedisClient
	rounds      *round.Orchestrator
	board       *leaderboard.Service
	boardCache  *leaderboard.LeaderboardCache
	limiter     *ratelimit.RateLimiter
	security    *security.SecurityMiddleware
	compression *middleware.CompressionMiddleware
	logger      *monitoring.Logger
	metrics     *monitoring.Metrics
	breaker     func() map[string]interface{}
	pools       func() map[string]interface{}
}

func newServer(cfg *config.Config, deps dependencies, logger *monitoring.Logger, metrics *monitoring.Metrics) *server {
	repo := database.NewRepository(deps.db)

	var locker coordination.Locker = coordination.NewMemoryLocker()
	if deps.redis.IsEnabled() {
		locker = coordination.NewLocker(deps.redis)
	}

	rounds := round.New(repo, deps.collector, deps.ledger, locker, logger, metrics, round.Options{
		IssueSLA:       cfg.IssueSLA,
		LockTTL:        cfg.LockTTL,
		PersistTimeout: cfg.PersistTimeout,
	})

	var cacheMetrics cache.Metrics
	if metrics != nil {
		cacheMetrics = metrics
	}
	boardCache := leaderboard.NewLeaderboardCache(cfg.CacheTTL, cacheMetrics)
	board := leaderboard.NewService(repo, rounds, boardCache, logger)
	rounds.OnFinalized(board.Invalidate)

	limitConfig := ratelimit.DefaultConfig()
	limitConfig.IPLimitPerMin = cfg.IPRateLimit
	limitConfig.VoterLimitPerMin = cfg.VoteRateLimit
	limiter := ratelimit.NewRateLimiter(deps.redis, limitConfig, metrics)

	securityConfig := security.DefaultSecurityConfig()
	securityConfig.RequestTimeout = cfg.RequestTimeout
	if len(cfg.AllowedOrigins) > 0 {
		securityConfig.AllowedOrigins = cfg.AllowedOrigins
	}

	return &server{
		cfg:         cfg,
		db:          deps.db,
		repo:        repo,
		redis:       deps.redis,
		rounds:      rounds,
		board:       board,
		boardCache:  boardCache,
		limiter:     limiter,
		security:    security.NewSecurityMiddleware(securityConfig),
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		logger:      logger,
		metrics:     metrics,
		breaker:     deps.breaker,
		pools:       deps.pools,
	}
}

// Close stops background loops owned by the server
func (s *server) Close() {
	s.limiter.Close()
	s.boardCache.Close()
}

func (s *server) router() *gin.Engine {
	r := gin.New()

	// monitoring first so every request is counted, errors rendered before recovery unwinds
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())

	r.Use(s.security.CORSConfig())
	r.Use(s.security.SecurityHeaders)
	r.Use(s.security.RequestTimeout)
	r.Use(s.security.LimitBody)
	r.Use(s.security.ValidateContentType)

	r.GET("/health", s.health)

	if s.cfg.SwaggerEnabled {
		docs.SwaggerInfo.Version = version
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api/v1")
	api.Use(s.limiter.IPRateLimitMiddleware())
	{
		api.POST("/rounds", s.startRound)
		api.PUT("/members/:username", s.bindMember)

		contracts := api.Group("/contracts/:address")
		contracts.GET("/progress", s.getProgress)
		contracts.POST("/votes", s.submitVote)
		contracts.POST("/finalize", s.finalize)
		contracts.POST("/resync", s.resync)

		repos := api.Group("/repos/:owner/:name")
		if s.cfg.CompressResponses {
			repos.Use(s.compression.Handler())
		}
		repos.GET("/leaderboard", s.getLeaderboard)
		repos.GET("/members/:identity/history", s.getMemberHistory)
	}

	return r
}

// health godoc
//
//	@Summary	Service health with store, coordination, cache and ledger statistics
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	map[string]interface{}
//	@Failure	503	{object}	map[string]interface{}
//	@Router		/health [get]
func (s *server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK

	dbStatus := "ok"
	if err := s.db.Ping(ctx); err != nil {
		dbStatus = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	redisStatus := "disabled"
	if s.redis.IsEnabled() {
		redisStatus = "ok"
		if err := s.redis.HealthCheck(ctx); err != nil {
			// in-process fallbacks keep serving, so this does not fail the check
			redisStatus = err.Error()
			status = "degraded"
		}
	}

	resp := gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   version,
		"ledger":    s.cfg.Ledger.Mode,
		"services": gin.H{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"metrics":     s.metrics.GetStats(),
		"database":    s.db.GetPoolStats(),
		"cache":       s.boardCache.GetStats(),
		"rate_limit":  s.limiter.GetStats(),
		"compression": s.compression.GetStats(),
	}
	if s.breaker != nil {
		resp["ledger_breaker"] = s.breaker()
	}
	if s.pools != nil {
		resp["github_pool"] = s.pools()
	}

	c.JSON(code, resp)
}
