package handler

import (
	"time"

	"billing-event-pipeline/internal/adapter/http/middleware"
	redisStore "billing-event-pipeline/internal/adapter/storage/redis"
	"billing-event-pipeline/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	IngestSvc           ports.IngestionService
	UsageSvc            ports.UsageService
	SigningSecret       string // empty = webhook signature verification disabled
	OpsToken            string // empty = ops endpoints unguarded
	UnresolvedThreshold time.Duration
	RateLimitStore      *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers      []ports.HealthChecker
	Logger              zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Processor-facing: signed webhook deliveries ---
	webhookHandler := NewWebhookHandler(deps.IngestSvc, deps.Logger)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/stripe",
			rl("webhooks"),
			middleware.WebhookSignature(deps.SigningSecret, deps.Logger),
			webhookHandler.Receive,
		)
	}

	// --- Internal callers: usage submission ---
	opsAuth := middleware.OpsAuth(deps.OpsToken)
	usageHandler := NewUsageHandler(deps.UsageSvc, deps.Logger)
	v1.POST("/usage", rl("usage"), opsAuth, usageHandler.Submit)

	// --- Operator introspection ---
	opsHandler := NewOpsHandler(deps.IngestSvc, deps.UsageSvc, deps.UnresolvedThreshold)
	ops := v1.Group("/ops", opsAuth)
	{
		ops.GET("/webhook-events/unresolved", rl("ops"), opsHandler.UnresolvedEvents)
		ops.GET("/usage-reports/exhausted", rl("ops"), opsHandler.ExhaustedReports)
	}

	return r
}
