package server

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"resume-check/internal/analyses"
	"resume-check/internal/documents"
	"resume-check/internal/shared/config"
	"resume-check/internal/shared/metrics"
	"resume-check/internal/shared/server/middleware"
	"resume-check/internal/shared/server/respond"
	"resume-check/internal/uploads"
	"resume-check/internal/usage"
)

// RouterDeps carries the wired handlers the router mounts.
type RouterDeps struct {
	Config    config.Config
	DB        *sql.DB // nil when running on memory repositories
	Documents *documents.Handler
	Uploads   *uploads.Handler
	Analyses  *analyses.Handler
	Usage     *usage.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
// Probes and metrics stay outside the authenticated group so orchestrators
// can reach them without credentials.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	r.GET("/healthz", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/readyz", readiness(deps.DB))
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(
		middleware.Auth(cfg.Env),
		middleware.RateLimit(rateLimitConfig(cfg)),
	)

	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	registerMeRoutes(api)
	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(api)
	}
	if deps.Uploads != nil {
		deps.Uploads.RegisterRoutes(api)
	}
	if deps.Analyses != nil {
		deps.Analyses.RegisterRoutes(api)
	}
	if deps.Usage != nil {
		deps.Usage.RegisterRoutes(api)
		if cfg.Env == "dev" {
			dev := api.Group("/dev")
			deps.Usage.RegisterDevRoutes(dev)
		}
	}

	return r
}

// readiness pings the database when one is configured; memory-backed
// deployments are always ready.
func readiness(sqlDB *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sqlDB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := sqlDB.PingContext(ctx); err != nil {
				respond.JSON(c, http.StatusServiceUnavailable, gin.H{"ok": false, "db": "unreachable"})
				return
			}
		}
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	}
}

// rateLimitConfig builds the token-bucket rules: analyze endpoints get a
// tighter budget than plain reads.
func rateLimitConfig(cfg config.Config) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"DEFAULT": {Rate: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
			"ANALYZE": {Rate: cfg.RateLimitAnalyzeRPS, Burst: cfg.RateLimitAnalyzeBurst},
		},
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/analyze") {
				return "ANALYZE"
			}
			return ""
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
