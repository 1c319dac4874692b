package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"github.com/aulacast/aulacast/internal/server/handlers/admin"
	"github.com/aulacast/aulacast/internal/server/handlers/health"
	"github.com/aulacast/aulacast/internal/server/handlers/webhook"
	"github.com/aulacast/aulacast/internal/server/middlewares"
	"github.com/aulacast/aulacast/internal/version"
)

func SetupRoutes(config *Config, svc *Services) http.Handler {
	r := gin.New()

	webhookH := webhook.New(&config.Zoom, svc.Ingest)
	adminH := admin.New(svc.Ingest)
	healthH := health.New(svc.Store, svc.Store.Licenses, config.Ingest.DownloadsDir)

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())
	if config.CertFile != "" {
		r.Use(middlewares.HSTS())
	}

	r.GET("/", IndexHandler)
	r.GET("/healthz", healthH.Handle)

	r.POST("/webhook", webhookH.Handle)

	adminGroup := r.Group("/admin")
	adminGroup.Use(middlewares.RateLimiter(config.AdminRateLimit))
	adminGroup.Use(middlewares.TokenAuth(config.AdminToken))
	{
		adminGroup.POST("/recordings/retry", adminH.Retry)
		adminGroup.GET("/recordings/pending", adminH.Pending)
		adminGroup.POST("/sync/recordings", adminH.Sync)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
