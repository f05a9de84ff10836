package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/handler"
	"github.com/noah-isme/card-audit-agent/internal/middleware"
	"github.com/noah-isme/card-audit-agent/internal/service"
	"github.com/noah-isme/card-audit-agent/pkg/config"
	"github.com/noah-isme/card-audit-agent/pkg/logger"
	corsmiddleware "github.com/noah-isme/card-audit-agent/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/card-audit-agent/pkg/middleware/requestid"
)

// Handlers groups every HTTP handler mounted by the router.
type Handlers struct {
	Auth     *handler.AuthHandler
	Batches  *handler.BatchHandler
	Cards    *handler.CardHandler
	Scans    *handler.ScanHandler
	Sessions *handler.SessionHandler
	Reports  *handler.ReportHandler
	Metrics  *handler.MetricsHandler
}

// NewRouter builds the gin engine with the shared middleware chain and all routes.
func NewRouter(cfg *config.Config, logr *zap.Logger, auth *service.AuthService, metrics *service.MetricsService, h Handlers) *gin.Engine {
	if logr == nil {
		logr = zap.NewNop()
	}
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", h.Auth.Login)
	api.GET("/reports/:token", h.Reports.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(auth))
	secured.GET("/auth/me", h.Auth.Me)

	batches := secured.Group("/batches")
	batches.GET("", h.Batches.ListActive)
	batches.GET("/:number", h.Batches.Get)
	batches.POST("/static/load", middleware.Audit(logr, "batch.static_load"), h.Batches.LoadStatic)
	batches.POST("/:number/sync", middleware.Audit(logr, "batch.sync"), h.Batches.Sync)
	batches.GET("/:number/progress", h.Batches.Progress)
	batches.GET("/:number/report", h.Batches.Report)
	batches.POST("/:number/report/links", middleware.Audit(logr, "report.publish"), h.Reports.Publish)
	batches.DELETE("/:number", middleware.Audit(logr, "batch.reset"), h.Batches.Reset)
	secured.DELETE("/cache", middleware.Audit(logr, "cache.clear"), h.Batches.ClearCache)

	cards := secured.Group("/cards")
	cards.POST("/verify", h.Cards.Verify)
	cards.GET("/:cardId/enquiry", h.Cards.Enquiry)
	cards.GET("/:cardId/location", h.Cards.Location)
	secured.GET("/verifications", h.Cards.ListVerifications)

	scans := secured.Group("/scans")
	scans.POST("/qr", h.Scans.QR)
	scans.POST("/tag", h.Scans.Tag)

	sessions := secured.Group("/sessions")
	sessions.POST("", middleware.Audit(logr, "session.start"), h.Sessions.Start)
	sessions.GET("/current", h.Sessions.Current)
	sessions.POST("/current/cards", h.Sessions.AddCard)
	sessions.DELETE("/current/cards/:cardId", h.Sessions.RemoveCard)
	sessions.GET("/current/payload", h.Sessions.Payload)
	sessions.POST("/current/submit", middleware.Audit(logr, "session.submit"), h.Sessions.Submit)
	sessions.POST("/current/end", middleware.Audit(logr, "session.end"), h.Sessions.End)

	secured.GET("/metrics/summary", h.Metrics.Summary)

	return r
}
