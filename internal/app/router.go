package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"tracking/internal/handler"
	"tracking/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RealtimeHandler *handler.RealtimeHandler
	TrackingHandler *handler.TrackingHandler
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket sessions get one New Relic transaction per inbound event, so the
	// upgrade route sits outside the request instrumentation below.
	router.GET("/ws", deps.RealtimeHandler.ServeWS)

	api := router.Group("")
	if deps.NewRelicApp != nil {
		api.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	api.Use(middleware.IdempotencyMiddleware(deps.RedisClient))

	// API v1 routes.
	v1 := api.Group("/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.GET("/:id/tracking", deps.TrackingHandler.GetTracking)
			orders.POST("/:id/status", deps.TrackingHandler.UpdateStatus)
		}

		v1.GET("/tracking/stats", deps.TrackingHandler.Stats)
	}

	return router
}
