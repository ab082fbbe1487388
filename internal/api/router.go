package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
)

// Handlers bundles the dependencies of the HTTP surface.
type Handlers struct {
	Enrich    *EnrichHandler
	Discovery *DiscoveryHandler
	Channels  *ChannelsHandler
	Stats     *StatsHandler
	Broker    sse.Broker
	Logger    logger.Interface
}

// SetupRouter creates and configures the Gin router with all routes.
func SetupRouter(h Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(h.Logger))
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	v1.POST("/enrich", h.Enrich.StartJob)
	v1.GET("/enrich/jobs", h.Enrich.ListJobs)
	v1.GET("/enrich/jobs/:id", h.Enrich.GetJob)
	v1.GET("/enrich/jobs/:id/events", h.Enrich.JobEvents)

	v1.POST("/discovery/run", h.Discovery.Run)
	v1.GET("/discovery/loop", h.Discovery.Status)
	v1.POST("/discovery/loop/start", h.Discovery.StartLoop)
	v1.POST("/discovery/loop/stop", h.Discovery.StopLoop)
	v1.GET("/discovery/settings", h.Discovery.GetSettings)
	v1.PUT("/discovery/settings", h.Discovery.UpdateSettings)

	v1.GET("/stats", h.Stats.GetStats)

	v1.GET("/channels", h.Channels.List)
	v1.GET("/channels/:id", h.Channels.Get)
	v1.POST("/channels/archive", h.Channels.Archive)
	v1.POST("/channels/blacklist", h.Channels.Blacklist)
	v1.POST("/channels/restore", h.Channels.Restore)
	v1.POST("/blacklist/import", h.Channels.ImportBlacklist)

	// Shared event stream: job mirrors and loop status transitions.
	v1.GET("/events", sse.Handler(h.Broker, h.Logger))

	return router
}

// loggingMiddleware creates a middleware that logs HTTP requests.
func loggingMiddleware(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", statusCode,
			"latency", latency.String(),
			"client_ip", c.ClientIP())
	}
}

// corsMiddleware allows the dashboard frontend to call the API from another
// origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
