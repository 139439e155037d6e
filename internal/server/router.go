package server

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with CORS and every route. Gin runs
// in release mode; request logging goes through slog at debug level.
func NewRouter(h *Handlers, corsOrigins []string, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	corsCfg := cors.DefaultConfig()
	if len(corsOrigins) == 1 && corsOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else if len(corsOrigins) > 0 {
		corsCfg.AllowOrigins = corsOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.POST("/s3-event", h.S3Event)
	r.GET("/assets/:doc_id/:filename", h.Asset)
	r.POST("/assets/presign", h.AssetPresign)
	r.POST("/upload/presign", h.UploadPresign)
	r.POST("/search", h.Search)

	docs := r.Group("/documents/:doc_id")
	{
		docs.GET("", h.Document)
		docs.DELETE("", h.DeleteDocument)
		docs.GET("/pages/:page/structure", h.PageStructure)
		docs.GET("/chunks/:chunk_id", h.Chunk)
		docs.GET("/markdown", h.Markdown)
	}

	r.POST("/api/research/ask", h.Research)
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	r.DELETE("/jobs/:job_id", h.CancelJob)
	r.GET("/ws", h.WS)

	return r
}

// requestLogger records each request's method, path, status, and
// duration.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}
