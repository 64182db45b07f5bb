package router

import (
	"net/http"

	_ "github.com/3Eeeecho/go-chunkupload/docs"
	"github.com/3Eeeecho/go-chunkupload/internal/config"
	"github.com/3Eeeecho/go-chunkupload/internal/handlers"
	"github.com/3Eeeecho/go-chunkupload/internal/middlewares"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// 分片请求在分片大小之外允许的 multipart 开销
const multipartOverhead = 1 << 20

func InitRouter(uploadHandler *handlers.UploadHandler, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = cfg.Upload.ChunkSize + multipartOverhead

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		uploads := v1.Group("/uploads")
		uploads.Use(middlewares.AuthMiddleware(&cfg.JWT))
		if cfg.RateLimit.Enabled {
			uploads.Use(middlewares.NewRateLimiter(&cfg.RateLimit).Middleware())
		}

		uploads.POST("/init", uploadHandler.InitUpload)
		uploads.POST("/:id/chunk", limitBody(cfg.Upload.ChunkSize+multipartOverhead), uploadHandler.UploadChunk)
		uploads.POST("/:id/complete", uploadHandler.CompleteUpload)
		uploads.GET("/:id/status", uploadHandler.GetStatus)
		uploads.DELETE("/:id", uploadHandler.CancelUpload)
	}

	router.NoRoute(func(c *gin.Context) {
		xerr.Error(c, http.StatusNotFound, xerr.NotFoundCode, "not_found", "Route not found")
	})

	return router
}

func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
