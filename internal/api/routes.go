package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qiwenlee/fundflow/internal/api/handlers"
	"github.com/qiwenlee/fundflow/internal/database"
	"github.com/qiwenlee/fundflow/internal/middleware"
	"github.com/qiwenlee/fundflow/internal/service"
)

// SetupRoutes wires the thin HTTP surface over the NAV service. The
// handlers only translate between HTTP and the service layer; every
// caching, failover and reconciliation decision lives below.
func SetupRoutes(router *gin.Engine, svc *service.NAVService, db *database.PostgresDB, redis *database.RedisClient) {
	healthHandler := handlers.NewHealthHandler(svc, db, redis)
	router.GET("/health", healthHandler.HealthCheck)

	fundHandler := handlers.NewFundHandler(svc)
	adminMiddleware := middleware.NewAdminMiddleware()

	v1 := router.Group("/api/v1")
	{
		funds := v1.Group("/funds")
		{
			funds.GET("/:code/latest", fundHandler.GetLatest)
			funds.GET("/:code/history", fundHandler.GetHistory)
			funds.GET("/:code/yesterday", fundHandler.GetYesterdayReturn)
			funds.GET("/:code/metadata", fundHandler.GetMetadata)
			funds.POST("/:code/invalidate", adminMiddleware.RequireAdminAuth(), fundHandler.Invalidate)
		}

		// Static segments cannot share a level with :code, so batch and
		// whole-cache operations live outside the funds group.
		v1.POST("/batch/latest", fundHandler.BatchGetLatest)
		v1.POST("/cache/invalidate", adminMiddleware.RequireAdminAuth(), fundHandler.InvalidateAll)

		providers := v1.Group("/providers")
		{
			providers.GET("/health", fundHandler.ProviderHealth)
			providers.POST("/:name/reset", adminMiddleware.RequireAdminAuth(), fundHandler.ResetProviderHealth)
		}
	}
}
