package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qiwenlee/fundflow/internal/cache"
	"github.com/qiwenlee/fundflow/internal/database"
	"github.com/qiwenlee/fundflow/internal/monitor"
	"github.com/qiwenlee/fundflow/internal/service"
)

var startTime = time.Now()

type HealthHandler struct {
	svc   *service.NAVService
	db    *database.PostgresDB
	redis *database.RedisClient
}

type HealthResponse struct {
	Status    string                `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
	Uptime    string                `json:"uptime"`
	Services  map[string]string     `json:"services"`
	Cache     cache.MemoryStats     `json:"cache"`
	Resources monitor.ResourceStats `json:"resources"`
}

func NewHealthHandler(svc *service.NAVService, db *database.PostgresDB, redis *database.RedisClient) *HealthHandler {
	return &HealthHandler{svc: svc, db: db, redis: redis}
}

// HealthCheck handles GET /health: dependency pings, L1 cache stats and
// process resource usage in one response.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	services := make(map[string]string)

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "unhealthy: not configured"
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "unhealthy: not configured"
	}

	overallStatus := "healthy"
	statusCode := http.StatusOK
	for _, status := range services {
		if status != "healthy" {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		Services:  services,
		Cache:     h.svc.CacheStats(),
		Resources: monitor.Collect(),
	})
}
