package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qiwenlee/fundflow/internal/service"
)

type FundHandler struct {
	svc *service.NAVService
}

func NewFundHandler(svc *service.NAVService) *FundHandler {
	return &FundHandler{svc: svc}
}

// GetLatest handles GET /api/v1/funds/:code/latest.
func (h *FundHandler) GetLatest(c *gin.Context) {
	code := c.Param("code")

	latest, err := h.svc.GetLatest(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, latest)
}

// GetHistory handles GET /api/v1/funds/:code/history?days=30.
func (h *FundHandler) GetHistory(c *gin.Context) {
	code := c.Param("code")

	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	points, err := h.svc.GetHistory(c.Request.Context(), code, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "points": points})
}

// GetYesterdayReturn handles GET /api/v1/funds/:code/yesterday.
func (h *FundHandler) GetYesterdayReturn(c *gin.Context) {
	code := c.Param("code")

	ret, err := h.svc.GetYesterdayReturn(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ret)
}

// GetMetadata handles GET /api/v1/funds/:code/metadata.
func (h *FundHandler) GetMetadata(c *gin.Context) {
	code := c.Param("code")

	md, err := h.svc.GetMetadata(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, md)
}

type batchRequest struct {
	Codes []string `json:"codes" binding:"required"`
}

// BatchGetLatest handles POST /api/v1/batch/latest.
func (h *FundHandler) BatchGetLatest(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain a codes array"})
		return
	}

	results := h.svc.BatchGetLatest(c.Request.Context(), req.Codes)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Invalidate handles POST /api/v1/funds/:code/invalidate.
func (h *FundHandler) Invalidate(c *gin.Context) {
	code := c.Param("code")
	h.svc.Invalidate(c.Request.Context(), code)
	c.JSON(http.StatusOK, gin.H{"invalidated": code})
}

// InvalidateAll handles POST /api/v1/cache/invalidate.
func (h *FundHandler) InvalidateAll(c *gin.Context) {
	h.svc.InvalidateAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"invalidated": "all"})
}

// ProviderHealth handles GET /api/v1/providers/health.
func (h *FundHandler) ProviderHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.svc.HealthSnapshot()})
}

// ResetProviderHealth handles POST /api/v1/providers/:name/reset.
func (h *FundHandler) ResetProviderHealth(c *gin.Context) {
	name := c.Param("name")
	h.svc.ResetHealth(name)
	c.JSON(http.StatusOK, gin.H{"reset": name})
}
