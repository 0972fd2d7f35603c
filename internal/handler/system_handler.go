package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/attendance-integrity-api/internal/service"
	"github.com/noah-isme/attendance-integrity-api/pkg/response"
)

// SystemHandler exposes health, readiness and metrics endpoints.
type SystemHandler struct {
	db      *sqlx.DB
	redis   *redis.Client
	metrics *service.MetricsService
	stats   func() map[string]interface{}
}

// NewSystemHandler constructs the handler. redis and stats may be nil.
func NewSystemHandler(db *sqlx.DB, redisClient *redis.Client, metrics *service.MetricsService, stats func() map[string]interface{}) *SystemHandler {
	return &SystemHandler{db: db, redis: redisClient, metrics: metrics, stats: stats}
}

// Health godoc
// @Summary Liveness probe
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness probe checking database and cache connectivity
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ready [get]
func (h *SystemHandler) Ready(c *gin.Context) {
	checks := gin.H{"status": "ready"}
	status := http.StatusOK

	if h.db != nil {
		start := time.Now()
		err := h.db.PingContext(c.Request.Context())
		h.metrics.ObserveDBQuery("ping", time.Since(start))
		if err != nil {
			checks["database"] = "unreachable"
			checks["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unreachable"
			checks["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	c.JSON(status, checks)
}

// Metrics serves the Prometheus scrape endpoint.
func (h *SystemHandler) Metrics(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Snapshot godoc
// @Summary Coarse engine statistics for dashboards
// @Tags System
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /system/snapshot [get]
func (h *SystemHandler) Snapshot(c *gin.Context) {
	data := gin.H{"engine": h.metrics.Snapshot()}
	if h.stats != nil {
		data["realtime"] = h.stats()
	}
	response.JSON(c, http.StatusOK, data, nil)
}
