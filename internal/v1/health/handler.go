package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strangermesh/roulette/backend/go/internal/v1/bus"
	"github.com/strangermesh/roulette/backend/go/internal/v1/logging"
	"github.com/strangermesh/roulette/backend/go/internal/v1/registry"
)

// Handler manages the health and stats endpoints.
type Handler struct {
	redisService *bus.Service
	registry     *registry.Registry
}

// NewHandler creates a new health check handler.
func NewHandler(redisService *bus.Service, reg *registry.Registry) *Handler {
	return &Handler{
		redisService: redisService,
		registry:     reg,
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// StatsResponse is the operator-facing snapshot of registry state.
type StatsResponse struct {
	Tokens        int    `json:"tokens"`
	Waiting       int    `json:"waiting"`
	Rooms         int    `json:"rooms"`
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// Liveness handles GET /health/live.
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready.
// Returns 200 only if all enabled dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /stats: current token, waiter, room and connection
// counts plus uptime.
func (h *Handler) Stats(c *gin.Context) {
	if h.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry not initialized"})
		return
	}

	snap := h.registry.Snapshot()
	c.JSON(http.StatusOK, StatsResponse{
		Tokens:        snap.Tokens,
		Waiting:       snap.Waiting,
		Rooms:         snap.Rooms,
		Connections:   snap.Connections,
		UptimeSeconds: int64(snap.Uptime.Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies Redis connectivity using PING.
func (h *Handler) checkRedis(ctx context.Context) string {
	// Single-instance mode without Redis is healthy by definition.
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
