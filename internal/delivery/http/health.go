package http

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/telegram"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health status of a single component
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the JSON response for health check
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthHandler handles HTTP health check requests
type HealthHandler struct {
	db      *gorm.DB
	monitor *telegram.HealthMonitor
	logger  zerolog.Logger
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(db *gorm.DB, monitor *telegram.HealthMonitor, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		monitor: monitor,
		logger:  logger.With().Str("component", "health_handler").Logger(),
	}
}

// Handle serves GET /health
func (h *HealthHandler) Handle(ctx *fasthttp.RequestCtx) {
	components := h.checkComponents()
	status := determineOverallStatus(components)

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}

	statusCode := fasthttp.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = fasthttp.StatusServiceUnavailable
	}

	logEvent := h.logger.Debug()
	if status == HealthStatusUnhealthy {
		logEvent = h.logger.Warn()
	} else if status == HealthStatusDegraded {
		logEvent = h.logger.Info()
	}
	logEvent.
		Str("status", string(status)).
		Int("status_code", statusCode).
		Msg("Health check completed")

	payload, err := json.Marshal(response)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode health check response")
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}

func (h *HealthHandler) checkComponents() []ComponentHealth {
	components := make([]ComponentHealth, 0, 2)

	dbHealthy := true
	dbMsg := ""
	if sqlDB, err := h.db.DB(); err != nil {
		dbHealthy = false
		dbMsg = err.Error()
	} else if err := sqlDB.Ping(); err != nil {
		dbHealthy = false
		dbMsg = err.Error()
	}
	components = append(components, ComponentHealth{
		Name:    "database",
		Healthy: dbHealthy,
		Message: dbMsg,
	})

	// Connections are optional: an idle service with no sessions is healthy,
	// but every probed connection being down is worth surfacing.
	stats := h.monitor.Stats()
	connsHealthy := stats.Total == 0 || stats.Connected > 0
	connsMsg := ""
	if !connsHealthy {
		connsMsg = "no live session connections"
	}
	components = append(components, ComponentHealth{
		Name:    "session_connections",
		Healthy: connsHealthy,
		Message: connsMsg,
	})

	return components
}

func determineOverallStatus(components []ComponentHealth) HealthStatus {
	allHealthy := true
	anyHealthy := false

	for _, component := range components {
		if !component.Healthy {
			allHealthy = false
		} else {
			anyHealthy = true
		}
	}

	if allHealthy {
		return HealthStatusHealthy
	} else if anyHealthy {
		return HealthStatusDegraded
	}

	return HealthStatusUnhealthy
}
