package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/alerts"
	"github.com/trapsight/trap-telemetry/pkg/models"
	"github.com/trapsight/trap-telemetry/pkg/normalizer"
	"github.com/trapsight/trap-telemetry/pkg/pipeline"
	"github.com/trapsight/trap-telemetry/pkg/profiles"
)

// defaultRecentWindow applies when the recent-events query has no window
const defaultRecentWindow = 15 * time.Minute

// APIHandler handles HTTP API requests
type APIHandler struct {
	pipeline   *pipeline.Pipeline
	aggregator *profiles.Aggregator
	engine     *alerts.Engine
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(p *pipeline.Pipeline, aggregator *profiles.Aggregator, engine *alerts.Engine) *APIHandler {
	return &APIHandler{
		pipeline:   p,
		aggregator: aggregator,
		engine:     engine,
	}
}

// SubmitEvent accepts a raw honeypot capture for processing
func (h *APIHandler) SubmitEvent(c echo.Context) error {
	var raw models.RawCapture
	if err := c.Bind(&raw); err != nil {
		logrus.Errorf("Error binding capture request: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if raw.RemoteAddr == "" {
		raw.RemoteAddr = c.Request().RemoteAddr
	}

	eventID, err := h.pipeline.Submit(raw)
	if err != nil {
		var verr *normalizer.ValidationError
		switch {
		case errors.As(err, &verr):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": verr.Error()})
		case errors.Is(err, pipeline.ErrBackpressure):
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Event queue full, retry later"})
		case errors.Is(err, pipeline.ErrShuttingDown):
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Service is shutting down"})
		default:
			logrus.Errorf("Error submitting capture: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to submit event"})
		}
	}

	return c.JSON(http.StatusAccepted, map[string]string{"event_id": eventID})
}

// GetProfile returns the attacker profile for one source IP
func (h *APIHandler) GetProfile(c echo.Context) error {
	ip := c.Param("ip")
	profile := h.aggregator.Get(ip)
	if profile == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("No profile for %s", ip)})
	}
	return c.JSON(http.StatusOK, profileResponse(profile))
}

// GetProfiles returns all attacker profiles, highest risk first
func (h *APIHandler) GetProfiles(c echo.Context) error {
	snapshot := h.aggregator.Snapshot()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].RiskScore > snapshot[j].RiskScore
	})

	out := make([]map[string]interface{}, 0, len(snapshot))
	for _, p := range snapshot {
		out = append(out, profileResponse(p))
	}
	return c.JSON(http.StatusOK, out)
}

// GetRecentEvents returns finalized events within the requested window
func (h *APIHandler) GetRecentEvents(c echo.Context) error {
	window := defaultRecentWindow
	if raw := c.QueryParam("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid window, expected a duration like 15m"})
		}
		window = parsed
	}

	events := h.pipeline.Recent().Recent(window)
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return c.JSON(http.StatusOK, events)
}

// GetAlerts returns open alerts, newest first
func (h *APIHandler) GetAlerts(c echo.Context) error {
	open := h.engine.Open()
	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})
	return c.JSON(http.StatusOK, open)
}

// GetAlert returns one alert by ID
func (h *APIHandler) GetAlert(c echo.Context) error {
	id := c.Param("id")
	alert, err := h.engine.Get(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Alert with ID %s not found", id)})
	}
	return c.JSON(http.StatusOK, alert)
}

// UpdateAlertStatus applies an operator-driven status transition
func (h *APIHandler) UpdateAlertStatus(c echo.Context) error {
	id := c.Param("id")
	var req models.UpdateAlertStatusRequest
	if err := c.Bind(&req); err != nil {
		logrus.Errorf("Error binding status update request: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if req.Status == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Status is required"})
	}

	alert, err := h.engine.Transition(c.Request().Context(), id, req.Status, req.UpdatedBy)
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrAlertNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Alert with ID %s not found", id)})
		case errors.Is(err, alerts.ErrInvalidTransition):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			logrus.Errorf("Error updating alert %s: %v", id, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update alert"})
		}
	}

	return c.JSON(http.StatusOK, alert)
}

// GetStats returns pipeline and aggregation counters
func (h *APIHandler) GetStats(c echo.Context) error {
	eventsApplied, profileStoreErrors, profileCount := h.aggregator.Stats()
	alertsCreated, alertsDeduped, alertStoreErrors := h.engine.Stats()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events_applied":       eventsApplied,
		"profiles":             profileCount,
		"profile_store_errors": profileStoreErrors,
		"alerts_created":       alertsCreated,
		"alerts_deduped":       alertsDeduped,
		"alert_store_errors":   alertStoreErrors,
		"recent_events":        h.pipeline.Recent().Len(),
	})
}

// Health is the liveness endpoint
func (h *APIHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(e *echo.Echo) {
	// Ingest endpoints
	e.POST("/api/events", h.SubmitEvent)
	e.GET("/api/events/recent", h.GetRecentEvents)

	// Profile endpoints
	e.GET("/api/profiles", h.GetProfiles)
	e.GET("/api/profiles/:ip", h.GetProfile)

	// Alert endpoints
	e.GET("/api/alerts", h.GetAlerts)
	e.GET("/api/alerts/:id", h.GetAlert)
	e.POST("/api/alerts/:id/status", h.UpdateAlertStatus)

	// Operational endpoints
	e.GET("/api/stats", h.GetStats)
	e.GET("/health", h.Health)
}

// profileResponse serializes a profile with its set-valued fields flattened
func profileResponse(p *models.AttackerProfile) map[string]interface{} {
	endpoints := p.EndpointList()
	sort.Strings(endpoints)
	return map[string]interface{}{
		"source_ip":      p.SourceIP,
		"first_seen":     p.FirstSeen,
		"last_seen":      p.LastSeen,
		"event_count":    p.EventCount,
		"endpoints":      endpoints,
		"attack_types":   p.AttackTypes,
		"user_agents":    len(p.UserAgents),
		"max_severity":   p.MaxSeverity,
		"bot_likelihood": p.BotLikelihood,
		"risk_score":     p.RiskScore,
		"threat_level":   p.ThreatLevel,
		"country":        p.Country,
	}
}
