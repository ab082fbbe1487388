package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/harvester/internal/discovery"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
)

// DiscoveryHandler handles discovery run and loop HTTP requests.
type DiscoveryHandler struct {
	controller LoopController
	settings   SettingsStore
	logger     logger.Interface
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(controller LoopController, settings SettingsStore, log logger.Interface) *DiscoveryHandler {
	return &DiscoveryHandler{
		controller: controller,
		settings:   settings,
		logger:     log,
	}
}

// resolveSettings returns the request body settings when present, otherwise
// the persisted settings.
func (h *DiscoveryHandler) resolveSettings(c *gin.Context) (domain.DiscoverySettings, bool) {
	if c.Request.ContentLength > 0 {
		var settings domain.DiscoverySettings
		if err := c.ShouldBindJSON(&settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return domain.DiscoverySettings{}, false
		}
		return settings, true
	}

	settings, err := h.settings.Load()
	if err != nil {
		h.logger.Error("Failed to load discovery settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return domain.DiscoverySettings{}, false
	}
	return settings, true
}

// Run handles POST /api/v1/discovery/run.
func (h *DiscoveryHandler) Run(c *gin.Context) {
	settings, ok := h.resolveSettings(c)
	if !ok {
		return
	}
	if len(settings.Keywords) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No keywords configured"})
		return
	}

	result, err := h.controller.RunOnce(c.Request.Context(), settings)
	if err != nil {
		h.logger.Error("Discovery run failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Discovery run failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// StartLoop handles POST /api/v1/discovery/loop/start.
func (h *DiscoveryHandler) StartLoop(c *gin.Context) {
	settings, ok := h.resolveSettings(c)
	if !ok {
		return
	}
	if len(settings.Keywords) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No keywords configured"})
		return
	}

	snapshot, err := h.controller.StartLoop(c.Request.Context(), settings)
	if err != nil {
		if errors.Is(err, discovery.ErrLoopAlreadyRunning) {
			// Not a hard failure: the running loop is untouched.
			c.JSON(http.StatusConflict, gin.H{
				"message": "discovery loop already running",
				"loop":    snapshot,
			})
			return
		}
		h.logger.Error("Failed to start discovery loop", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start loop"})
		return
	}

	c.JSON(http.StatusAccepted, snapshot)
}

// StopLoop handles POST /api/v1/discovery/loop/stop.
func (h *DiscoveryHandler) StopLoop(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.StopLoop(c.Request.Context()))
}

// Status handles GET /api/v1/discovery/loop.
func (h *DiscoveryHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// GetSettings handles GET /api/v1/discovery/settings.
func (h *DiscoveryHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Load()
	if err != nil {
		h.logger.Error("Failed to load discovery settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/v1/discovery/settings. Settings are frozen
// while the loop runs.
func (h *DiscoveryHandler) UpdateSettings(c *gin.Context) {
	if h.controller.Snapshot().Running {
		c.JSON(http.StatusConflict, gin.H{"error": "Settings cannot be changed while the loop is running"})
		return
	}

	var settings domain.DiscoverySettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.settings.Save(settings); err != nil {
		h.logger.Error("Failed to save discovery settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}

	saved, err := h.settings.Load()
	if err != nil {
		h.logger.Error("Failed to reload discovery settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload settings"})
		return
	}
	c.JSON(http.StatusOK, saved)
}
