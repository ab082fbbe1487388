package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/harvester/internal/enrich"
	"github.com/jonesrussell/harvester/internal/jobs"
	"github.com/jonesrussell/harvester/internal/logger"
	"github.com/jonesrussell/harvester/internal/sse"
)

// EnrichHandler handles enrichment job HTTP requests.
type EnrichHandler struct {
	coordinator EnrichStarter
	tracker     JobStreams
	logger      logger.Interface
}

// NewEnrichHandler creates a new enrichment handler.
func NewEnrichHandler(coordinator EnrichStarter, tracker JobStreams, log logger.Interface) *EnrichHandler {
	return &EnrichHandler{
		coordinator: coordinator,
		tracker:     tracker,
		logger:      log,
	}
}

// StartJob handles POST /api/v1/enrich.
func (h *EnrichHandler) StartJob(c *gin.Context) {
	var req enrich.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.coordinator.Start(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, enrich.ErrInvalidMode) || errors.Is(err, enrich.ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to start enrichment job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start enrichment job"})
		return
	}

	// Nothing eligible: a no-op success, not an error.
	if result.JobID == "" {
		c.JSON(http.StatusOK, gin.H{
			"job_id":    "",
			"total":     0,
			"requested": result.Requested,
			"skipped":   result.Skipped,
			"message":   "no channels eligible for enrichment",
		})
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// ListJobs handles GET /api/v1/enrich/jobs.
func (h *EnrichHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.tracker.Summaries()})
}

// GetJob handles GET /api/v1/enrich/jobs/:id.
func (h *EnrichHandler) GetJob(c *gin.Context) {
	summary, err := h.tracker.Summary(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// JobEvents handles GET /api/v1/enrich/jobs/:id/events. The stream starts
// with a snapshot progress event; a finished job streams the snapshot and
// closes.
func (h *EnrichHandler) JobEvents(c *gin.Context) {
	events, cleanup, err := h.tracker.Subscribe(c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to subscribe to job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}
	defer cleanup()

	sse.StreamChannel(c, events, h.logger)
}
