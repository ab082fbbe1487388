package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/harvester/internal/logger"
)

// StatsHandler handles the aggregated status endpoint.
type StatsHandler struct {
	stats  StatsProvider
	logger logger.Interface
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats StatsProvider, log logger.Interface) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: log,
	}
}

// GetStats handles GET /api/v1/stats. The payload is computed fresh on every
// call; pollers use it to detect loop completions.
func (h *StatsHandler) GetStats(c *gin.Context) {
	stats, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
