package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/harvester/internal/database"
	"github.com/jonesrussell/harvester/internal/domain"
	"github.com/jonesrussell/harvester/internal/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ChannelsHandler handles channel listing, curation moves and blacklist
// import HTTP requests.
type ChannelsHandler struct {
	repo     database.ChannelRepositoryInterface
	importer Importer
	logger   logger.Interface
}

// NewChannelsHandler creates a new channels handler.
func NewChannelsHandler(repo database.ChannelRepositoryInterface, importer Importer, log logger.Interface) *ChannelsHandler {
	return &ChannelsHandler{
		repo:     repo,
		importer: importer,
		logger:   log,
	}
}

// List handles GET /api/v1/channels.
func (h *ChannelsHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	category := c.DefaultQuery("category", string(domain.CategoryActive))
	if !domain.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
		return
	}

	channels, total, err := h.repo.List(c.Request.Context(), database.ListChannelsParams{
		Search:   c.Query("search"),
		Category: domain.Category(category),
		Sort:     c.Query("sort"),
		Order:    c.Query("order"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.logger.Error("Failed to list channels", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list channels"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channels": channels,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// Get handles GET /api/v1/channels/:id.
func (h *ChannelsHandler) Get(c *gin.Context) {
	channel, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Channel not found"})
		return
	}
	c.JSON(http.StatusOK, channel)
}

// moveRequest is the bulk category move payload.
type moveRequest struct {
	ChannelIDs []string `json:"channel_ids" binding:"required"`
}

// Archive handles POST /api/v1/channels/archive.
func (h *ChannelsHandler) Archive(c *gin.Context) {
	h.move(c, domain.CategoryArchived)
}

// Blacklist handles POST /api/v1/channels/blacklist.
func (h *ChannelsHandler) Blacklist(c *gin.Context) {
	h.move(c, domain.CategoryBlacklisted)
}

// Restore handles POST /api/v1/channels/restore.
func (h *ChannelsHandler) Restore(c *gin.Context) {
	h.move(c, domain.CategoryActive)
}

// move runs an idempotent bulk category change. Channels already in the
// target category simply do not count as affected.
func (h *ChannelsHandler) move(c *gin.Context, category domain.Category) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ChannelIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_ids is required"})
		return
	}

	moved, err := h.repo.MoveCategory(c.Request.Context(), req.ChannelIDs, category)
	if err != nil {
		h.logger.Error("Failed to move channels", "category", category, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to move channels"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"affected":    len(moved),
		"channel_ids": moved,
	})
}

// ImportBlacklist handles POST /api/v1/blacklist/import. Accepts either a
// multipart "file" field or a raw CSV body; the import result is relayed
// verbatim.
func (h *ChannelsHandler) ImportBlacklist(c *gin.Context) {
	reader := c.Request.Body
	if file, _, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		reader = file
	}

	result, err := h.importer.Import(c.Request.Context(), reader)
	if err != nil {
		h.logger.Error("Blacklist import failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
