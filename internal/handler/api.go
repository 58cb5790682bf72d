// Package handler exposes the operator control surface over HTTP: engine
// start/stop, status, queue inspection and destructive maintenance actions.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/bot"
	"github.com/umairimran/kaspaBot/internal/repository"
)

// Handler handles HTTP requests
type Handler struct {
	engine *bot.Engine
	store  *repository.Store
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(engine *bot.Engine, store *repository.Store, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/bot")
	{
		api.GET("/status", h.GetStatus)
		api.POST("/start", h.StartBot)
		api.POST("/stop", h.StopBot)

		api.GET("/queue", h.GetQueue)
		api.POST("/queue/clear", h.ClearQueue)
		api.POST("/queue/post-next", h.PostNext)

		api.GET("/interactions", h.GetInteractions)
		api.POST("/interactions/clear", h.ClearInteractions)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
}

// GetStatus returns the engine status snapshot
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  h.engine.Status(),
	})
}

// StartBot starts the poll loop. Idempotent.
func (h *Handler) StartBot(c *gin.Context) {
	state := h.engine.Start()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "bot is " + state.String(),
		"status":  state.String(),
	})
}

// StopBot stops the poll loop after its in-flight step completes.
func (h *Handler) StopBot(c *gin.Context) {
	state := h.engine.Stop()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "bot is " + state.String(),
		"status":  state.String(),
	})
}

// GetQueue returns all pending responses in posting order
func (h *Handler) GetQueue(c *gin.Context) {
	responses, err := h.store.ListQueue()
	if err != nil {
		h.logger.Error("Failed to list queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list queue"})
		return
	}

	stats, err := h.store.QueueStats()
	if err != nil {
		h.logger.Error("Failed to get queue stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to get queue stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"queue_stats":       stats,
		"pending_responses": responses,
	})
}

// ClearQueue discards all pending responses. Destructive.
func (h *Handler) ClearQueue(c *gin.Context) {
	cleared, err := h.store.ClearQueue()
	if err != nil {
		h.logger.Error("Failed to clear queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to clear queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "queue cleared",
		"removed": cleared,
	})
}

// PostNext forces one quota-checked post attempt outside the normal cycle
func (h *Handler) PostNext(c *gin.Context) {
	resp, err := h.engine.PostNext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "response posted",
		"posted":  resp,
	})
}

// GetInteractions returns the most recent interactions, newest first
func (h *Handler) GetInteractions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid limit"})
		return
	}

	interactions, err := h.store.RecentInteractions(limit)
	if err != nil {
		h.logger.Error("Failed to get interactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to get interactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"interactions": interactions,
		"total_count":  len(interactions),
	})
}

// ClearInteractions wipes the interaction log. Destructive.
func (h *Handler) ClearInteractions(c *gin.Context) {
	cleared, err := h.store.ClearInteractions()
	if err != nil {
		h.logger.Error("Failed to clear interactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to clear interactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "interaction history cleared",
		"removed": cleared,
	})
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "mention-bot",
	})
}
