package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"genify/middleware"
)

type humanizeRequest struct {
	Text string `json:"text"`
}

// Humanize is open to active subscribers and users inside their trial.
func (h *Handler) Humanize(c *gin.Context) {
	var req humanizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		h.badRequest(c, "Text is required and must be a string")
		return
	}

	id, _ := middleware.UserID(c)
	ctx, cancel := h.ctx(c)
	active, _, err := h.Auth.HasActiveSubscription(ctx, id)
	cancel()
	if err != nil {
		h.fail(c, err)
		return
	}
	if !active {
		c.JSON(http.StatusForbidden, gin.H{"error": "An active subscription or trial is required"})
		return
	}

	// Polling the upstream API outlives the default request timeout.
	hctx, hcancel := context.WithTimeout(c.Request.Context(), h.HumanizeTimeout)
	defer hcancel()
	res, err := h.Humanizer.Humanize(hctx, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
