package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"genify/middleware"
	"genify/services"
)

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

func (h *Handler) VAPIDPublicKey(c *gin.Context) {
	if h.Push == nil || !h.Push.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "VAPID public key not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": h.Push.PublicKey()})
}

func (h *Handler) SubscribePush(c *gin.Context) {
	if h.Push == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not available"})
		return
	}
	var req pushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err.Error())
		return
	}
	id, _ := middleware.UserID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Push.Subscribe(ctx, id, services.PushSubscribeInput{
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Push subscription saved successfully"})
}
