package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"genify/middleware"
	"genify/services"
)

// maxWebhookBody matches the payload cap Stripe documents.
const maxWebhookBody = 65536

type returnURLRequest struct {
	ReturnURL string `json:"returnUrl"`
}

func (h *Handler) returnURL(c *gin.Context) string {
	var req returnURLRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReturnURL == "" {
		return c.GetHeader("Referer")
	}
	return req.ReturnURL
}

func (h *Handler) Checkout(c *gin.Context) {
	id, _ := middleware.UserID(c)
	returnURL := h.returnURL(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	url, err := h.Billing.Checkout(ctx, id, returnURL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) Portal(c *gin.Context) {
	id, _ := middleware.UserID(c)
	returnURL := h.returnURL(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	url, err := h.Billing.Portal(ctx, id, returnURL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// StripeWebhook verifies and applies a billing event. Anything but 2xx,
// 400 and 404 makes Stripe redeliver.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.badRequest(c, "Unable to read request body")
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	err = h.Billing.HandleWebhook(ctx, payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, services.ErrInvalidSignature):
		h.Log.Warn("stripe webhook rejected", zap.Error(err))
		h.badRequest(c, "Webhook signature verification failed")
	case errors.Is(err, services.ErrUserNotFound):
		h.Log.Warn("stripe webhook for unknown customer", zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		h.fail(c, err)
	}
}
