// Package handlers exposes the services over HTTP with gin.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"genify/services"
)

const (
	requestTimeout = 10 * time.Second
	// ReferralCookie carries the last referral code a visitor arrived with.
	ReferralCookie = "affiliate_ref"
)

// Deps are the collaborators a Handler serves.
type Deps struct {
	Auth       *services.AuthService
	Tokens     *services.TokenIssuer
	Affiliates *services.AffiliateService
	Payouts    *services.PayoutService
	Billing    *services.BillingService
	Humanizer  *services.HumanizerService
	Push       *services.PushNotifier
	// Ping reports backing store health; nil skips the check.
	Ping func(ctx context.Context) error
	Log  *zap.Logger

	AppURL            string
	SecureCookies     bool
	ReferralCookieTTL time.Duration
	HumanizeTimeout   time.Duration
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.HumanizeTimeout <= 0 {
		d.HumanizeTimeout = time.Minute
	}
	return &Handler{Deps: d}
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// fail maps a service error onto a JSON error response.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "Something went wrong"
	var upstream *services.UpstreamError
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidBankDetails):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrNotEligible):
		status, msg = http.StatusBadRequest, "You are not eligible for a payout at this time"
	case errors.Is(err, services.ErrNoBillingCustomer):
		status, msg = http.StatusBadRequest, "No Stripe customer found for this user"
	case errors.Is(err, services.ErrEmailTaken):
		status, msg = http.StatusConflict, "User with this email already exists"
	case errors.Is(err, services.ErrInvalidTransition):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, services.ErrInvalidToken):
		status, msg = http.StatusUnauthorized, "Invalid or expired session"
	case errors.Is(err, services.ErrNotVerified):
		status, msg = http.StatusForbidden, "Email not verified"
	case errors.Is(err, services.ErrPayoutNotFound):
		status, msg = http.StatusNotFound, "Payout request not found"
	case errors.Is(err, services.ErrUserNotFound):
		status, msg = http.StatusNotFound, "User not found"
	case errors.Is(err, services.ErrHumanizeTimeout):
		status, msg = http.StatusRequestTimeout, "Processing timed out"
	case errors.As(err, &upstream):
		status, msg = upstream.Status, upstream.Message
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "Request timed out"
	}
	if status >= 500 {
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// Health answers liveness checks.
func (h *Handler) Health(c *gin.Context) {
	if h.Ping != nil {
		ctx, cancel := h.ctx(c)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			h.Log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "time": time.Now().Unix()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Genify API is running",
		"time":    time.Now().Unix(),
	})
}
