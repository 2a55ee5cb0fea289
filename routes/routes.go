package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"genify/handlers"
	"genify/middleware"
	"genify/services"
	"genify/websocket"
)

type Options struct {
	CORSOrigins []string
	// Limiter guards the public click and auth endpoints; nil disables it.
	Limiter middleware.Limiter
	Hub     *websocket.Hub
	Tokens  *services.TokenIssuer
	Log     *zap.Logger
}

func SetupRouter(h *handlers.Handler, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(opts.Log), middleware.Metrics())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     opts.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	limit := func(c *gin.Context) { c.Next() }
	if opts.Limiter != nil {
		limit = middleware.RateLimit(opts.Limiter, opts.Log)
	}
	auth := middleware.Auth(opts.Tokens)

	router.GET("/api/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ref/:code", limit, h.ReferralRedirect)

	api := router.Group("/api")

	// Public routes (no auth required)
	api.POST("/auth/register", limit, h.Register)
	api.POST("/auth/login", limit, h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/verify-email/:token", h.VerifyEmail)
	api.GET("/auth/session", h.Session)
	api.POST("/affiliate/click", limit, h.TrackClick)
	api.GET("/affiliate/click", limit, h.ClickRedirect)
	api.POST("/stripe/webhook", h.StripeWebhook)
	api.GET("/push/vapid-public-key", h.VAPIDPublicKey)

	protected := api.Group("")
	protected.Use(auth)
	protected.GET("/affiliate", h.AffiliateStats)
	protected.GET("/affiliate/payout", h.ListMyPayouts)
	protected.POST("/affiliate/payout", h.CreatePayout)
	protected.GET("/users/:id", h.GetUser)
	protected.GET("/subscription/check", h.SubscriptionCheck)
	protected.POST("/stripe/checkout", h.Checkout)
	protected.POST("/stripe/portal", h.Portal)
	protected.POST("/humanize", h.Humanize)
	protected.POST("/push/subscribe", h.SubscribePush)

	admin := api.Group("/admin")
	admin.Use(auth, middleware.RequireAdmin())
	admin.GET("/affiliate", h.AdminAffiliateStats)
	admin.GET("/payouts", h.AdminListPayouts)
	admin.PATCH("/payouts/:id", h.AdminUpdatePayout)

	if opts.Hub != nil {
		wsAuth := func(token string) (string, error) {
			claims, err := opts.Tokens.Parse(token)
			if err != nil {
				return "", err
			}
			return claims.UserID, nil
		}
		router.GET("/ws", gin.WrapF(opts.Hub.Handler(wsAuth, middleware.CookieName, originChecker(opts.CORSOrigins))))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})

	return router
}

// originChecker allows same-origin and configured browser origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
