package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"genify/middleware"
	"genify/services"
)

type registerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referralCode"`
}

// Register creates an unverified account with a trial. A referral code in
// the body wins over the referral cookie.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body")
		return
	}
	if req.ReferralCode == "" {
		req.ReferralCode, _ = c.Cookie(ReferralCookie)
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.Auth.Register(ctx, services.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Referred {
		h.clearCookie(c, ReferralCookie, false)
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "User created successfully. Please check your email to verify your account.",
		"user":      res.User.Safe(),
		"emailSent": res.EmailSent,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body")
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	u, token, err := h.Auth.Login(ctx, req.Email, req.Password)
	if errors.Is(err, services.ErrNotVerified) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Please verify your email address. A new verification email has been sent."})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.CookieName, token, int(h.Tokens.TTL().Seconds()), "/", "", h.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user": u.Safe()})
}

func (h *Handler) Logout(c *gin.Context) {
	h.clearCookie(c, middleware.CookieName, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) clearCookie(c *gin.Context, name string, httpOnly bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", h.SecureCookies, httpOnly)
}

// VerifyEmail is the link target in verification emails; it always
// redirects to the login page with the outcome.
func (h *Handler) VerifyEmail(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	target := "/login?success=email-verified"
	if err := h.Auth.VerifyEmail(ctx, c.Param("token")); err != nil {
		if errors.Is(err, services.ErrInvalidToken) {
			target = "/login?error=invalid-or-expired-token"
		} else {
			h.Log.Error("verify email", zap.Error(err))
			target = "/login?error=verification-failed"
		}
	}
	c.Redirect(http.StatusTemporaryRedirect, h.AppURL+target)
}

// Session returns the signed-in user, or user:null with 401. An unverified
// user is signed out.
func (h *Handler) Session(c *gin.Context) {
	token := middleware.TokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
		return
	}
	claims, err := h.Tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
		return
	}
	id, ok := parseID(claims.UserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	u, err := h.Auth.Session(ctx, id)
	switch {
	case errors.Is(err, services.ErrNotVerified):
		h.clearCookie(c, middleware.CookieName, true)
		c.JSON(http.StatusForbidden, gin.H{"user": nil, "error": "Email not verified"})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"user": nil})
	case err != nil:
		h.fail(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"user": u.Safe()})
	}
}

// GetUser returns a user's public data to that user or an admin.
func (h *Handler) GetUser(c *gin.Context) {
	caller, _ := middleware.UserID(c)
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if id != caller && !c.GetBool(middleware.KeyIsAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only access your own user data"})
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	u, err := h.Auth.User(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": u.Safe()})
}

func (h *Handler) SubscriptionCheck(c *gin.Context) {
	id, _ := middleware.UserID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	active, _, err := h.Auth.HasActiveSubscription(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "No active subscription or trial"
	if active {
		msg = "Active subscription or trial"
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "message": msg})
}
