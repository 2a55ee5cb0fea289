package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"genify/middleware"
	"genify/models"
)

func parseID(hex string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(hex)
	return id, err == nil
}

// geoFromHeaders reads the visitor location set by the CDN, if any.
func geoFromHeaders(c *gin.Context) *models.Geo {
	country := c.GetHeader("CF-IPCountry")
	city := c.GetHeader("CF-IPCity")
	if country == "" && city == "" {
		return nil
	}
	return &models.Geo{Country: country, City: city}
}

func userAgent(c *gin.Context) string {
	if ua := c.Request.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

// trackClick records the visit. Failures never stop the visitor.
func (h *Handler) trackClick(c *gin.Context, code string) bool {
	ctx, cancel := h.ctx(c)
	defer cancel()
	tracked, err := h.Affiliates.TrackClick(ctx, code, c.ClientIP(), userAgent(c), geoFromHeaders(c))
	if err != nil {
		h.Log.Warn("track affiliate click", zap.String("code", code), zap.Error(err))
		return false
	}
	return tracked
}

func (h *Handler) setReferralCookie(c *gin.Context, code string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ReferralCookie, code, int(h.ReferralCookieTTL.Seconds()), "/", "", h.SecureCookies, false)
}

// localPath keeps click redirects on this site.
func localPath(to string) string {
	if !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.Contains(to, `\`) {
		return "/"
	}
	return to
}

// ReferralRedirect is the public referral link /ref/:code.
func (h *Handler) ReferralRedirect(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.Redirect(http.StatusTemporaryRedirect, h.AppURL+"/")
		return
	}
	h.trackClick(c, code)
	h.setReferralCookie(c, code)
	c.Redirect(http.StatusTemporaryRedirect, h.AppURL+"/")
}

// ClickRedirect tracks ?ref= and forwards to ?to=. A signup target gets the
// code appended so the form can prefill it.
func (h *Handler) ClickRedirect(c *gin.Context) {
	code := c.Query("ref")
	if code == "" {
		c.Redirect(http.StatusTemporaryRedirect, h.AppURL+"/")
		return
	}
	h.trackClick(c, code)
	h.setReferralCookie(c, code)

	target, err := url.Parse(localPath(c.DefaultQuery("to", "/")))
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	if strings.Contains(target.Path, "/signup") {
		q := target.Query()
		q.Set("ref", code)
		target.RawQuery = q.Encode()
	}
	c.Redirect(http.StatusTemporaryRedirect, h.AppURL+target.String())
}

type clickRequest struct {
	ReferralCode string `json:"referralCode"`
}

func (h *Handler) TrackClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReferralCode == "" {
		h.badRequest(c, "Referral code is required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tracked": h.trackClick(c, req.ReferralCode)})
}

// AffiliateStats returns the caller's dashboard, creating the ledger on
// first visit.
func (h *Handler) AffiliateStats(c *gin.Context) {
	id, _ := middleware.UserID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	stats, err := h.Affiliates.Stats(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) AdminAffiliateStats(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	stats, err := h.Affiliates.AdminStats(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
