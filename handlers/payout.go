package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"genify/middleware"
	"genify/models"
	"genify/services"
)

func (h *Handler) ListMyPayouts(c *gin.Context) {
	id, _ := middleware.UserID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	list, err := h.Payouts.ListForUser(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	eligible, err := h.Affiliates.IsEligibleForPayout(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []models.PayoutRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"payoutRequests": list,
		"isEligible":     eligible,
		"minimumPayout":  h.Payouts.Minimum(),
	}})
}

type payoutRequest struct {
	FullName      string `json:"fullName"`
	SortCode      string `json:"sortCode"`
	AccountNumber string `json:"accountNumber"`
}

func (h *Handler) CreatePayout(c *gin.Context) {
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Please provide all required fields")
		return
	}
	id, _ := middleware.UserID(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	p, err := h.Payouts.CreatePayoutRequest(ctx, id, services.BankDetails{
		FullName:      req.FullName,
		SortCode:      req.SortCode,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Payout request created successfully", "data": p})
}

// AdminListPayouts lists pending requests; ?status=approved,paid or
// ?status=all widens the filter.
func (h *Handler) AdminListPayouts(c *gin.Context) {
	var statuses []models.PayoutStatus
	switch raw := c.DefaultQuery("status", string(models.PayoutPending)); raw {
	case "all":
	default:
		for _, s := range strings.Split(raw, ",") {
			st := models.PayoutStatus(strings.TrimSpace(s))
			if !st.Valid() {
				h.badRequest(c, "Invalid status filter")
				return
			}
			statuses = append(statuses, st)
		}
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	list, err := h.Payouts.ListByStatus(ctx, statuses...)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []models.PayoutRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

type payoutStatusRequest struct {
	Status models.PayoutStatus `json:"status"`
	Notes  *string             `json:"notes"`
}

func (h *Handler) AdminUpdatePayout(c *gin.Context) {
	var req payoutStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid status")
		return
	}
	switch req.Status {
	case models.PayoutApproved, models.PayoutRejected, models.PayoutPaid:
	default:
		h.badRequest(c, "Invalid status")
		return
	}
	requestID, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payout request not found"})
		return
	}
	adminID, _ := middleware.UserID(c)

	ctx, cancel := h.ctx(c)
	defer cancel()
	p, err := h.Payouts.UpdatePayoutStatus(ctx, requestID, req.Status, adminID, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payout request updated successfully", "data": p})
}
