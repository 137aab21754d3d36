package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"recovery-caller/internal/billing"
	"recovery-caller/internal/reporting"
	"recovery-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

func (h Handlers) GetBilling(c *gin.Context) {
	if h.Billing == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}
	b, err := h.Billing.GetShopBilling(c.Request.Context(), c.Param("shop"))
	if err != nil {
		logger.FromGin(c).Error("billing lookup failed", "shop", c.Param("shop"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing lookup failed"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h Handlers) GetUsage(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	r, err := parseRange(c, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.UsageSummary(c.Request.Context(), c.Param("shop"), r)
	if err != nil {
		writeReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetCalls(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	r, err := parseRange(c, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), c.Param("shop"), r)
	if err != nil {
		writeReportError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func writeReportError(c *gin.Context, err error) {
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.FromGin(c).Error("report failed", "shop", c.Param("shop"), "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
}

// parseRange reads ?from=&to= as RFC3339 timestamps or YYYY-MM-DD dates. The
// default is the current UTC calendar month up to now.
func parseRange(c *gin.Context, now time.Time) (reporting.TimeRange, error) {
	now = now.UTC()
	r := reporting.TimeRange{
		From: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		To:   now,
	}
	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return reporting.TimeRange{}, fmt.Errorf("invalid from: %w", err)
		}
		r.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return reporting.TimeRange{}, fmt.Errorf("invalid to: %w", err)
		}
		r.To = t
	}
	if !r.Valid() {
		return reporting.TimeRange{}, errors.New("to must be after from")
	}
	return r, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, v)
}

type startSubscriptionRequest struct {
	Plan       string `json:"plan" binding:"required,oneof=STARTER PRO SCALE PAYG"`
	CouponCode string `json:"coupon_code" binding:"omitempty,max=64"`
}

// StartSubscription creates a pending subscription and returns where the
// merchant confirms it.
// RBAC: operator or super_admin, scoped to the shop.
func (h Handlers) StartSubscription(c *gin.Context) {
	if h.Subscriptions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "subscriptions not configured"})
		return
	}
	shop := c.Param("shop")

	var req startSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.CouponCode = strings.TrimSpace(req.CouponCode)

	res, err := h.Subscriptions.Start(c.Request.Context(), shop, billing.Plan(req.Plan), req.CouponCode)
	switch {
	case errors.Is(err, billing.ErrInvalidCoupon), errors.Is(err, billing.ErrUnknownPlan), errors.Is(err, billing.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.FromGin(c).Error("start subscription failed", "shop", shop, "plan", req.Plan, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "subscription provider failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogSubscriptionStarted(c.Request.Context(), actorFrom(c), shop, req.Plan, req.CouponCode); err != nil {
			logger.FromGin(c).Warn("audit subscription failed", "err", err)
		}
	}
	c.JSON(http.StatusCreated, res)
}
