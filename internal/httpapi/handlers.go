package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"recovery-caller/internal/audit"
	"recovery-caller/internal/auth"
	"recovery-caller/internal/billing"
	"recovery-caller/internal/calls"
	"recovery-caller/internal/reporting"
	"recovery-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time, batchLimit int) (calls.SweepResult, error)
}

type BillingReader interface {
	GetShopBilling(ctx context.Context, shop string) (billing.ShopBilling, error)
}

type SubscriptionService interface {
	Start(ctx context.Context, shop string, plan billing.Plan, couponCode string) (billing.SubscriptionResult, error)
	HandleEvent(ctx context.Context, ev billing.SubscriptionEvent) error
}

type Reports interface {
	CallsSummary(ctx context.Context, shop string, r reporting.TimeRange) (reporting.CallsSummary, error)
	UsageSummary(ctx context.Context, shop string, r reporting.TimeRange) (reporting.UsageSummary, error)
}

// Auditor is best-effort; failures are logged and never fail the request.
type Auditor interface {
	LogSweep(ctx context.Context, actor audit.Actor, limit, claimed int) error
	LogSubscriptionStarted(ctx context.Context, actor audit.Actor, shop, plan, coupon string) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sweeper       Sweeper
	Billing       BillingReader
	Subscriptions SubscriptionService
	Reports       Reports
	Audit         Auditor

	// DefaultSweepLimit applies when the sweep request has no limit.
	DefaultSweepLimit int

	StripeWebhookSecret string
	// ParseStripeEvent defaults to billing.ParseStripeEvent.
	ParseStripeEvent func(payload []byte, signature, secret string) (billing.SubscriptionEvent, error)

	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func actorFrom(c *gin.Context) audit.Actor {
	subject, _ := auth.Subject(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{Subject: subject, Role: role, IP: c.ClientIP()}
}

// --- Scheduler ---

type sweepRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=1000"`
}

// Sweep runs one dispatcher sweep. Called by an external scheduler.
// RBAC: scheduler or super_admin.
func (h Handlers) Sweep(c *gin.Context) {
	if h.Sweeper == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = h.DefaultSweepLimit
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	res, err := h.Sweeper.RunSweep(c.Request.Context(), h.now().UTC(), req.Limit)
	if err != nil {
		logger.FromGin(c).Error("sweep failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogSweep(c.Request.Context(), actorFrom(c), req.Limit, res.Processed); err != nil {
			logger.FromGin(c).Warn("audit sweep failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// --- Stripe ---

// StripeWebhook applies subscription notifications. Signature failures are
// 400 so the provider surfaces them; processing failures are 500 so it retries.
func (h Handlers) StripeWebhook(c *gin.Context) {
	if h.Subscriptions == nil || h.StripeWebhookSecret == "" {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stripe not configured"})
		return
	}
	log := logger.FromGin(c)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	parse := h.ParseStripeEvent
	if parse == nil {
		parse = billing.ParseStripeEvent
	}
	ev, err := parse(payload, c.GetHeader("Stripe-Signature"), h.StripeWebhookSecret)
	if err != nil {
		log.Warn("stripe webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}
	if ev.SubscriptionID == "" {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if err := h.Subscriptions.HandleEvent(c.Request.Context(), ev); err != nil {
		log.Error("stripe webhook failed", "type", ev.Type, "subscription_id", ev.SubscriptionID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
