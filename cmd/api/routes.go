package main

import (
	"context"
	"net/http"

	"recovery-caller/internal/httpapi"
	"recovery-caller/internal/rbac"
	"recovery-caller/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW       gin.HandlerFunc
	voiceWebhook telephony.WebhookHandler
	api          httpapi.Handlers
	ready        func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.ready != nil {
			if err := d.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks authenticate themselves (shared secret, signature).
	r.POST("/webhooks/voice", d.voiceWebhook.Handle)
	r.POST("/webhooks/stripe", d.api.StripeWebhook)

	// Scheduler entry point. The scheduler role is hidden and must be opted in.
	internal := r.Group("/internal")
	internal.Use(d.authMW, rbac.RequireAnyRole(rbac.RoleScheduler))
	{
		internal.POST("/sweep", d.api.Sweep)
	}

	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		shops := v1.Group("/admin/shops/:shop")
		shops.Use(rbac.RequireShopScope("shop"), rbac.RequireAnyRole(rbac.RoleOperator))
		{
			shops.GET("/billing", d.api.GetBilling)
			shops.GET("/usage", d.api.GetUsage)
			shops.GET("/calls", d.api.GetCalls)
			shops.POST("/subscription", d.api.StartSubscription)
		}
	}
}
