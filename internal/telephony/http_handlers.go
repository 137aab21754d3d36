package telephony

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"recovery-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerWebhookSecret = "X-Vapi-Secret"
	maxWebhookBody      = 2 << 20
)

// WebhookHandler authenticates voice provider webhooks and hands them to the
// Router. No business logic here.
type WebhookHandler struct {
	Router *Router
	// Secret is compared with the X-Vapi-Secret header. Empty disables the check.
	Secret string
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Router == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook router not configured"})
		return
	}
	if h.Secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(headerWebhookSecret)), []byte(h.Secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	ev, err := ParseEnvelope(body)
	if err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	reply, err := h.Router.Dispatch(c.Request.Context(), ev)
	if errors.Is(err, ErrUnroutable) {
		log.Warn("voice webhook without call job id", "type", ev.Type, "call_id", ev.Call.ID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if err != nil {
		_ = c.Error(err)
		log.Error("voice webhook failed", "type", ev.Type, "job_id", ev.CallJobID(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}
	if reply == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, reply)
}
