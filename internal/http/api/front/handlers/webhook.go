package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const webhookBodyLimit = 1024 * 1024

// WebhookHandler verifies and applies billing provider events.
type WebhookHandler struct {
	secret     string
	reconciler *billing.Reconciler
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(secret string, reconciler *billing.Reconciler) *WebhookHandler {
	return &WebhookHandler{secret: strings.TrimSpace(secret), reconciler: reconciler}
}

// Handle verifies the signature header and dispatches the event.
func (h *WebhookHandler) Handle(c *gin.Context) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if h.secret == "" || !h.reconciler.Enabled() {
		status = http.StatusServiceUnavailable
		c.JSON(status, gin.H{"error": "webhook not configured"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		status = http.StatusBadRequest
		c.JSON(status, gin.H{"error": "failed to read request body"})
		return
	}

	signature := strings.TrimSpace(c.GetHeader("Stripe-Signature"))
	if signature == "" {
		status = http.StatusBadRequest
		c.JSON(status, gin.H{"error": "missing signature"})
		return
	}

	event, errEvent := billing.ConstructEvent(payload, signature, h.secret)
	if errEvent != nil {
		status = http.StatusBadRequest
		c.JSON(status, gin.H{"error": "invalid signature"})
		return
	}
	eventType = string(event.Type)

	if errHandle := h.reconciler.HandleEvent(c.Request.Context(), event); errHandle != nil {
		log.WithError(errHandle).WithFields(log.Fields{
			"event_id": event.ID,
			"type":     event.Type,
		}).Error("billing webhook processing failed")
		status = http.StatusInternalServerError
		c.JSON(status, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
