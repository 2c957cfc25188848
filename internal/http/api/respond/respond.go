// Package respond maps domain errors onto HTTP responses.
package respond

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/identity"
	"github.com/mailcoach-ai/mailcoach/internal/llm"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	log "github.com/sirupsen/logrus"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, quota.ErrQuotaExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, llm.ErrInvalidRequest), errors.Is(err, billing.ErrNoCustomer):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrCheckoutMismatch):
		return http.StatusForbidden
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrProviderUnavailable), errors.Is(err, billing.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, billing.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes the JSON error body for err and aborts the request.
func Error(c *gin.Context, err error) {
	status := Status(err)
	body := gin.H{"error": message(status, err)}

	var exhausted *quota.QuotaExhaustedError
	if errors.As(err, &exhausted) {
		body["errorCode"] = exhausted.Code()
		body["limit"] = exhausted.Limit
	} else if status == http.StatusPaymentRequired {
		body["errorCode"] = settings.LimitReachedCode
	}

	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func message(status int, err error) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPaymentRequired:
		return "free limit reached"
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return err.Error()
	case http.StatusBadGateway:
		return "upstream provider unavailable"
	case http.StatusServiceUnavailable:
		return "service not configured"
	default:
		if errors.Is(err, llm.ErrInvalidResponse) {
			return "invalid model response"
		}
		return "internal error"
	}
}
