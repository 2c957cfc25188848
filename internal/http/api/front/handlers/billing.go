package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/http/api/respond"
)

// BillingHandler serves subscription endpoints for the signed-in user.
type BillingHandler struct {
	reconciler *billing.Reconciler
	checkout   *billing.Checkout
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(reconciler *billing.Reconciler, checkout *billing.Checkout) *BillingHandler {
	return &BillingHandler{reconciler: reconciler, checkout: checkout}
}

// Sync reconciles the caller's plan with the billing provider.
func (h *BillingHandler) Sync(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	snapshot, errSync := h.reconciler.Reconcile(c.Request.Context(), who.Email)
	if errSync != nil {
		syncFailed(c, errSync)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CreateCheckout starts a hosted subscription checkout.
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	url, errCheckout := h.checkout.CreateCheckoutSession(c.Request.Context(), who.Email, who.Name)
	if errCheckout != nil {
		respond.Error(c, errCheckout)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ConfirmCheckout reconciles after the provider redirects back from checkout.
func (h *BillingHandler) ConfirmCheckout(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session_id"})
		return
	}
	snapshot, errConfirm := h.checkout.ConfirmCheckout(c.Request.Context(), who.Email, sessionID)
	if errConfirm != nil {
		if errors.Is(errConfirm, billing.ErrCheckoutMismatch) {
			respond.Error(c, errConfirm)
			return
		}
		syncFailed(c, errConfirm)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Portal returns a billing portal link.
func (h *BillingHandler) Portal(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	url, errPortal := h.checkout.CreatePortalSession(c.Request.Context(), who.Email)
	if errPortal != nil {
		respond.Error(c, errPortal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// syncFailed reports an explicitly requested reconcile failure as a gateway error.
func syncFailed(c *gin.Context, err error) {
	if errors.Is(err, billing.ErrNotConfigured) {
		respond.Error(c, err)
		return
	}
	respond.Error(c, errors.Join(billing.ErrProviderUnavailable, err))
}
