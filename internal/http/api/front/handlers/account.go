package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/http/api/respond"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
)

// profilePeriod is the display length of a usage period.
const profilePeriod = 30 * 24 * time.Hour

// AccountHandler serves the signed-in user's account endpoints.
type AccountHandler struct {
	engine     *quota.Engine
	reconciler *billing.Reconciler
	recorder   *usage.Recorder
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(engine *quota.Engine, reconciler *billing.Reconciler, recorder *usage.Recorder) *AccountHandler {
	return &AccountHandler{engine: engine, reconciler: reconciler, recorder: recorder}
}

// Me returns the account, refreshing billing first when a customer is already known.
func (h *AccountHandler) Me(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	ctx := c.Request.Context()
	account, errAccount := h.engine.GetOrCreateAccount(ctx, who.Email, who.Name)
	if errAccount != nil {
		respond.Error(c, errAccount)
		return
	}
	if account.BillingCustomerID != nil && h.reconciler.Enabled() {
		h.reconciler.ReconcileBestEffort(ctx, who.Email)
		if refreshed, errRefresh := h.engine.GetOrCreateAccount(ctx, who.Email, who.Name); errRefresh == nil {
			account = refreshed
		}
	}
	c.JSON(http.StatusOK, accountBody(account))
}

// Usage returns the credit counters of the current period.
func (h *AccountHandler) Usage(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	account, errAccount := h.engine.GetOrCreateAccount(c.Request.Context(), who.Email, who.Name)
	if errAccount != nil {
		respond.Error(c, errAccount)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":          account.Plan,
		"credits_used":  account.CreditsUsed,
		"credits_limit": account.CreditsLimit,
		"remaining":     account.Remaining(),
		"period_start":  account.PeriodStart,
	})
}

// Profile returns the dashboard summary including lifetime generation count.
func (h *AccountHandler) Profile(c *gin.Context) {
	who, errIdentity := sessionIdentity(c)
	if errIdentity != nil {
		respond.Error(c, errIdentity)
		return
	}
	ctx := c.Request.Context()
	account, errAccount := h.engine.GetOrCreateAccount(ctx, who.Email, who.Name)
	if errAccount != nil {
		respond.Error(c, errAccount)
		return
	}
	total, errCount := h.recorder.Count(ctx, who.Email)
	if errCount != nil {
		respond.Error(c, errCount)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plan":                      account.Plan,
		"credits_used":              account.CreditsUsed,
		"credits_limit":             account.CreditsLimit,
		"remaining":                 account.Remaining(),
		"total_emails":              total,
		"period_start":              account.PeriodStart,
		"period_end":                account.PeriodStart + profilePeriod.Milliseconds(),
		"subscription_status":       account.SubscriptionStatus,
		"cancel_at_period_end":      account.CancelAtPeriodEnd,
		"cancellation_effective_at": account.CancellationEffectiveAt,
	})
}

func accountBody(account *models.Account) gin.H {
	return gin.H{
		"email":                     account.Email,
		"name":                      account.Name,
		"plan":                      account.Plan,
		"credits_used":              account.CreditsUsed,
		"credits_limit":             account.CreditsLimit,
		"remaining":                 account.Remaining(),
		"period_start":              account.PeriodStart,
		"has_billing_customer":      account.BillingCustomerID != nil,
		"subscription_status":       account.SubscriptionStatus,
		"cancel_at_period_end":      account.CancelAtPeriodEnd,
		"cancellation_effective_at": account.CancellationEffectiveAt,
		"current_period_end":        account.CurrentPeriodEnd,
		"reconciled_at":             account.ReconciledAt,
	}
}
