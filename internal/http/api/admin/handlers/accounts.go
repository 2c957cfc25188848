package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/http/api/respond"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
)

// AccountHandler manages account ledger endpoints for operators.
type AccountHandler struct {
	accounts   store.AccountStore
	engine     *quota.Engine
	reconciler *billing.Reconciler
	recorder   *usage.Recorder
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(accounts store.AccountStore, engine *quota.Engine, reconciler *billing.Reconciler, recorder *usage.Recorder) *AccountHandler {
	return &AccountHandler{accounts: accounts, engine: engine, reconciler: reconciler, recorder: recorder}
}

// accountListQuery defines query parameters for listing accounts.
type accountListQuery struct {
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
	Email string `form:"email"`
	Plan  string `form:"plan"`
}

// List returns accounts with paging and filters.
func (h *AccountHandler) List(c *gin.Context) {
	var q accountListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	rows, total, errList := h.accounts.List(c.Request.Context(), store.ListOptions{
		Query:  strings.TrimSpace(q.Email),
		Plan:   strings.ToLower(strings.TrimSpace(q.Plan)),
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list accounts failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, accountRow(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": out,
		"total":    total,
		"page":     q.Page,
		"limit":    q.Limit,
	})
}

// Get returns one account.
func (h *AccountHandler) Get(c *gin.Context) {
	account, errGet := h.accounts.Get(c.Request.Context(), c.Param("email"))
	if errGet != nil {
		respond.Error(c, errGet)
		return
	}
	c.JSON(http.StatusOK, accountRow(account))
}

// Emails returns the latest generations of an account.
func (h *AccountHandler) Emails(c *gin.Context) {
	email := c.Param("email")
	if _, errGet := h.accounts.Get(c.Request.Context(), email); errGet != nil {
		respond.Error(c, errGet)
		return
	}
	rows, errRecent := h.recorder.Recent(c.Request.Context(), email, 20)
	if errRecent != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list emails failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":                row.ID,
			"mode":              row.Mode,
			"type":              row.Type,
			"tone":              row.Tone,
			"language":          row.Language,
			"model":             row.Model,
			"prompt_tokens":     row.PromptTokens,
			"completion_tokens": row.CompletionTokens,
			"options":           row.Options,
			"created_at":        row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"emails": out})
}

// Reconcile forces a billing reconcile and reports failures.
func (h *AccountHandler) Reconcile(c *gin.Context) {
	email := c.Param("email")
	if _, errGet := h.accounts.Get(c.Request.Context(), email); errGet != nil {
		respond.Error(c, errGet)
		return
	}
	snapshot, errReconcile := h.reconciler.ReconcileAs(c.Request.Context(), email, billing.TriggerAdmin)
	if errReconcile != nil {
		respond.Error(c, errReconcile)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ResetCredits zeroes the current period's usage.
func (h *AccountHandler) ResetCredits(c *gin.Context) {
	email := c.Param("email")
	ctx := c.Request.Context()
	if errReset := h.accounts.ResetCredits(ctx, email); errReset != nil {
		respond.Error(c, errReset)
		return
	}
	account, errGet := h.engine.GetOrCreateAccount(ctx, email, "")
	if errGet != nil {
		respond.Error(c, errGet)
		return
	}
	c.JSON(http.StatusOK, accountRow(account))
}

func accountRow(account *models.Account) gin.H {
	return gin.H{
		"email":                     account.Email,
		"name":                      account.Name,
		"plan":                      account.Plan,
		"credits_used":              account.CreditsUsed,
		"credits_limit":             account.CreditsLimit,
		"remaining":                 account.Remaining(),
		"period_start":              account.PeriodStart,
		"billing_customer_id":       account.BillingCustomerID,
		"billing_subscription_id":   account.BillingSubscriptionID,
		"subscription_status":       account.SubscriptionStatus,
		"cancel_at_period_end":      account.CancelAtPeriodEnd,
		"cancellation_effective_at": account.CancellationEffectiveAt,
		"current_period_end":        account.CurrentPeriodEnd,
		"reconciled_at":             account.ReconciledAt,
		"created_at":                account.CreatedAt,
		"updated_at":                account.UpdatedAt,
	}
}
