package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/metrics"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	log "github.com/sirupsen/logrus"
)

// Decision is the outcome of a credit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Used      int
	Remaining int // -1 for unlimited plans.
}

// Engine enforces the free-tier monthly allowance.
type Engine struct {
	store        store.AccountStore
	now          func() time.Time
	defaultLimit int
}

// NewEngine constructs an Engine. A nil clock uses time.Now; a non-positive
// limit falls back to the default allowance.
func NewEngine(accounts store.AccountStore, now func() time.Time, defaultLimit int) *Engine {
	if now == nil {
		now = time.Now
	}
	if defaultLimit <= 0 {
		defaultLimit = settings.DefaultFreeCreditsPerMonth
	}
	return &Engine{store: accounts, now: now, defaultLimit: defaultLimit}
}

// DefaultLimit returns the allowance given to new accounts.
func (e *Engine) DefaultLimit() int {
	return e.defaultLimit
}

// StartOfMonth returns the first instant of t's calendar month, in t's location, as unix ms.
func StartOfMonth(t time.Time) int64 {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).UnixMilli()
}

// CurrentPeriodStart returns the period start for the engine clock.
func (e *Engine) CurrentPeriodStart() int64 {
	return StartOfMonth(e.now().Local())
}

// GetOrCreateAccount returns the account for email, creating it on first sight and
// rolling the usage window forward when a new calendar month has started.
func (e *Engine) GetOrCreateAccount(ctx context.Context, email, name string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("quota: missing email")
	}
	periodStart := e.CurrentPeriodStart()

	if err := e.store.EnsureAccount(ctx, store.AccountDefaults{
		Email:        email,
		Name:         name,
		CreditsLimit: e.defaultLimit,
		PeriodStart:  periodStart,
	}); err != nil {
		return nil, err
	}
	account, err := e.store.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	// Paid plans are unlimited and keep the period start written by billing.
	if account.PeriodStart == periodStart || account.Plan.IsPaid() {
		return account, nil
	}

	reset, err := e.store.ResetPeriod(ctx, email, periodStart)
	if err != nil {
		return nil, err
	}
	if reset {
		log.WithField("email", email).Debug("quota: usage period rolled over")
	}
	return e.store.Get(ctx, email)
}

// CanUseCredit reports whether account may run one more generation.
func (e *Engine) CanUseCredit(account *models.Account) Decision {
	if account == nil {
		return Decision{}
	}
	if account.Plan.IsPaid() {
		return Decision{Allowed: true, Limit: account.CreditsLimit, Used: account.CreditsUsed, Remaining: -1}
	}
	return Decision{
		Allowed:   account.CreditsUsed < account.CreditsLimit,
		Limit:     account.CreditsLimit,
		Used:      account.CreditsUsed,
		Remaining: account.Remaining(),
	}
}

// ConsumeCredit spends one credit outside Run.
// A free account that reached its limit in the meantime gets a *QuotaExhaustedError.
func (e *Engine) ConsumeCredit(ctx context.Context, account *models.Account) error {
	if account == nil {
		return fmt.Errorf("quota: nil account")
	}
	ok, err := e.store.ConsumeCredit(ctx, account.Email)
	if err != nil {
		return err
	}
	if !ok {
		return &QuotaExhaustedError{Limit: account.CreditsLimit}
	}
	metrics.CreditsConsumed.WithLabelValues(string(account.Plan)).Inc()
	return nil
}

// Run admits one generation by atomically taking a credit, runs work, and gives the
// credit back when work fails. Two requests racing for the last credit cannot both
// run work. The returned decision reflects the state after consumption.
func (e *Engine) Run(ctx context.Context, email, name string, work func(ctx context.Context) error) (Decision, error) {
	account, err := e.GetOrCreateAccount(ctx, email, name)
	if err != nil {
		return Decision{}, err
	}
	decision := e.CanUseCredit(account)
	if !decision.Allowed {
		metrics.CreditChecks.WithLabelValues("denied").Inc()
		return decision, &QuotaExhaustedError{Limit: decision.Limit}
	}

	ok, err := e.store.ConsumeCredit(ctx, account.Email)
	if err != nil {
		return decision, err
	}
	if !ok {
		metrics.CreditChecks.WithLabelValues("denied").Inc()
		return decision, &QuotaExhaustedError{Limit: account.CreditsLimit}
	}
	metrics.CreditChecks.WithLabelValues("allowed").Inc()

	if err = work(ctx); err != nil {
		e.refund(ctx, account)
		return decision, err
	}

	metrics.CreditsConsumed.WithLabelValues(string(account.Plan)).Inc()
	decision.Used++
	if decision.Remaining > 0 {
		decision.Remaining--
	}
	return decision, nil
}

// refund returns the credit taken for failed work. It outlives a cancelled request.
func (e *Engine) refund(ctx context.Context, account *models.Account) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := e.store.RefundCredit(refundCtx, account.Email, account.PeriodStart); err != nil {
		log.WithError(err).WithField("email", account.Email).Error("quota: refund credit failed")
	}
}
