package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/metrics"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Reasons reported by a reconcile that found nothing to bill.
const (
	ReasonNoCustomer     = "no_customer"
	ReasonNoSubscription = "no_subscription"
)

// Reconcile triggers, used for metrics and logs.
const (
	TriggerSync    = "sync"
	TriggerPassive = "passive"
	TriggerWebhook = "webhook"
	TriggerAdmin   = "admin"
)

// AccountEnsurer creates the account row on first sight and returns it.
type AccountEnsurer interface {
	GetOrCreateAccount(ctx context.Context, email, name string) (*models.Account, error)
}

// Snapshot is the billing state written by one reconcile pass.
type Snapshot struct {
	Email                   string      `json:"email"`
	Plan                    models.Plan `json:"plan"`
	CustomerID              string      `json:"customer_id,omitempty"`
	SubscriptionID          string      `json:"subscription_id,omitempty"`
	SubscriptionStatus      string      `json:"subscription_status,omitempty"`
	CancelAtPeriodEnd       bool        `json:"cancel_at_period_end"`
	CancellationEffectiveAt *int64      `json:"cancellation_effective_at"`
	CurrentPeriodEnd        *int64      `json:"current_period_end"`
	PeriodStart             *int64      `json:"period_start,omitempty"`
	Reason                  string      `json:"reason,omitempty"`
}

// Reconciler derives each account's plan from the billing provider and caches it.
type Reconciler struct {
	provider Provider
	store    store.AccountStore
	accounts AccountEnsurer
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*emailLock
}

// emailLock serializes reconcile passes for one email.
type emailLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewReconciler constructs a Reconciler. provider may be nil when billing is disabled.
func NewReconciler(provider Provider, accountStore store.AccountStore, accounts AccountEnsurer, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		provider: provider,
		store:    accountStore,
		accounts: accounts,
		now:      now,
		locks:    make(map[string]*emailLock),
	}
}

// Enabled reports whether a billing provider is configured.
func (r *Reconciler) Enabled() bool {
	return r != nil && r.provider != nil
}

// Reconcile recomputes the billing fields of email from the provider.
// Calls for the same email run one at a time, each with its own provider reads.
func (r *Reconciler) Reconcile(ctx context.Context, email string) (Snapshot, error) {
	return r.reconcileWithTrigger(ctx, email, TriggerSync)
}

// ReconcileAs is Reconcile with an explicit trigger label.
func (r *Reconciler) ReconcileAs(ctx context.Context, email, trigger string) (Snapshot, error) {
	return r.reconcileWithTrigger(ctx, email, trigger)
}

// ReconcileBestEffort reconciles and only logs failures.
func (r *Reconciler) ReconcileBestEffort(ctx context.Context, email string) {
	if !r.Enabled() {
		return
	}
	if _, err := r.reconcileWithTrigger(ctx, email, TriggerPassive); err != nil {
		log.WithError(err).WithField("email", email).Warn("billing: passive reconcile failed")
	}
}

func (r *Reconciler) reconcileWithTrigger(ctx context.Context, email, trigger string) (Snapshot, error) {
	if !r.Enabled() {
		return Snapshot{}, ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Snapshot{}, fmt.Errorf("billing: missing email")
	}

	snapshot, err := r.reconcileLocked(ctx, email)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ReconcileTotal.WithLabelValues(trigger, outcome).Inc()
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

func (r *Reconciler) reconcileLocked(ctx context.Context, email string) (Snapshot, error) {
	lock := r.acquire(email)
	defer r.release(email, lock)
	if err := lock.sem.Acquire(ctx, 1); err != nil {
		return Snapshot{}, fmt.Errorf("billing: wait for reconcile: %w", err)
	}
	defer lock.sem.Release(1)
	return r.reconcile(ctx, email)
}

func (r *Reconciler) acquire(email string) *emailLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*emailLock)
	}
	lock, ok := r.locks[email]
	if !ok {
		lock = &emailLock{sem: semaphore.NewWeighted(1)}
		r.locks[email] = lock
	}
	lock.refs++
	return lock
}

func (r *Reconciler) release(email string, lock *emailLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, email)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, email string) (Snapshot, error) {
	account, err := r.accounts.GetOrCreateAccount(ctx, email, "")
	if err != nil {
		return Snapshot{}, err
	}

	customerID := deref(account.BillingCustomerID)
	if customerID == "" {
		customer, errFind := r.provider.FindCustomerByEmail(ctx, email)
		if errFind != nil {
			return Snapshot{}, unavailable("find customer", errFind)
		}
		if customer == nil {
			if errClear := r.store.ClearBilling(ctx, email, false); errClear != nil {
				return Snapshot{}, errClear
			}
			return Snapshot{Email: email, Plan: models.PlanFree, Reason: ReasonNoCustomer}, nil
		}
		customerID = customer.ID
		if errSet := r.store.SetCustomerID(ctx, email, customerID); errSet != nil {
			return Snapshot{}, errSet
		}
	}

	subs, err := r.provider.ListSubscriptions(ctx, customerID)
	if err != nil {
		return Snapshot{}, unavailable("list subscriptions", err)
	}
	best := PickBestSubscription(subs)
	if best == nil {
		if errClear := r.store.ClearBilling(ctx, email, false); errClear != nil {
			return Snapshot{}, errClear
		}
		return Snapshot{Email: email, Plan: models.PlanFree, CustomerID: customerID, Reason: ReasonNoSubscription}, nil
	}

	detail, err := r.provider.GetSubscription(ctx, best.ID)
	if err != nil {
		return Snapshot{}, unavailable("get subscription", err)
	}

	snapshot := Derive(*detail)
	snapshot.Email = email
	snapshot.CustomerID = customerID

	if errApply := r.store.ApplyBilling(ctx, email, store.BillingSnapshot{
		Plan:                    snapshot.Plan,
		SubscriptionID:          optional(snapshot.SubscriptionID),
		SubscriptionStatus:      optional(snapshot.SubscriptionStatus),
		CancelAtPeriodEnd:       snapshot.CancelAtPeriodEnd,
		CancellationEffectiveAt: snapshot.CancellationEffectiveAt,
		CurrentPeriodEnd:        snapshot.CurrentPeriodEnd,
		PeriodStart:             snapshot.PeriodStart,
		ReconciledAt:            r.now().UTC(),
	}); errApply != nil {
		return Snapshot{}, errApply
	}

	log.WithFields(log.Fields{
		"email":        email,
		"plan":         snapshot.Plan,
		"subscription": snapshot.SubscriptionID,
		"status":       snapshot.SubscriptionStatus,
	}).Debug("billing: reconciled")
	return snapshot, nil
}

// Derive maps a provider subscription onto the cached billing fields.
// Times are converted from seconds to milliseconds.
func Derive(sub Subscription) Snapshot {
	out := Snapshot{
		Plan:               PlanForStatus(sub.Status),
		SubscriptionID:     sub.ID,
		SubscriptionStatus: sub.Status,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:   millis(sub.CurrentPeriodEnd),
	}
	switch {
	case sub.CancelAt != nil:
		out.CancellationEffectiveAt = millis(sub.CancelAt)
	case sub.CancelAtPeriodEnd:
		out.CancellationEffectiveAt = millis(sub.CurrentPeriodEnd)
	}
	// Only a paid period may move the usage window; free derivations keep the stored one.
	if out.Plan.IsPaid() {
		out.PeriodStart = millis(sub.CurrentPeriodStart)
	}
	return out
}

// HandleSubscriptionTerminated downgrades the customer's account after the provider
// reports the subscription fully ended. It does not call back into the provider
// when the customer is already known.
func (r *Reconciler) HandleSubscriptionTerminated(ctx context.Context, customerID, subscriptionID string) error {
	email, err := r.emailForCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if email == "" {
		log.WithField("customer", customerID).Info("billing: terminated subscription for unknown customer ignored")
		return nil
	}
	if _, err = r.accounts.GetOrCreateAccount(ctx, email, ""); err != nil {
		return err
	}
	if err = r.store.SetCustomerID(ctx, email, customerID); err != nil {
		return err
	}
	applied, err := r.store.TerminateSubscription(ctx, email, subscriptionID)
	if err != nil {
		return err
	}
	if !applied {
		log.WithFields(log.Fields{
			"email":        email,
			"subscription": subscriptionID,
		}).Info("billing: terminated subscription is not the cached one, kept current plan")
	}
	return nil
}

// emailForCustomer resolves the account email for a customer, ledger first.
// It returns "" when the customer is deleted or has no email.
func (r *Reconciler) emailForCustomer(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", nil
	}
	email, err := r.store.EmailForCustomer(ctx, customerID)
	if err == nil {
		return email, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return "", err
	}
	if !r.Enabled() {
		return "", nil
	}
	email, err = r.provider.GetCustomerEmail(ctx, customerID)
	if err != nil {
		return "", unavailable("get customer", err)
	}
	return strings.ToLower(strings.TrimSpace(email)), nil
}

func millis(sec *int64) *int64 {
	if sec == nil {
		return nil
	}
	v := *sec * 1000
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
