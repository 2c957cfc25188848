package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailcoach-ai/mailcoach/internal/store"
	log "github.com/sirupsen/logrus"
)

// Checkout creates hosted checkout and portal sessions for accounts.
type Checkout struct {
	reconciler *Reconciler
	appURL     string
	priceID    string
}

// NewCheckout constructs a Checkout bound to the reconciler's provider and store.
func NewCheckout(reconciler *Reconciler, appURL, priceID string) *Checkout {
	return &Checkout{
		reconciler: reconciler,
		appURL:     strings.TrimRight(strings.TrimSpace(appURL), "/"),
		priceID:    strings.TrimSpace(priceID),
	}
}

// SuccessURL is where the provider redirects after a completed checkout.
func (c *Checkout) SuccessURL() string {
	return c.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is where the provider redirects after an abandoned checkout.
func (c *Checkout) CancelURL() string {
	return c.appURL + "/billing"
}

// PortalReturnURL brings the user back with a sync request.
func (c *Checkout) PortalReturnURL() string {
	return c.appURL + "/?sync=1"
}

// EnsureCustomer returns the account's billing customer, creating it at most once.
func (c *Checkout) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	r := c.reconciler
	if !r.Enabled() {
		return "", ErrNotConfigured
	}
	account, err := r.accounts.GetOrCreateAccount(ctx, email, name)
	if err != nil {
		return "", err
	}
	if id := deref(account.BillingCustomerID); id != "" {
		return id, nil
	}

	customer, err := r.provider.FindCustomerByEmail(ctx, account.Email)
	if err != nil {
		return "", unavailable("find customer", err)
	}
	if customer == nil {
		if customer, err = r.provider.CreateCustomer(ctx, account.Email, name); err != nil {
			return "", unavailable("create customer", err)
		}
	}
	if err = r.store.SetCustomerID(ctx, account.Email, customer.ID); err != nil {
		return "", err
	}

	// A concurrent request may have stored a different customer first.
	stored, err := r.store.Get(ctx, account.Email)
	if err != nil {
		return "", err
	}
	if id := deref(stored.BillingCustomerID); id != "" {
		return id, nil
	}
	return customer.ID, nil
}

// CreateCheckoutSession starts a subscription checkout and returns its URL.
func (c *Checkout) CreateCheckoutSession(ctx context.Context, email, name string) (string, error) {
	if !c.reconciler.Enabled() || c.priceID == "" {
		return "", ErrNotConfigured
	}
	customerID, err := c.EnsureCustomer(ctx, email, name)
	if err != nil {
		return "", err
	}
	session, err := c.reconciler.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: customerID,
		Email:      strings.ToLower(strings.TrimSpace(email)),
		PriceID:    c.priceID,
		SuccessURL: c.SuccessURL(),
		CancelURL:  c.CancelURL(),
	})
	if err != nil {
		return "", unavailable("create checkout session", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("%w: checkout session has no url", ErrProviderUnavailable)
	}
	return session.URL, nil
}

// ConfirmCheckout verifies a finished checkout belongs to email and reconciles the account.
func (c *Checkout) ConfirmCheckout(ctx context.Context, email, sessionID string) (Snapshot, error) {
	r := c.reconciler
	if !r.Enabled() {
		return Snapshot{}, ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))
	session, err := r.provider.GetCheckoutSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return Snapshot{}, unavailable("get checkout session", err)
	}
	account, err := r.accounts.GetOrCreateAccount(ctx, email, "")
	if err != nil {
		return Snapshot{}, err
	}
	if !sessionBelongsTo(session, email, deref(account.BillingCustomerID)) {
		return Snapshot{}, ErrCheckoutMismatch
	}
	if session.CustomerID != "" {
		if err = r.store.SetCustomerID(ctx, email, session.CustomerID); err != nil {
			return Snapshot{}, err
		}
	}
	return r.ReconcileAs(ctx, email, TriggerSync)
}

// CreatePortalSession returns a billing portal URL for an account with a customer.
func (c *Checkout) CreatePortalSession(ctx context.Context, email string) (string, error) {
	r := c.reconciler
	if !r.Enabled() {
		return "", ErrNotConfigured
	}
	account, err := r.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return "", ErrNoCustomer
		}
		return "", err
	}
	customerID := deref(account.BillingCustomerID)
	if customerID == "" {
		return "", ErrNoCustomer
	}
	url, err := r.provider.CreatePortalSession(ctx, customerID, c.PortalReturnURL())
	if err != nil {
		return "", unavailable("create portal session", err)
	}
	return url, nil
}

func sessionBelongsTo(session *CheckoutSession, email, customerID string) bool {
	if session == nil {
		return false
	}
	candidates := []string{session.ClientReferenceID, session.Metadata["email"], session.Details.Email}
	for _, candidate := range candidates {
		if strings.EqualFold(strings.TrimSpace(candidate), email) {
			return true
		}
	}
	return customerID != "" && session.CustomerID == customerID
}

// applyCheckoutDetails copies checkout contact details onto the customer; failures are logged.
func (r *Reconciler) applyCheckoutDetails(ctx context.Context, customerID string, details CustomerDetails) {
	if customerID == "" || (strings.TrimSpace(details.Name) == "" && details.Address == nil) {
		return
	}
	if err := r.provider.UpdateCustomerDetails(ctx, customerID, details); err != nil {
		log.WithError(err).WithField("customer", customerID).Warn("billing: copy checkout details to customer failed")
	}
}
