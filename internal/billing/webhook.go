package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mailcoach-ai/mailcoach/internal/identity"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	log "github.com/sirupsen/logrus"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types handled by the service.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ConstructEvent verifies the signature header and decodes the event.
func ConstructEvent(payload []byte, signature, secret string) (stripelib.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// checkoutSessionEvent is the subset of a checkout.session object used by the service.
type checkoutSessionEvent struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	CustomerEmail     string            `json:"customer_email"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email   string   `json:"email"`
		Name    string   `json:"name"`
		Address *Address `json:"address"`
	} `json:"customer_details"`
}

// subscriptionEvent is the subset of a subscription object used by the service.
type subscriptionEvent struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

// HandleEvent applies a verified provider event. A returned error asks the provider to retry.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripelib.Event) error {
	if !r.Enabled() {
		return ErrNotConfigured
	}
	if event.Data == nil {
		return fmt.Errorf("billing: event %s has no data", event.ID)
	}
	switch string(event.Type) {
	case EventCheckoutCompleted:
		var session checkoutSessionEvent
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("billing: decode checkout.session: %w", err)
		}
		return r.handleCheckoutCompleted(ctx, session)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub subscriptionEvent
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription: %w", err)
		}
		return r.handleSubscriptionChanged(ctx, sub)

	case EventSubscriptionDeleted:
		var sub subscriptionEvent
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription: %w", err)
		}
		return r.HandleSubscriptionTerminated(ctx, sub.Customer, sub.ID)

	default:
		log.WithFields(log.Fields{
			"type":     event.Type,
			"event_id": event.ID,
		}).Info("billing: webhook ignored (unhandled type)")
		return nil
	}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, session checkoutSessionEvent) error {
	details := CustomerDetails{}
	if d := session.CustomerDetails; d != nil {
		details = CustomerDetails{Email: d.Email, Name: d.Name, Address: d.Address}
	}

	// The reference and metadata are set by this service at checkout creation; the
	// payer's own details may name another mailbox.
	email := firstValidEmail(session.ClientReferenceID, session.Metadata["email"])
	if email == "" {
		linked, err := r.ledgerEmail(ctx, session.Customer)
		if err != nil {
			return err
		}
		email = linked
	}
	if email == "" {
		email = firstValidEmail(details.Email, session.CustomerEmail)
	}
	if email == "" {
		resolved, err := r.emailForCustomer(ctx, session.Customer)
		if err != nil {
			return err
		}
		email = resolved
	}
	if email == "" {
		log.WithField("session", session.ID).Warn("billing: checkout completed without a resolvable email")
		return nil
	}

	if _, err := r.accounts.GetOrCreateAccount(ctx, email, details.Name); err != nil {
		return err
	}
	if customerID := strings.TrimSpace(session.Customer); customerID != "" {
		if err := r.store.SetCustomerID(ctx, email, customerID); err != nil {
			return err
		}
		r.applyCheckoutDetails(ctx, customerID, details)
	}
	_, err := r.ReconcileAs(ctx, email, TriggerWebhook)
	return err
}

func (r *Reconciler) handleSubscriptionChanged(ctx context.Context, sub subscriptionEvent) error {
	email, err := r.emailForCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if email == "" {
		log.WithFields(log.Fields{
			"customer":     sub.Customer,
			"subscription": sub.ID,
		}).Info("billing: subscription event for deleted or anonymous customer ignored")
		return nil
	}
	if _, err = r.accounts.GetOrCreateAccount(ctx, email, ""); err != nil {
		return err
	}
	if err = r.store.SetCustomerID(ctx, email, sub.Customer); err != nil {
		return err
	}
	_, err = r.ReconcileAs(ctx, email, TriggerWebhook)
	return err
}

// ledgerEmail returns the account already linked to customerID, or "".
func (r *Reconciler) ledgerEmail(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", nil
	}
	email, err := r.store.EmailForCustomer(ctx, customerID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return "", nil
	}
	return email, err
}

func firstValidEmail(candidates ...string) string {
	for _, candidate := range candidates {
		if identity.Valid(candidate) {
			return identity.Canonical(candidate)
		}
	}
	return ""
}
