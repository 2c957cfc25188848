package billing

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable wraps every failure talking to the billing provider.
	ErrProviderUnavailable = errors.New("billing: provider unavailable")
	// ErrNotConfigured is returned when no billing provider is configured.
	ErrNotConfigured = errors.New("billing: not configured")
	// ErrNoCustomer is returned when an operation needs a billing customer the account lacks.
	ErrNoCustomer = errors.New("billing: account has no billing customer")
	// ErrCheckoutMismatch is returned when a checkout session belongs to another account.
	ErrCheckoutMismatch = errors.New("billing: checkout session does not belong to caller")
)

// Customer is the provider's customer record.
type Customer struct {
	ID      string
	Email   string
	Name    string
	Deleted bool
}

// Subscription is the provider's subscription record. Times are unix seconds.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	Created            int64
	CurrentPeriodStart *int64
	CurrentPeriodEnd   *int64
	CancelAtPeriodEnd  bool
	CancelAt           *int64
}

// Address is a postal address copied from checkout onto the customer.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CustomerDetails are the contact details collected during checkout.
type CustomerDetails struct {
	Email   string
	Name    string
	Address *Address
}

// CheckoutRequest describes a hosted subscription checkout.
type CheckoutRequest struct {
	CustomerID string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider's hosted checkout session.
type CheckoutSession struct {
	ID                string
	URL               string
	Status            string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Metadata          map[string]string
	Details           CustomerDetails
}

// Provider is the subset of the billing provider API the service relies on.
type Provider interface {
	// FindCustomerByEmail returns nil when no customer exists for email.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email, name string) (*Customer, error)
	// GetCustomerEmail returns "" for deleted customers.
	GetCustomerEmail(ctx context.Context, customerID string) (string, error)
	UpdateCustomerDetails(ctx context.Context, customerID string, details CustomerDetails) error
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

func unavailable(op string, err error) error {
	if err == nil || errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
}
