package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/config"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	api       *client.API
	timeout   time.Duration
	listLimit int64
}

// NewStripeProvider builds a Stripe-backed provider with bounded request time.
func NewStripeProvider(cfg config.StripeConfig) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Duration(settings.DefaultStripeTimeoutSeconds) * time.Second
	}
	backends := stripelib.NewBackends(&http.Client{Timeout: timeout})
	return &StripeProvider{
		api:       client.New(strings.TrimSpace(cfg.SecretKey), backends),
		timeout:   timeout,
		listLimit: settings.DefaultSubscriptionListLimit,
	}
}

func (p *StripeProvider) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.timeout)
}

// FindCustomerByEmail returns the first live customer registered with email.
func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.CustomerListParams{Email: stripelib.String(email)}
	params.Context = ctx
	params.Limit = stripelib.Int64(1)
	params.Single = true

	iter := p.api.Customers.List(params)
	for iter.Next() {
		c := iter.Customer()
		if c == nil || c.Deleted {
			continue
		}
		return toCustomer(c), nil
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("list customers", err)
	}
	return nil, nil
}

// CreateCustomer creates a customer tagged with the account email.
func (p *StripeProvider) CreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.CustomerParams{Email: stripelib.String(email)}
	params.Context = ctx
	if name = strings.TrimSpace(name); name != "" {
		params.Name = stripelib.String(name)
	}
	params.AddMetadata("email", email)
	params.AddMetadata("app", settings.SiteName)

	c, err := p.api.Customers.New(params)
	if err != nil {
		return nil, unavailable("create customer", err)
	}
	return toCustomer(c), nil
}

// GetCustomerEmail returns the customer's email, or "" when it was deleted.
func (p *StripeProvider) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.CustomerParams{}
	params.Context = ctx
	c, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return "", unavailable("get customer", err)
	}
	if c == nil || c.Deleted {
		return "", nil
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		return email, nil
	}
	return strings.TrimSpace(c.Metadata["email"]), nil
}

// UpdateCustomerDetails copies name and address from checkout onto the customer.
func (p *StripeProvider) UpdateCustomerDetails(ctx context.Context, customerID string, details CustomerDetails) error {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.CustomerParams{}
	params.Context = ctx
	if name := strings.TrimSpace(details.Name); name != "" {
		params.Name = stripelib.String(name)
	}
	if a := details.Address; a != nil {
		params.Address = &stripelib.AddressParams{
			Line1:      stripelib.String(a.Line1),
			Line2:      stripelib.String(a.Line2),
			City:       stripelib.String(a.City),
			State:      stripelib.String(a.State),
			PostalCode: stripelib.String(a.PostalCode),
			Country:    stripelib.String(a.Country),
		}
	}
	if params.Name == nil && params.Address == nil {
		return nil
	}
	if _, err := p.api.Customers.Update(customerID, params); err != nil {
		return unavailable("update customer", err)
	}
	return nil
}

// ListSubscriptions returns the customer's subscriptions in every status.
func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx
	params.Limit = stripelib.Int64(p.listLimit)
	params.Single = true

	var out []Subscription
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		if sub := iter.Subscription(); sub != nil {
			out = append(out, toSubscription(sub))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("list subscriptions", err)
	}
	return out, nil
}

// GetSubscription retrieves one subscription with its current period.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, unavailable("get subscription", err)
	}
	out := toSubscription(sub)
	return &out, nil
}

// CreateCheckoutSession starts a hosted subscription checkout.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.CheckoutSessionParams{
		Mode:                stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:            stripelib.String(req.CustomerID),
		ClientReferenceID:   stripelib.String(req.Email),
		AllowPromotionCodes: stripelib.Bool(true),
		SuccessURL:          stripelib.String(req.SuccessURL),
		CancelURL:           stripelib.String(req.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"email": req.Email},
		},
	}
	params.Context = ctx
	params.AddMetadata("email", req.Email)

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, unavailable("create checkout session", err)
	}
	return toCheckoutSession(session), nil
}

// GetCheckoutSession retrieves a checkout session by id.
func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.CheckoutSessionParams{}
	params.Context = ctx
	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, unavailable("get checkout session", err)
	}
	return toCheckoutSession(session), nil
}

// CreatePortalSession opens a self-service billing portal for the customer.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx
	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", unavailable("create portal session", err)
	}
	return session.URL, nil
}

func toCustomer(c *stripelib.Customer) *Customer {
	return &Customer{ID: c.ID, Email: c.Email, Name: c.Name, Deleted: c.Deleted}
}

func toSubscription(sub *stripelib.Subscription) Subscription {
	out := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Created:           sub.Created,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          positive(sub.CancelAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// Billing periods live on the subscription items.
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			out.CurrentPeriodStart = positive(item.CurrentPeriodStart)
			out.CurrentPeriodEnd = positive(item.CurrentPeriodEnd)
			break
		}
	}
	return out
}

func toCheckoutSession(s *stripelib.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:                s.ID,
		URL:               s.URL,
		Status:            string(s.Status),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	if d := s.CustomerDetails; d != nil {
		out.Details.Email = d.Email
		out.Details.Name = d.Name
		if a := d.Address; a != nil {
			out.Details.Address = &Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}
	if out.Details.Email == "" {
		out.Details.Email = s.CustomerEmail
	}
	return out
}

func positive(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
