package billing

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/db"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-memory Provider.
type fakeProvider struct {
	mu sync.Mutex

	customers   map[string]*Customer // by id
	subs        map[string][]Subscription
	sessions    map[string]*CheckoutSession
	updated     map[string]CustomerDetails
	checkouts   []CheckoutRequest
	portalCalls []string

	failWith error
	calls    map[string]int
	nextID   int

	// listGate, when set, blocks the next ListSubscriptions until closed.
	listGate    chan struct{}
	listEntered chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customers: map[string]*Customer{},
		subs:      map[string][]Subscription{},
		sessions:  map[string]*CheckoutSession{},
		updated:   map[string]CustomerDetails{},
		calls:     map[string]int{},
	}
}

func (f *fakeProvider) addCustomer(id, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[id] = &Customer{ID: id, Email: email}
}

func (f *fakeProvider) setSubscriptions(customerID string, subs ...Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range subs {
		subs[i].CustomerID = customerID
	}
	f.subs[customerID] = subs
}

// blockNextList makes the next ListSubscriptions wait for release.
// The returned channel is closed once that call has started.
func (f *fakeProvider) blockNextList() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.listGate = gate
	f.listEntered = make(chan struct{})
	return f.listEntered, func() { close(gate) }
}

func (f *fakeProvider) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.failWith
}

func (f *fakeProvider) FindCustomerByEmail(_ context.Context, email string) (*Customer, error) {
	if err := f.enter("find_customer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.Email == email && !c.Deleted {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeProvider) CreateCustomer(_ context.Context, email, name string) (*Customer, error) {
	if err := f.enter("create_customer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &Customer{ID: fmt.Sprintf("cus_new_%d", f.nextID), Email: email, Name: name}
	f.customers[c.ID] = c
	copied := *c
	return &copied, nil
}

func (f *fakeProvider) GetCustomerEmail(_ context.Context, customerID string) (string, error) {
	if err := f.enter("get_customer"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[customerID]
	if !ok || c.Deleted {
		return "", nil
	}
	return c.Email, nil
}

func (f *fakeProvider) UpdateCustomerDetails(_ context.Context, customerID string, details CustomerDetails) error {
	if err := f.enter("update_customer"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[customerID] = details
	return nil
}

func (f *fakeProvider) ListSubscriptions(_ context.Context, customerID string) ([]Subscription, error) {
	if err := f.enter("list_subscriptions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	out := make([]Subscription, len(f.subs[customerID]))
	copy(out, f.subs[customerID])
	gate, entered := f.listGate, f.listEntered
	f.listGate, f.listEntered = nil, nil
	f.mu.Unlock()

	// The listing was read before the gate, as a slow provider response would be.
	if gate != nil {
		close(entered)
		<-gate
	}
	return out, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	if err := f.enter("get_subscription"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, subs := range f.subs {
		for _, sub := range subs {
			if sub.ID == subscriptionID {
				copied := sub
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("no such subscription: %s", subscriptionID)
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := f.enter("create_checkout"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, req)
	id := fmt.Sprintf("cs_test_%d", len(f.checkouts))
	session := &CheckoutSession{
		ID:                id,
		URL:               "https://checkout.example.com/" + id,
		CustomerID:        req.CustomerID,
		ClientReferenceID: req.Email,
		Metadata:          map[string]string{"email": req.Email},
	}
	f.sessions[id] = session
	return session, nil
}

func (f *fakeProvider) GetCheckoutSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	if err := f.enter("get_checkout"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	copied := *session
	return &copied, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	if err := f.enter("create_portal"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portalCalls = append(f.portalCalls, returnURL)
	return "https://billing.example.com/p/" + customerID, nil
}

type billingFixture struct {
	provider   *fakeProvider
	store      *store.GormAccountStore
	engine     *quota.Engine
	reconciler *Reconciler
	checkout   *Checkout
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "billing-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.Migrate(conn))

	now := func() time.Time { return time.Date(2026, time.May, 15, 12, 0, 0, 0, time.Local) }
	accounts := store.NewGormAccountStore(conn)
	engine := quota.NewEngine(accounts, now, 5)
	provider := newFakeProvider()
	reconciler := NewReconciler(provider, accounts, engine, now)
	return &billingFixture{
		provider:   provider,
		store:      accounts,
		engine:     engine,
		reconciler: reconciler,
		checkout:   NewCheckout(reconciler, "https://app.example.com/", "price_pro"),
	}
}

func ptr(v int64) *int64 { return &v }
