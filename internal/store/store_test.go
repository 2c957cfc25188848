package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/db"
	"github.com/mailcoach-ai/mailcoach/internal/models"
)

func newTestStore(t *testing.T) *GormAccountStore {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "store-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return NewGormAccountStore(conn)
}

func ensure(t *testing.T, s *GormAccountStore, email string, limit int, periodStart int64) {
	t.Helper()
	if err := s.EnsureAccount(context.Background(), AccountDefaults{Email: email, CreditsLimit: limit, PeriodStart: periodStart}); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
}

func strPtr(v string) *string { return &v }

func int64Ptr(v int64) *int64 { return &v }

func TestEnsureAccount_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureAccount(ctx, AccountDefaults{Email: " Alice@Example.com ", CreditsLimit: 5, PeriodStart: 100}); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := s.EnsureAccount(ctx, AccountDefaults{Email: "alice@example.com", Name: "Alice", CreditsLimit: 9, PeriodStart: 200}); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	account, err := s.Get(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Email != "alice@example.com" {
		t.Fatalf("expected lowercase email, got %q", account.Email)
	}
	if account.CreditsLimit != 5 || account.PeriodStart != 100 {
		t.Fatalf("existing row must not be overwritten: %+v", account)
	}
	if account.Name == nil || *account.Name != "Alice" {
		t.Fatalf("expected name back-filled, got %v", account.Name)
	}
	if account.Plan != models.PlanFree {
		t.Fatalf("expected free plan, got %q", account.Plan)
	}

	var count int64
	if errCount := s.db.Model(&models.Account{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestEnsureAccount_Concurrent(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureAccount(context.Background(), AccountDefaults{Email: "race@example.com", CreditsLimit: 5, PeriodStart: 1})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ensure: %v", err)
		}
	}

	var count int64
	if errCount := s.db.Model(&models.Account{}).Where("email = ?", "race@example.com").Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nobody@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConsumeCredit_StopsAtLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "bob@example.com", 2, 1)

	for i := 0; i < 2; i++ {
		ok, err := s.ConsumeCredit(ctx, "bob@example.com")
		if err != nil || !ok {
			t.Fatalf("consume %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := s.ConsumeCredit(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if ok {
		t.Fatalf("expected consume to be rejected at the limit")
	}

	account, _ := s.Get(ctx, "bob@example.com")
	if account.CreditsUsed != 2 {
		t.Fatalf("expected credits_used=2, got %d", account.CreditsUsed)
	}
}

func TestRefundCredit_CurrentPeriodOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "rita@example.com", 2, 100)

	if ok, err := s.RefundCredit(ctx, "rita@example.com", 100); err != nil || ok {
		t.Fatalf("refund with nothing used: ok=%v err=%v", ok, err)
	}
	if ok, err := s.ConsumeCredit(ctx, "rita@example.com"); err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RefundCredit(ctx, "rita@example.com", 50); err != nil || ok {
		t.Fatalf("refund for another period: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RefundCredit(ctx, "rita@example.com", 100); err != nil || !ok {
		t.Fatalf("refund: ok=%v err=%v", ok, err)
	}
	account, _ := s.Get(ctx, "rita@example.com")
	if account.CreditsUsed != 0 {
		t.Fatalf("expected credits_used=0, got %d", account.CreditsUsed)
	}
}

func TestConsumeCredit_ConcurrentNeverExceedsLimit(t *testing.T) {
	s := newTestStore(t)
	ensure(t, s, "burst@example.com", 5, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeCredit(context.Background(), "burst@example.com")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("expected 5 granted credits, got %d", granted)
	}
	account, _ := s.Get(context.Background(), "burst@example.com")
	if account.CreditsUsed != 5 {
		t.Fatalf("expected credits_used=5, got %d", account.CreditsUsed)
	}
}

func TestConsumeCredit_PaidPlanUnlimited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "pro@example.com", 1, 1)
	if err := s.ApplyBilling(ctx, "pro@example.com", BillingSnapshot{Plan: models.PlanPro}); err != nil {
		t.Fatalf("apply billing: %v", err)
	}
	for i := 0; i < 3; i++ {
		ok, err := s.ConsumeCredit(ctx, "pro@example.com")
		if err != nil || !ok {
			t.Fatalf("paid consume %d: ok=%v err=%v", i, ok, err)
		}
	}
	account, _ := s.Get(ctx, "pro@example.com")
	if account.CreditsUsed != 3 {
		t.Fatalf("expected credits_used=3, got %d", account.CreditsUsed)
	}
}

func TestResetPeriod_OncePerPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "carol@example.com", 5, 100)
	if _, err := s.ConsumeCredit(ctx, "carol@example.com"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	reset, err := s.ResetPeriod(ctx, "carol@example.com", 200)
	if err != nil || !reset {
		t.Fatalf("first reset: reset=%v err=%v", reset, err)
	}
	if _, err = s.ConsumeCredit(ctx, "carol@example.com"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	reset, err = s.ResetPeriod(ctx, "carol@example.com", 200)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if reset {
		t.Fatalf("expected second reset for the same period to be a no-op")
	}

	account, _ := s.Get(ctx, "carol@example.com")
	if account.PeriodStart != 200 || account.CreditsUsed != 1 {
		t.Fatalf("unexpected account after reset: %+v", account)
	}
}

func TestSetCustomerID_NeverReplaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "dave@example.com", 5, 1)

	if err := s.SetCustomerID(ctx, "dave@example.com", "cus_first"); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	if err := s.SetCustomerID(ctx, "dave@example.com", "cus_second"); err != nil {
		t.Fatalf("set customer again: %v", err)
	}
	account, _ := s.Get(ctx, "dave@example.com")
	if account.BillingCustomerID == nil || *account.BillingCustomerID != "cus_first" {
		t.Fatalf("expected cus_first, got %v", account.BillingCustomerID)
	}

	email, err := s.EmailForCustomer(ctx, "cus_first")
	if err != nil || email != "dave@example.com" {
		t.Fatalf("email for customer: email=%q err=%v", email, err)
	}
	if _, err = s.EmailForCustomer(ctx, "cus_unknown"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestApplyBilling_PeriodStartCoalesce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "erin@example.com", 5, 100)

	snapshot := BillingSnapshot{
		Plan:                    models.PlanPro,
		SubscriptionID:          strPtr("sub_1"),
		SubscriptionStatus:      strPtr("active"),
		CancelAtPeriodEnd:       true,
		CancellationEffectiveAt: int64Ptr(9_000),
		CurrentPeriodEnd:        int64Ptr(9_000),
		PeriodStart:             int64Ptr(500),
		ReconciledAt:            time.Unix(10, 0),
	}
	if err := s.ApplyBilling(ctx, "erin@example.com", snapshot); err != nil {
		t.Fatalf("apply billing: %v", err)
	}
	account, _ := s.Get(ctx, "erin@example.com")
	if account.PeriodStart != 500 {
		t.Fatalf("expected period_start=500, got %d", account.PeriodStart)
	}

	snapshot.PeriodStart = nil
	snapshot.CancelAtPeriodEnd = false
	snapshot.CancellationEffectiveAt = nil
	if err := s.ApplyBilling(ctx, "erin@example.com", snapshot); err != nil {
		t.Fatalf("apply billing again: %v", err)
	}
	account, _ = s.Get(ctx, "erin@example.com")
	if account.PeriodStart != 500 {
		t.Fatalf("nil period_start must not overwrite, got %d", account.PeriodStart)
	}
	if account.CancellationEffectiveAt != nil {
		t.Fatalf("expected cancellation cleared, got %v", *account.CancellationEffectiveAt)
	}
	if account.Plan != models.PlanPro || account.BillingSubscriptionID == nil || *account.BillingSubscriptionID != "sub_1" {
		t.Fatalf("unexpected billing fields: %+v", account)
	}
	if account.ReconciledAt == nil {
		t.Fatalf("expected reconciled_at set")
	}
}

func TestClearBilling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "frank@example.com", 5, 1)
	_ = s.SetCustomerID(ctx, "frank@example.com", "cus_frank")
	_ = s.ApplyBilling(ctx, "frank@example.com", BillingSnapshot{Plan: models.PlanPro, SubscriptionID: strPtr("sub_f"), CurrentPeriodEnd: int64Ptr(1)})

	if err := s.ClearBilling(ctx, "frank@example.com", false); err != nil {
		t.Fatalf("clear billing: %v", err)
	}
	account, _ := s.Get(ctx, "frank@example.com")
	if account.Plan != models.PlanFree || account.BillingSubscriptionID != nil || account.CurrentPeriodEnd != nil {
		t.Fatalf("expected cleared billing fields: %+v", account)
	}
	if account.BillingCustomerID == nil {
		t.Fatalf("customer id must be kept")
	}

	if err := s.ClearBilling(ctx, "frank@example.com", true); err != nil {
		t.Fatalf("clear billing with customer: %v", err)
	}
	account, _ = s.Get(ctx, "frank@example.com")
	if account.BillingCustomerID != nil {
		t.Fatalf("expected customer id cleared")
	}
}

func TestTerminateSubscription_GuardsNewerSubscription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "gina@example.com", 5, 1)
	_ = s.ApplyBilling(ctx, "gina@example.com", BillingSnapshot{Plan: models.PlanPro, SubscriptionID: strPtr("sub_new"), CurrentPeriodEnd: int64Ptr(9_000)})

	applied, err := s.TerminateSubscription(ctx, "gina@example.com", "sub_old")
	if err != nil {
		t.Fatalf("terminate old: %v", err)
	}
	if applied {
		t.Fatalf("terminating a stale subscription must not downgrade")
	}

	applied, err = s.TerminateSubscription(ctx, "gina@example.com", "sub_new")
	if err != nil || !applied {
		t.Fatalf("terminate current: applied=%v err=%v", applied, err)
	}
	account, _ := s.Get(ctx, "gina@example.com")
	if account.Plan != models.PlanFree || account.BillingSubscriptionID != nil || account.CurrentPeriodEnd != nil {
		t.Fatalf("expected downgrade with period end cleared, got %+v", account)
	}
}

func TestList_FiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ensure(t, s, "a@example.com", 5, 1)
	ensure(t, s, "b@example.com", 5, 1)
	ensure(t, s, "c@other.com", 5, 1)
	_ = s.ApplyBilling(ctx, "b@example.com", BillingSnapshot{Plan: models.PlanPro})

	rows, total, err := s.List(ctx, ListOptions{Query: "EXAMPLE"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 example.com accounts, total=%d rows=%d", total, len(rows))
	}

	rows, total, err = s.List(ctx, ListOptions{Plan: "pro"})
	if err != nil {
		t.Fatalf("list by plan: %v", err)
	}
	if total != 1 || rows[0].Email != "b@example.com" {
		t.Fatalf("expected only b@example.com, total=%d", total)
	}

	rows, total, err = s.List(ctx, ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if total != 3 || len(rows) != 1 {
		t.Fatalf("expected page of 1 out of 3, total=%d rows=%d", total, len(rows))
	}
}
