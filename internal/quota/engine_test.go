package quota

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/db"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"github.com/mailcoach-ai/mailcoach/internal/store"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestEngine(t *testing.T, clock *testClock) (*Engine, *store.GormAccountStore) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "quota-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	accounts := store.NewGormAccountStore(conn)
	return NewEngine(accounts, clock.Now, 5), accounts
}

func consumeN(t *testing.T, e *Engine, email string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := e.Run(context.Background(), email, "", func(context.Context) error { return nil }); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestStartOfMonth(t *testing.T) {
	loc := time.FixedZone("test", 2*60*60)
	got := StartOfMonth(time.Date(2026, time.March, 17, 13, 45, 0, 0, loc))
	want := time.Date(2026, time.March, 1, 0, 0, 0, 0, loc).UnixMilli()
	if got != want {
		t.Fatalf("StartOfMonth=%d, want %d", got, want)
	}
}

func TestGetOrCreateAccount_Defaults(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, _ := newTestEngine(t, clock)

	account, err := e.GetOrCreateAccount(context.Background(), "New@Example.com", "New User")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if account.Email != "new@example.com" || account.Plan != models.PlanFree {
		t.Fatalf("unexpected account: %+v", account)
	}
	if account.CreditsUsed != 0 || account.CreditsLimit != 5 {
		t.Fatalf("unexpected credits: used=%d limit=%d", account.CreditsUsed, account.CreditsLimit)
	}
	if account.PeriodStart != e.CurrentPeriodStart() {
		t.Fatalf("expected period_start=%d, got %d", e.CurrentPeriodStart(), account.PeriodStart)
	}
	if account.Name == nil || *account.Name != "New User" {
		t.Fatalf("expected name stored, got %v", account.Name)
	}
}

func TestRun_ExhaustsAtLimit(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	consumeN(t, e, "free@example.com", 4)

	account, err := e.GetOrCreateAccount(ctx, "free@example.com", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if decision := e.CanUseCredit(account); !decision.Allowed || decision.Remaining != 1 {
		t.Fatalf("expected one credit left, got %+v", decision)
	}

	decision, err := e.Run(ctx, "free@example.com", "", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("fifth run: %v", err)
	}
	if decision.Used != 5 || decision.Remaining != 0 {
		t.Fatalf("unexpected decision after fifth run: %+v", decision)
	}

	called := false
	_, err = e.Run(ctx, "free@example.com", "", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	var exhausted *QuotaExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Limit != 5 || exhausted.Code() != "LIMIT_REACHED" {
		t.Fatalf("expected QuotaExhaustedError{Limit: 5}, got %#v", err)
	}
	if called {
		t.Fatalf("work must not run once the quota is exhausted")
	}
}

func TestRun_FailedWorkKeepsCredits(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, accounts := newTestEngine(t, clock)
	ctx := context.Background()

	errLLM := errors.New("llm down")
	if _, err := e.Run(ctx, "fail@example.com", "", func(context.Context) error { return errLLM }); !errors.Is(err, errLLM) {
		t.Fatalf("expected work error, got %v", err)
	}
	account, err := accounts.Get(ctx, "fail@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.CreditsUsed != 0 {
		t.Fatalf("failed work must not consume credits, got %d", account.CreditsUsed)
	}
}

func TestRun_PaidPlanUnlimited(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, accounts := newTestEngine(t, clock)
	ctx := context.Background()

	if _, err := e.GetOrCreateAccount(ctx, "pro@example.com", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := accounts.ApplyBilling(ctx, "pro@example.com", store.BillingSnapshot{Plan: models.PlanPro}); err != nil {
		t.Fatalf("apply billing: %v", err)
	}
	consumeN(t, e, "pro@example.com", 8)

	account, _ := accounts.Get(ctx, "pro@example.com")
	if decision := e.CanUseCredit(account); !decision.Allowed || decision.Remaining != -1 {
		t.Fatalf("expected unlimited decision, got %+v", decision)
	}
	if account.CreditsUsed != 8 {
		t.Fatalf("expected credits_used=8, got %d", account.CreditsUsed)
	}
}

func TestGetOrCreateAccount_MonthRollover(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 30, 9, 0, 0, 0, time.Local)}
	e, accounts := newTestEngine(t, clock)
	ctx := context.Background()

	consumeN(t, e, "roll@example.com", 5)
	if _, err := e.Run(ctx, "roll@example.com", "", func(context.Context) error { return nil }); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected exhaustion before rollover, got %v", err)
	}

	clock.now = time.Date(2026, time.June, 2, 9, 0, 0, 0, time.Local)
	account, err := e.GetOrCreateAccount(ctx, "roll@example.com", "")
	if err != nil {
		t.Fatalf("get after rollover: %v", err)
	}
	if account.CreditsUsed != 0 || account.PeriodStart != e.CurrentPeriodStart() {
		t.Fatalf("expected reset usage window, got used=%d start=%d", account.CreditsUsed, account.PeriodStart)
	}

	consumeN(t, e, "roll@example.com", 1)
	account, _ = e.GetOrCreateAccount(ctx, "roll@example.com", "")
	if account.CreditsUsed != 1 {
		t.Fatalf("a second read in the same month must not reset again, got %d", account.CreditsUsed)
	}

	_, total, err := accounts.List(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected a single account row, got %d", total)
	}
}

func TestConsumeCredit_RaceRejectedByGuard(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	account, err := e.GetOrCreateAccount(ctx, "race@example.com", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	consumeN(t, e, "race@example.com", 5)

	// account is the stale pre-consumption snapshot.
	err = e.ConsumeCredit(ctx, account)
	var exhausted *QuotaExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Limit != 5 {
		t.Fatalf("expected guard rejection, got %v", err)
	}
}

func TestRun_LastCreditAdmitsOneConcurrentRequest(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, accounts := newTestEngine(t, clock)
	ctx := context.Background()

	consumeN(t, e, "last@example.com", 4)

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, "last@example.com", "", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
		firstDone <- err
	}()
	<-entered

	secondRan := false
	_, err := e.Run(ctx, "last@example.com", "", func(context.Context) error {
		secondRan = true
		return nil
	})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected the second request to be refused, got %v", err)
	}
	if secondRan {
		t.Fatalf("work must not run without a credit")
	}

	close(release)
	if errFirst := <-firstDone; errFirst != nil {
		t.Fatalf("first run: %v", errFirst)
	}
	account, err := accounts.Get(ctx, "last@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.CreditsUsed != 5 {
		t.Fatalf("expected credits_used=5, got %d", account.CreditsUsed)
	}
}

func TestRun_FailedWorkReturnsLastCredit(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, accounts := newTestEngine(t, clock)
	ctx, cancel := context.WithCancel(context.Background())

	consumeN(t, e, "retry@example.com", 4)

	// The request is cancelled while work runs; the credit still comes back.
	_, err := e.Run(ctx, "retry@example.com", "", func(context.Context) error {
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected work error, got %v", err)
	}
	account, err := accounts.Get(context.Background(), "retry@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.CreditsUsed != 4 {
		t.Fatalf("failed work must give the credit back, got credits_used=%d", account.CreditsUsed)
	}
	consumeN(t, e, "retry@example.com", 1)
}

func TestGetOrCreateAccount_PaidPlanKeepsBillingPeriod(t *testing.T) {
	clock := &testClock{now: time.Date(2026, time.May, 10, 9, 0, 0, 0, time.Local)}
	e, accounts := newTestEngine(t, clock)
	ctx := context.Background()

	if _, err := e.GetOrCreateAccount(ctx, "sub@example.com", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	billingStart := time.Date(2026, time.April, 20, 0, 0, 0, 0, time.UTC).UnixMilli()
	if err := accounts.ApplyBilling(ctx, "sub@example.com", store.BillingSnapshot{Plan: models.PlanPro, PeriodStart: &billingStart}); err != nil {
		t.Fatalf("apply billing: %v", err)
	}
	consumeN(t, e, "sub@example.com", 2)

	for i := 0; i < 2; i++ {
		account, err := e.GetOrCreateAccount(ctx, "sub@example.com", "")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if account.PeriodStart != billingStart || account.CreditsUsed != 2 {
			t.Fatalf("paid account must keep its billing period, got start=%d used=%d", account.PeriodStart, account.CreditsUsed)
		}
	}

	if err := accounts.ClearBilling(ctx, "sub@example.com", false); err != nil {
		t.Fatalf("clear billing: %v", err)
	}
	account, err := e.GetOrCreateAccount(ctx, "sub@example.com", "")
	if err != nil {
		t.Fatalf("get after downgrade: %v", err)
	}
	if account.PeriodStart != e.CurrentPeriodStart() || account.CreditsUsed != 0 {
		t.Fatalf("a downgraded account moves to the calendar month, got start=%d used=%d", account.PeriodStart, account.CreditsUsed)
	}
}
