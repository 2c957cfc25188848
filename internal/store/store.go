package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/db"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAccountNotFound is returned when no account row exists for the key.
var ErrAccountNotFound = errors.New("store: account not found")

// AccountDefaults describes the row inserted when an account does not exist yet.
type AccountDefaults struct {
	Email        string
	Name         string
	CreditsLimit int
	PeriodStart  int64
}

// BillingSnapshot is the full set of billing fields written by one reconcile pass.
type BillingSnapshot struct {
	Plan                    models.Plan
	SubscriptionID          *string
	SubscriptionStatus      *string
	CancelAtPeriodEnd       bool
	CancellationEffectiveAt *int64
	CurrentPeriodEnd        *int64
	// PeriodStart is applied only when non-nil; a nil value never clears the stored one.
	PeriodStart  *int64
	ReconciledAt time.Time
}

// ListOptions filters the account listing.
type ListOptions struct {
	Query  string
	Plan   string
	Limit  int
	Offset int
}

// AccountStore persists account rows keyed by canonical email.
type AccountStore interface {
	Get(ctx context.Context, email string) (*models.Account, error)
	EnsureAccount(ctx context.Context, defaults AccountDefaults) error
	ResetPeriod(ctx context.Context, email string, periodStart int64) (bool, error)
	ConsumeCredit(ctx context.Context, email string) (bool, error)
	RefundCredit(ctx context.Context, email string, periodStart int64) (bool, error)
	ResetCredits(ctx context.Context, email string) error
	SetCustomerID(ctx context.Context, email, customerID string) error
	ApplyBilling(ctx context.Context, email string, snapshot BillingSnapshot) error
	ClearBilling(ctx context.Context, email string, clearCustomer bool) error
	TerminateSubscription(ctx context.Context, email, subscriptionID string) (bool, error)
	EmailForCustomer(ctx context.Context, customerID string) (string, error)
	List(ctx context.Context, opts ListOptions) ([]models.Account, int64, error)
}

// GormAccountStore implements AccountStore on top of GORM.
type GormAccountStore struct {
	db *gorm.DB
}

// NewGormAccountStore constructs a GormAccountStore.
func NewGormAccountStore(db *gorm.DB) *GormAccountStore {
	return &GormAccountStore{db: db}
}

func key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *GormAccountStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	return nil
}

// Get loads the account for email.
func (s *GormAccountStore) Get(ctx context.Context, email string) (*models.Account, error) {
	if errReady := s.ready(); errReady != nil {
		return nil, errReady
	}
	var account models.Account
	errFind := s.db.WithContext(ctx).Where("email = ?", key(email)).Take(&account).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("store: get account: %w", errFind)
	}
	return &account, nil
}

// EnsureAccount inserts the default row when absent and never duplicates it.
// An existing row is left untouched except for back-filling an empty name.
func (s *GormAccountStore) EnsureAccount(ctx context.Context, defaults AccountDefaults) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	email := key(defaults.Email)
	if email == "" {
		return fmt.Errorf("store: missing email")
	}
	name := strings.TrimSpace(defaults.Name)

	record := models.Account{
		Email:        email,
		Plan:         models.PlanFree,
		CreditsUsed:  0,
		CreditsLimit: defaults.CreditsLimit,
		PeriodStart:  defaults.PeriodStart,
	}
	if name != "" {
		record.Name = &name
	}

	if errCreate := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&record).Error; errCreate != nil {
		return fmt.Errorf("store: ensure account: %w", errCreate)
	}

	if name == "" {
		return nil
	}
	if errName := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ? AND (name IS NULL OR name = '')", email).
		Update("name", name).Error; errName != nil {
		return fmt.Errorf("store: backfill name: %w", errName)
	}
	return nil
}

// ResetPeriod zeroes credits and moves period_start, once per distinct period.
// It reports whether this call performed the reset.
func (s *GormAccountStore) ResetPeriod(ctx context.Context, email string, periodStart int64) (bool, error) {
	if errReady := s.ready(); errReady != nil {
		return false, errReady
	}
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ? AND period_start <> ?", key(email), periodStart).
		Updates(map[string]any{
			"credits_used": 0,
			"period_start": periodStart,
		})
	if res.Error != nil {
		return false, fmt.Errorf("store: reset period: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ConsumeCredit atomically increments credits_used when the account may still spend.
// It reports false when the row is missing or a free account is already at its limit.
func (s *GormAccountStore) ConsumeCredit(ctx context.Context, email string) (bool, error) {
	if errReady := s.ready(); errReady != nil {
		return false, errReady
	}
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ?", key(email)).
		Where("(plan IN ? OR credits_used < credits_limit)", []string{string(models.PlanPro), string(models.PlanBusiness)}).
		Update("credits_used", gorm.Expr("credits_used + ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("store: consume credit: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RefundCredit returns one credit taken by ConsumeCredit in the period starting at periodStart.
// Nothing changes once the period has rolled over or no credit is in use.
func (s *GormAccountStore) RefundCredit(ctx context.Context, email string, periodStart int64) (bool, error) {
	if errReady := s.ready(); errReady != nil {
		return false, errReady
	}
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ? AND period_start = ? AND credits_used > 0", key(email), periodStart).
		Update("credits_used", gorm.Expr("credits_used - ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("store: refund credit: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ResetCredits zeroes credits_used without touching the period.
func (s *GormAccountStore) ResetCredits(ctx context.Context, email string) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ?", key(email)).
		Update("credits_used", 0)
	if res.Error != nil {
		return fmt.Errorf("store: reset credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetCustomerID caches the billing customer id; an existing id is never replaced.
func (s *GormAccountStore) SetCustomerID(ctx context.Context, email, customerID string) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("store: missing customer id")
	}
	if errUpdate := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ?", key(email)).
		Update("billing_customer_id", gorm.Expr("COALESCE(billing_customer_id, ?)", customerID)).Error; errUpdate != nil {
		return fmt.Errorf("store: set customer id: %w", errUpdate)
	}
	return nil
}

// ApplyBilling writes a reconciled snapshot in a single update.
func (s *GormAccountStore) ApplyBilling(ctx context.Context, email string, snapshot BillingSnapshot) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	plan := snapshot.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	updates := map[string]any{
		"plan":                      plan,
		"billing_subscription_id":   nullableString(snapshot.SubscriptionID),
		"subscription_status":       nullableString(snapshot.SubscriptionStatus),
		"cancel_at_period_end":      snapshot.CancelAtPeriodEnd,
		"cancellation_effective_at": nullableInt64(snapshot.CancellationEffectiveAt),
		"current_period_end":        nullableInt64(snapshot.CurrentPeriodEnd),
		"reconciled_at":             reconciledAt(snapshot.ReconciledAt),
	}
	if snapshot.PeriodStart != nil {
		updates["period_start"] = gorm.Expr("COALESCE(?, period_start)", *snapshot.PeriodStart)
	}

	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ?", key(email)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: apply billing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClearBilling downgrades to free and nulls every subscription field.
// The customer id is kept unless clearCustomer is set.
func (s *GormAccountStore) ClearBilling(ctx context.Context, email string, clearCustomer bool) error {
	if errReady := s.ready(); errReady != nil {
		return errReady
	}
	updates := map[string]any{
		"plan":                      models.PlanFree,
		"billing_subscription_id":   nil,
		"subscription_status":       nil,
		"cancel_at_period_end":      false,
		"cancellation_effective_at": nil,
		"current_period_end":        nil,
		"reconciled_at":             time.Now().UTC(),
	}
	if clearCustomer {
		updates["billing_customer_id"] = nil
	}
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ?", key(email)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: clear billing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// TerminateSubscription downgrades the account after a subscription was fully terminated.
// The update only applies while the cached subscription is empty or the terminated one.
func (s *GormAccountStore) TerminateSubscription(ctx context.Context, email, subscriptionID string) (bool, error) {
	if errReady := s.ready(); errReady != nil {
		return false, errReady
	}
	query := s.db.WithContext(ctx).Model(&models.Account{}).Where("email = ?", key(email))
	if subscriptionID = strings.TrimSpace(subscriptionID); subscriptionID != "" {
		query = query.Where("(billing_subscription_id IS NULL OR billing_subscription_id = ?)", subscriptionID)
	}
	res := query.Updates(map[string]any{
		"plan":                      models.PlanFree,
		"billing_subscription_id":   nil,
		"subscription_status":       "canceled",
		"cancel_at_period_end":      false,
		"cancellation_effective_at": nil,
		"current_period_end":        nil,
	})
	if res.Error != nil {
		return false, fmt.Errorf("store: terminate subscription: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// EmailForCustomer returns the account email linked to a billing customer.
func (s *GormAccountStore) EmailForCustomer(ctx context.Context, customerID string) (string, error) {
	if errReady := s.ready(); errReady != nil {
		return "", errReady
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", ErrAccountNotFound
	}
	// row holds the email lookup result.
	var row struct {
		Email string
	}
	errFind := s.db.WithContext(ctx).Model(&models.Account{}).
		Select("email").
		Where("billing_customer_id = ?", customerID).
		Take(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("store: email for customer: %w", errFind)
	}
	return row.Email, nil
}

// List returns a page of accounts and the total matching count.
func (s *GormAccountStore) List(ctx context.Context, opts ListOptions) ([]models.Account, int64, error) {
	if errReady := s.ready(); errReady != nil {
		return nil, 0, errReady
	}
	query := s.db.WithContext(ctx).Model(&models.Account{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		pattern := db.NormalizeLikePattern(s.db, "%"+q+"%")
		query = query.Where(db.CaseInsensitiveLikeExpr(s.db, "email"), pattern)
	}
	if plan := strings.TrimSpace(opts.Plan); plan != "" {
		query = query.Where("plan = ?", plan)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("store: count accounts: %w", errCount)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []models.Account
	if errFind := query.Order("created_at DESC, email ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("store: list accounts: %w", errFind)
	}
	return rows, total, nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func reconciledAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
