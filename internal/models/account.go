package models

import "time"

// Plan identifies the tier an account is billed on.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// IsPaid reports whether the plan grants unlimited generations.
func (p Plan) IsPaid() bool {
	return p == PlanPro || p == PlanBusiness
}

// Account is the per-user quota and billing record, keyed by lowercase email.
type Account struct {
	Email string  `gorm:"type:text;primaryKey"` // Canonical lowercase email.
	Name  *string `gorm:"type:text"`            // Display name.

	Plan         Plan  `gorm:"type:varchar(32);not null;default:'free'"` // Cached plan derived from billing.
	CreditsUsed  int   `gorm:"not null;default:0"`                       // Generations consumed this period.
	CreditsLimit int   `gorm:"not null;default:5"`                       // Free-tier allowance per period.
	PeriodStart  int64 `gorm:"not null"`                                 // Usage window start (unix ms).

	BillingCustomerID       *string `gorm:"type:text;uniqueIndex"`  // Billing provider customer ID.
	BillingSubscriptionID   *string `gorm:"type:text"`              // Chosen subscription, display only.
	SubscriptionStatus      *string `gorm:"type:varchar(32)"`       // Provider status of the chosen subscription.
	CancelAtPeriodEnd       bool    `gorm:"not null;default:false"` // Provider cancel-at-period-end flag.
	CancellationEffectiveAt *int64  `gorm:"type:bigint"`            // When paid access lapses (unix ms).
	CurrentPeriodEnd        *int64  `gorm:"type:bigint"`            // End of the paid period (unix ms).

	ReconciledAt *time.Time `gorm:"type:timestamp"` // Last successful reconcile.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Remaining returns the free credits left in the period; paid plans report -1.
func (a Account) Remaining() int {
	if a.Plan.IsPaid() {
		return -1
	}
	if left := a.CreditsLimit - a.CreditsUsed; left > 0 {
		return left
	}
	return 0
}
