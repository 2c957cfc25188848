package billing

import (
	"sort"

	"github.com/mailcoach-ai/mailcoach/internal/models"
)

// Subscription statuses that grant paid access.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
)

// IsProEligible reports whether a subscription in status grants the pro plan.
func IsProEligible(status string) bool {
	switch status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// PlanForStatus maps a subscription status to the plan it grants.
func PlanForStatus(status string) models.Plan {
	if IsProEligible(status) {
		return models.PlanPro
	}
	return models.PlanFree
}

// PickBestSubscription chooses which subscription describes the account.
// A pro-eligible subscription always wins; otherwise the most recently created
// one is kept for display. Ties on created fall back to the id. Returns nil for
// an empty list.
func PickBestSubscription(subs []Subscription) *Subscription {
	if len(subs) == 0 {
		return nil
	}
	ordered := make([]Subscription, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool {
		ei, ej := IsProEligible(ordered[i].Status), IsProEligible(ordered[j].Status)
		if ei != ej {
			return ei
		}
		if ordered[i].Created != ordered[j].Created {
			return ordered[i].Created > ordered[j].Created
		}
		return ordered[i].ID > ordered[j].ID
	})
	best := ordered[0]
	return &best
}
