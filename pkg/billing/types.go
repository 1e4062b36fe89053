package billing

import (
	"fmt"
	"strings"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanStarter PlanTier = "starter"
	PlanGrowth  PlanTier = "growth"
	PlanPro     PlanTier = "pro"
)

// DefaultPlan is used when a tenant has no subscription on record
const DefaultPlan = PlanStarter

var planRank = map[PlanTier]int{
	PlanStarter: 0,
	PlanGrowth:  1,
	PlanPro:     2,
}

// ParsePlanTier parses a plan tier name (case-insensitive)
func ParsePlanTier(s string) (PlanTier, error) {
	tier := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if !tier.Valid() {
		return "", fmt.Errorf("unknown plan tier: %q", s)
	}
	return tier, nil
}

// Valid reports whether the tier is one of the known tiers
func (p PlanTier) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// AtLeast reports whether p is the same as or above other.
// Unknown tiers rank below starter.
func (p PlanTier) AtLeast(other PlanTier) bool {
	pr, ok := planRank[p]
	if !ok {
		return false
	}
	return pr >= planRank[other]
}

func (p PlanTier) String() string {
	return string(p)
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
)

// EligibleStatuses returns the statuses whose tenants get scheduled rollups
func EligibleStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusTrialing}
}

// StatusStrings converts statuses to plain strings, e.g. for SQL array binds
func StatusStrings(statuses []SubscriptionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
