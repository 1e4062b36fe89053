// Package billing defines the subscription vocabulary shared by the rollup
// scheduler and the report builder.
//
// # Overview
//
// Subscriptions themselves are owned by an external plan-management system.
// This package only models the pieces analytics needs to read:
//
//   - PlanTier: ordered starter < growth < pro, gating report fields and CSV export
//   - SubscriptionStatus: which tenants are eligible for scheduled rollups
//
// # Usage Example
//
//	tier, err := billing.ParsePlanTier("growth")
//	if tier.AtLeast(billing.PlanPro) {
//		// pro-only capability
//	}
//
//	tenants, err := subs.ListEligibleTenants(ctx, billing.EligibleStatuses())
package billing
