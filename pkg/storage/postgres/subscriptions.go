package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
	"github.com/platinummonkey/creatorstats/pkg/billing"
)

// SubscriptionStore reads tenant plans from the subscriptions table
type SubscriptionStore struct {
	cm *ConnectionManager
}

var _ analytics.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a new subscription store
func NewSubscriptionStore(cm *ConnectionManager) *SubscriptionStore {
	return &SubscriptionStore{cm: cm}
}

// GetPlan returns the plan of the tenant's most recent subscription
func (s *SubscriptionStore) GetPlan(ctx context.Context, tenantID string) (billing.PlanTier, bool, error) {
	var plan string
	err := s.cm.Replica().QueryRowContext(ctx, `
		SELECT plan FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, tenantID).Scan(&plan)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get plan: %w", err)
	}

	tier, err := billing.ParsePlanTier(plan)
	if err != nil {
		return "", false, nil
	}
	return tier, true, nil
}

// ListEligibleTenants returns tenants with a subscription in one of statuses
func (s *SubscriptionStore) ListEligibleTenants(ctx context.Context, statuses []billing.SubscriptionStatus) ([]string, error) {
	rows, err := s.cm.Replica().QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM subscriptions
		WHERE status = ANY($1)
		ORDER BY tenant_id
	`, pq.Array(billing.StatusStrings(statuses)))
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		tenants = append(tenants, tenantID)
	}

	return tenants, rows.Err()
}
