package analytics

import (
	"context"
	"time"

	"github.com/platinummonkey/creatorstats/pkg/billing"
)

// EventQuery filters raw events. Empty fields are not filtered on.
type EventQuery struct {
	TenantID    string
	ContentType ContentType
	ContentID   string
	From        time.Time
	To          time.Time
}

// EventSource reads raw events from the tracking system
type EventSource interface {
	// ListActiveContent returns every content with at least one event in the window
	ListActiveContent(ctx context.Context, w Window) ([]ContentRef, error)
	QueryEvents(ctx context.Context, q EventQuery) ([]RawEvent, error)
	// CountByAction groups matching events by action type
	CountByAction(ctx context.Context, q EventQuery) (map[ActionType]int64, error)
}

// OwnershipStore resolves which tenant created a piece of content
type OwnershipStore interface {
	// FindOwnerTenant returns found=false when no tenant owns the content
	FindOwnerTenant(ctx context.Context, contentType ContentType, contentID string) (tenantID string, found bool, err error)
}

// SubscriptionStore reads plans and subscription state
type SubscriptionStore interface {
	// GetPlan returns found=false when the tenant has no subscription
	GetPlan(ctx context.Context, tenantID string) (tier billing.PlanTier, found bool, err error)
	ListEligibleTenants(ctx context.Context, statuses []billing.SubscriptionStatus) ([]string, error)
}

// MetricQuery selects daily metrics for one tenant over an inclusive day range
type MetricQuery struct {
	TenantID    string
	ContentType ContentType // optional
	FromDay     time.Time
	ToDay       time.Time
}

// MetricStore persists daily metric snapshots
type MetricStore interface {
	// UpsertDailyMetric fully replaces the row for the metric's key
	UpsertDailyMetric(ctx context.Context, m DailyMetric) error
	ListDailyMetrics(ctx context.Context, q MetricQuery) ([]DailyMetric, error)
}

// CacheInvalidator is notified after the aggregator writes
type CacheInvalidator interface {
	Clear(ctx context.Context) error
}
