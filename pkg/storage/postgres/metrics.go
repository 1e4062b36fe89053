package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
)

// MetricStore persists daily metric snapshots in daily_content_metrics
type MetricStore struct {
	cm *ConnectionManager
}

var _ analytics.MetricStore = (*MetricStore)(nil)

// NewMetricStore creates a new metric store
func NewMetricStore(cm *ConnectionManager) *MetricStore {
	return &MetricStore{cm: cm}
}

// computed_at only moves when the recomputed snapshot differs from the stored one
const upsertDailyMetricSQL = `
	INSERT INTO daily_content_metrics (
		tenant_id, content_type, content_id, day,
		views, starts, completes, likes, shares, downloads, bookmarks,
		ratings_count, unique_users, watch_time_seconds,
		funnel
	) VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (tenant_id, content_type, content_id, day) DO UPDATE SET
		views = EXCLUDED.views,
		starts = EXCLUDED.starts,
		completes = EXCLUDED.completes,
		likes = EXCLUDED.likes,
		shares = EXCLUDED.shares,
		downloads = EXCLUDED.downloads,
		bookmarks = EXCLUDED.bookmarks,
		ratings_count = EXCLUDED.ratings_count,
		unique_users = EXCLUDED.unique_users,
		watch_time_seconds = EXCLUDED.watch_time_seconds,
		funnel = EXCLUDED.funnel,
		computed_at = NOW()
	WHERE (
		daily_content_metrics.views, daily_content_metrics.starts, daily_content_metrics.completes,
		daily_content_metrics.likes, daily_content_metrics.shares, daily_content_metrics.downloads,
		daily_content_metrics.bookmarks, daily_content_metrics.ratings_count,
		daily_content_metrics.unique_users, daily_content_metrics.watch_time_seconds,
		daily_content_metrics.funnel
	) IS DISTINCT FROM (
		EXCLUDED.views, EXCLUDED.starts, EXCLUDED.completes,
		EXCLUDED.likes, EXCLUDED.shares, EXCLUDED.downloads,
		EXCLUDED.bookmarks, EXCLUDED.ratings_count,
		EXCLUDED.unique_users, EXCLUDED.watch_time_seconds,
		EXCLUDED.funnel
	)
`

// UpsertDailyMetric writes the full snapshot, replacing any existing row for its key
func (s *MetricStore) UpsertDailyMetric(ctx context.Context, m analytics.DailyMetric) error {
	// NULL rather than an empty string for content without a funnel
	var funnel interface{}
	if len(m.Funnel) > 0 {
		data, err := json.Marshal(m.Funnel)
		if err != nil {
			return fmt.Errorf("failed to marshal funnel: %w", err)
		}
		funnel = data
	}

	_, err := s.cm.Primary().ExecContext(ctx, upsertDailyMetricSQL,
		m.TenantID, string(m.ContentType), m.ContentID, analytics.TruncateDay(m.Day),
		m.Views, m.Starts, m.Completes, m.Likes, m.Shares, m.Downloads, m.Bookmarks,
		m.RatingsCount, m.UniqueUsers, m.WatchTimeSeconds,
		funnel,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily metric %s/%s: %w", m.Ref(), analytics.TruncateDay(m.Day).Format(analytics.DateFormat), err)
	}
	return nil
}

// ListDailyMetrics returns a tenant's rows for an inclusive day range
func (s *MetricStore) ListDailyMetrics(ctx context.Context, q analytics.MetricQuery) ([]analytics.DailyMetric, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT tenant_id, content_type, content_id, day,
			views, starts, completes, likes, shares, downloads, bookmarks,
			ratings_count, unique_users, watch_time_seconds,
			funnel
		FROM daily_content_metrics
		WHERE tenant_id = $1 AND day >= $2::date AND day <= $3::date`)

	args := []interface{}{q.TenantID, analytics.TruncateDay(q.FromDay), analytics.TruncateDay(q.ToDay)}
	if q.ContentType != "" {
		args = append(args, string(q.ContentType))
		fmt.Fprintf(&b, " AND content_type = $%d", len(args))
	}
	b.WriteString(" ORDER BY day, content_type, content_id")

	rows, err := s.cm.Replica().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []analytics.DailyMetric
	for rows.Next() {
		var (
			m           analytics.DailyMetric
			contentType string
			funnel      []byte
		)
		if err := rows.Scan(
			&m.TenantID, &contentType, &m.ContentID, &m.Day,
			&m.Views, &m.Starts, &m.Completes, &m.Likes, &m.Shares, &m.Downloads, &m.Bookmarks,
			&m.RatingsCount, &m.UniqueUsers, &m.WatchTimeSeconds,
			&funnel,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}

		m.ContentType = analytics.ContentType(contentType)
		m.Day = analytics.TruncateDay(m.Day)
		if len(funnel) > 0 {
			if err := json.Unmarshal(funnel, &m.Funnel); err != nil {
				return nil, fmt.Errorf("failed to unmarshal funnel for %s: %w", m.Ref(), err)
			}
		}
		metrics = append(metrics, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily metrics: %w", err)
	}
	return metrics, nil
}
