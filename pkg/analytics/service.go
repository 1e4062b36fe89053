package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/creatorstats/pkg/billing"
	"github.com/platinummonkey/creatorstats/pkg/cache"
	"github.com/platinummonkey/creatorstats/pkg/observability"
)

// DefaultRangeDays is the report window when the caller gives no From
const DefaultRangeDays = 30

// TopContentLimit is the number of entries in OverviewReport.TopContents
const TopContentLimit = 3

// ServiceConfig wires the report service
type ServiceConfig struct {
	Store         MetricStore
	Events        EventSource
	Subscriptions SubscriptionStore
	// Cache is optional; nil disables caching
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Service builds tenant reports from daily metrics
type Service struct {
	store         MetricStore
	events        EventSource
	subscriptions SubscriptionStore
	cache         cache.Cache
	cacheTTL      time.Duration
	logger        *observability.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewService creates a new report service
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		store:         cfg.Store,
		events:        cfg.Events,
		subscriptions: cfg.Subscriptions,
		cache:         cfg.Cache,
		cacheTTL:      cfg.CacheTTL,
		logger:        logger.WithField("component", "reports"),
		metrics:       cfg.Metrics,
		now:           time.Now,
	}
}

// ReportRequest selects a tenant and an inclusive day range. A zero To means
// today and a zero From means To minus DefaultRangeDays. An empty Plan is
// resolved from the subscription store.
type ReportRequest struct {
	TenantID string
	From     time.Time
	To       time.Time
	Plan     billing.PlanTier
}

// reportRange is a validated ReportRequest
type reportRange struct {
	tenantID string
	from     time.Time
	to       time.Time
}

func (r reportRange) metricQuery(contentType ContentType) MetricQuery {
	return MetricQuery{
		TenantID:    r.tenantID,
		ContentType: contentType,
		FromDay:     r.from,
		ToDay:       r.to,
	}
}

// eventWindow covers every instant of the inclusive day range
func (r reportRange) eventWindow() Window {
	return Window{From: r.from, To: r.to.AddDate(0, 0, 1)}
}

func (r reportRange) cacheKey(scope Scope) cache.Key {
	return cache.Key{TenantID: r.tenantID, From: r.from, To: r.to, Scope: string(scope)}
}

func (s *Service) normalize(req ReportRequest) (reportRange, error) {
	if req.TenantID == "" {
		return reportRange{}, ErrMissingTenant
	}

	to := req.To
	if to.IsZero() {
		to = s.now()
	}
	to = TruncateDay(to)

	from := req.From
	if from.IsZero() {
		from = to.AddDate(0, 0, -DefaultRangeDays)
	}
	from = TruncateDay(from)

	if from.After(to) {
		return reportRange{}, fmt.Errorf("%w: from %s is after to %s",
			ErrInvalidRange, from.Format(DateFormat), to.Format(DateFormat))
	}

	return reportRange{tenantID: req.TenantID, from: from, to: to}, nil
}

// resolvePlan returns the requested plan, or the tenant's plan, or the default
func (s *Service) resolvePlan(ctx context.Context, req ReportRequest) (billing.PlanTier, error) {
	if req.Plan != "" {
		if !req.Plan.Valid() {
			return "", fmt.Errorf("%w: %q", ErrInvalidPlan, req.Plan)
		}
		return req.Plan, nil
	}

	if s.subscriptions == nil {
		return billing.DefaultPlan, nil
	}

	plan, found, err := s.subscriptions.GetPlan(ctx, req.TenantID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve plan: %w", err)
	}
	if !found || !plan.Valid() {
		return billing.DefaultPlan, nil
	}
	return plan, nil
}

// readThrough serves key from the cache, or calls load and caches its result.
// Cache failures are logged and fall back to load.
func readThrough[T any](ctx context.Context, s *Service, key cache.Key, load func(context.Context) (T, error)) (T, error) {
	logger := s.logger.WithField("tenant_id", key.TenantID).WithField("scope", key.Scope)

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.metrics.IncCacheError("get")
			logger.WithError(err).Warn("Report cache read failed")
		case ok:
			var cached T
			if err := json.Unmarshal(data, &cached); err == nil {
				s.metrics.IncCacheHit(key.Scope)
				return cached, nil
			}
			s.metrics.IncCacheError("decode")
			logger.Warn("Discarding undecodable report cache entry")
		default:
			s.metrics.IncCacheMiss(key.Scope)
		}
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if s.cache != nil {
		data, err := json.Marshal(value)
		if err == nil {
			err = s.cache.Set(ctx, key, data, s.cacheTTL)
		}
		if err != nil {
			s.metrics.IncCacheError("set")
			logger.WithError(err).Warn("Report cache write failed")
		}
	}

	return value, nil
}

func (s *Service) startSpan(ctx context.Context, name string, r reportRange) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("tenant_id", r.tenantID),
		attribute.String("from", r.from.Format(DateFormat)),
		attribute.String("to", r.to.Format(DateFormat)),
	))
}

// TrendPoint sums one day across all content
type TrendPoint struct {
	Day              time.Time `json:"day"`
	Views            int64     `json:"views"`
	Starts           int64     `json:"starts"`
	Completes        int64     `json:"completes"`
	WatchTimeSeconds int64     `json:"watch_time_seconds"`
}

// TopContent is a content ranked by views over the range
type TopContent struct {
	ContentRef
	Views int64 `json:"views"`
}

// overviewAggregate is the plan-independent part of an overview, cached as is
type overviewAggregate struct {
	Totals      Counters     `json:"totals"`
	Trend       []TrendPoint `json:"trend"`
	TopContents []TopContent `json:"top_contents"`
}

// OverviewReport is an overview shaped by plan tier. Trend28d is set from
// growth up and TrendAll only for pro; all trend slices are tails of the
// same ascending trend.
type OverviewReport struct {
	TenantID    string           `json:"tenant_id"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Plan        billing.PlanTier `json:"plan"`
	Totals      Counters         `json:"totals"`
	Trend7d     []TrendPoint     `json:"trend_7d"`
	Trend28d    []TrendPoint     `json:"trend_28d,omitempty"`
	TrendAll    []TrendPoint     `json:"trend_all,omitempty"`
	TopContents []TopContent     `json:"top_contents"`
}

// GetOverview returns totals, trend and top content for the range
func (s *Service) GetOverview(ctx context.Context, req ReportRequest) (*OverviewReport, error) {
	start := s.now()

	r, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "analytics.GetOverview", r)
	defer span.End()

	plan, err := s.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}

	agg, err := readThrough(ctx, s, r.cacheKey(ScopeOverview), func(ctx context.Context) (overviewAggregate, error) {
		rows, err := s.store.ListDailyMetrics(ctx, r.metricQuery(""))
		if err != nil {
			return overviewAggregate{}, fmt.Errorf("failed to list daily metrics: %w", err)
		}
		return buildOverview(rows), nil
	})
	if err != nil {
		return nil, err
	}

	report := shapeOverview(agg, plan)
	report.TenantID = r.tenantID
	report.From = r.from
	report.To = r.to

	s.metrics.ObserveReport(string(ScopeOverview), string(plan), s.now().Sub(start))
	return report, nil
}

func buildOverview(rows []DailyMetric) overviewAggregate {
	var agg overviewAggregate

	byDay := make(map[time.Time]*TrendPoint)
	byContent := make(map[ContentRef]int64)

	for _, row := range rows {
		agg.Totals.Add(row.Counters)

		day := TruncateDay(row.Day)
		point, ok := byDay[day]
		if !ok {
			point = &TrendPoint{Day: day}
			byDay[day] = point
		}
		point.Views += row.Views
		point.Starts += row.Starts
		point.Completes += row.Completes
		point.WatchTimeSeconds = addSeconds(point.WatchTimeSeconds, row.WatchTimeSeconds)

		byContent[row.Ref()] += row.Views
	}

	agg.Trend = make([]TrendPoint, 0, len(byDay))
	for _, point := range byDay {
		agg.Trend = append(agg.Trend, *point)
	}
	sort.Slice(agg.Trend, func(i, j int) bool {
		return agg.Trend[i].Day.Before(agg.Trend[j].Day)
	})

	top := make([]TopContent, 0, len(byContent))
	for ref, views := range byContent {
		top = append(top, TopContent{ContentRef: ref, Views: views})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Views != top[j].Views {
			return top[i].Views > top[j].Views
		}
		if top[i].ID != top[j].ID {
			return top[i].ID < top[j].ID
		}
		return top[i].Type < top[j].Type
	})
	if len(top) > TopContentLimit {
		top = top[:TopContentLimit]
	}
	agg.TopContents = top

	return agg
}

func shapeOverview(agg overviewAggregate, plan billing.PlanTier) *OverviewReport {
	report := &OverviewReport{
		Plan:        plan,
		Totals:      agg.Totals,
		Trend7d:     tail(agg.Trend, 7),
		TopContents: agg.TopContents,
	}
	if plan.AtLeast(billing.PlanGrowth) {
		report.Trend28d = tail(agg.Trend, 28)
	}
	if plan.AtLeast(billing.PlanPro) {
		report.TrendAll = agg.Trend
	}
	return report
}

// tail returns the last n points, or all of them when there are fewer
func tail(points []TrendPoint, n int) []TrendPoint {
	if len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}
