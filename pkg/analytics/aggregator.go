package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/creatorstats/pkg/observability"
)

// MaxBackfillDays bounds BackfillForCreator
const MaxBackfillDays = 365

// Reasons an item is skipped during a rollup, used as a metric label
const (
	SkipOwnership = "ownership"
	SkipEvents    = "events"
	SkipWrite     = "write"
)

// Aggregator recomputes daily metric snapshots from raw events
type Aggregator struct {
	events    EventSource
	ownership OwnershipStore
	store     MetricStore
	cache     CacheInvalidator
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewAggregator creates a new aggregator. cache and metrics may be nil.
func NewAggregator(
	events EventSource,
	ownership OwnershipStore,
	store MetricStore,
	cache CacheInvalidator,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Aggregator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Aggregator{
		events:    events,
		ownership: ownership,
		store:     store,
		cache:     cache,
		logger:    logger.WithField("component", "aggregator"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// RollupResult describes one Rollup call
type RollupResult struct {
	TenantID string
	Day      time.Time
	// Active is every content with events in the window, any tenant
	Active  int
	Owned   int
	Written int
	Skipped int
}

// Rollup recomputes every DailyMetric of tenantID for the UTC date of day.
// Items whose ownership lookup, event read or write fails are skipped; only a
// failure to list the day's active content fails the call.
func (a *Aggregator) Rollup(ctx context.Context, tenantID string, day time.Time) (*RollupResult, error) {
	return a.rollup(ctx, a.ownership, tenantID, day)
}

// NewOwnerMemo returns a memo over the aggregator's ownership store for
// rollups that share one set of active content, such as one scheduler run
func (a *Aggregator) NewOwnerMemo() *OwnerMemo {
	return NewOwnerMemo(a.ownership)
}

// RollupWithOwners is Rollup with ownership resolved through owners
func (a *Aggregator) RollupWithOwners(ctx context.Context, owners OwnershipStore, tenantID string, day time.Time) (*RollupResult, error) {
	if owners == nil {
		owners = a.ownership
	}
	return a.rollup(ctx, owners, tenantID, day)
}

func (a *Aggregator) rollup(ctx context.Context, owners OwnershipStore, tenantID string, day time.Time) (*RollupResult, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	window := DayWindow(day)
	result := &RollupResult{TenantID: tenantID, Day: window.From}

	ctx, span := observability.Tracer().Start(ctx, "analytics.Rollup",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("day", window.From.Format(DateFormat)),
		))
	defer span.End()

	logger := a.contextLogger(ctx, tenantID).WithField("day", window.From.Format(DateFormat))

	refs, err := a.events.ListActiveContent(ctx, window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active content")
		return nil, fmt.Errorf("failed to list active content: %w", err)
	}
	result.Active = len(refs)

	var interrupted error
	for _, ref := range refs {
		if interrupted = ctx.Err(); interrupted != nil {
			break
		}

		owner, found, err := owners.FindOwnerTenant(ctx, ref.Type, ref.ID)
		if err != nil {
			logger.WithError(err).WithField("content", ref.String()).Warn("Ownership lookup failed, skipping content")
			a.skip(result, SkipOwnership)
			continue
		}
		if !found || owner != tenantID {
			continue
		}
		result.Owned++

		events, err := a.events.QueryEvents(ctx, EventQuery{
			ContentType: ref.Type,
			ContentID:   ref.ID,
			From:        window.From,
			To:          window.To,
		})
		if err != nil {
			logger.WithError(err).WithField("content", ref.String()).Warn("Event query failed, skipping content")
			a.skip(result, SkipEvents)
			continue
		}

		metric := BuildDailyMetric(tenantID, ref, window.From, events)

		if err := a.store.UpsertDailyMetric(ctx, metric); err != nil {
			logger.WithError(err).WithField("content", ref.String()).Error("Failed to write daily metric")
			a.skip(result, SkipWrite)
			continue
		}
		result.Written++
	}

	a.metrics.AddRowsWritten(result.Written)
	span.SetAttributes(
		attribute.Int("rollup.written", result.Written),
		attribute.Int("rollup.skipped", result.Skipped),
	)

	// rows already written must not be shadowed by stale reports, even when interrupted
	if result.Written > 0 && a.cache != nil {
		if err := a.cache.Clear(context.WithoutCancel(ctx)); err != nil {
			a.metrics.IncCacheError("clear")
			logger.WithError(err).Warn("Failed to clear report cache")
		} else {
			a.metrics.IncCacheClear()
		}
	}

	if interrupted != nil {
		span.RecordError(interrupted)
		span.SetStatus(codes.Error, "interrupted")
		logger.WithError(interrupted).Warnf("Rollup interrupted after %d writes", result.Written)
		return result, interrupted
	}

	logger.WithFields(map[string]interface{}{
		"active":  result.Active,
		"owned":   result.Owned,
		"written": result.Written,
		"skipped": result.Skipped,
	}).Debug("Rollup complete")

	return result, nil
}

// contextLogger prefers the logger a caller put on ctx, and carries the
// run, tenant and trace ids
func (a *Aggregator) contextLogger(ctx context.Context, tenantID string) *observability.Logger {
	logger := observability.FromContext(ctx, a.logger)
	if observability.GetTenantID(ctx) == "" {
		logger = logger.WithField("tenant_id", tenantID)
	}
	return observability.UpdateLoggerWithTraceContext(ctx, logger)
}

func (a *Aggregator) skip(result *RollupResult, reason string) {
	result.Skipped++
	a.metrics.IncItemSkipped(reason)
}

// BuildDailyMetric computes the snapshot for one content from that day's
// events. Events for other content are ignored.
func BuildDailyMetric(tenantID string, ref ContentRef, day time.Time, events []RawEvent) DailyMetric {
	metric := DailyMetric{
		TenantID:    tenantID,
		ContentType: ref.Type,
		ContentID:   ref.ID,
		Day:         TruncateDay(day),
	}

	users := make(map[string]struct{})
	funnelKey := ref.Type.funnelKey()
	steps := make(map[string]*FunnelStep)

	for _, ev := range events {
		if ev.ContentID != ref.ID || (ev.ContentType != "" && ev.ContentType != ref.Type) {
			continue
		}

		metric.count(ev.Action)
		if ev.UserID != "" {
			users[ev.UserID] = struct{}{}
		}
		metric.WatchTimeSeconds = addSeconds(metric.WatchTimeSeconds, metaSeconds(ev.Metadata, MetaWatchTime))

		if funnelKey == "" {
			continue
		}
		subItem := metaString(ev.Metadata, funnelKey)
		if subItem == "" {
			continue
		}
		step, ok := steps[subItem]
		if !ok {
			step = &FunnelStep{SubItemID: subItem}
			steps[subItem] = step
		}
		switch ev.Action {
		case ActionView:
			step.Views++
		case ActionStart:
			step.Starts++
		case ActionComplete:
			step.Completes++
		}
	}

	metric.UniqueUsers = int64(len(users))
	metric.Funnel = sortedFunnel(steps)
	return metric
}

func sortedFunnel(steps map[string]*FunnelStep) []FunnelStep {
	if len(steps) == 0 {
		return nil
	}
	funnel := make([]FunnelStep, 0, len(steps))
	for _, step := range steps {
		step.CompletionRate = completionRate(step.Starts, step.Completes)
		funnel = append(funnel, *step)
	}
	sort.Slice(funnel, func(i, j int) bool {
		return funnel[i].SubItemID < funnel[j].SubItemID
	})
	return funnel
}

// BackfillResult describes a BackfillForCreator call
type BackfillResult struct {
	TenantID string
	Days     []*RollupResult
	Failed   []time.Time
}

// RowsWritten sums written rows across all days
func (r *BackfillResult) RowsWritten() int {
	total := 0
	for _, d := range r.Days {
		total += d.Written
	}
	return total
}

// ClampBackfillDays bounds n to [1, MaxBackfillDays]
func ClampBackfillDays(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBackfillDays {
		return MaxBackfillDays
	}
	return n
}

// BackfillForCreator rolls up the last nDays UTC days ending today, oldest
// first. Days are independent: a failed day is recorded and the rest still
// run. Calling it again is the recovery path for a partial backfill.
func (a *Aggregator) BackfillForCreator(ctx context.Context, tenantID string, nDays int) (*BackfillResult, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	n := ClampBackfillDays(nDays)
	today := TruncateDay(a.now())
	result := &BackfillResult{TenantID: tenantID}

	ctx, span := observability.Tracer().Start(ctx, "analytics.BackfillForCreator",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int("days", n),
		))
	defer span.End()

	// ownership does not change between the days of one backfill
	owners := a.NewOwnerMemo()

	var errs []error
	for i := n - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		day := today.AddDate(0, 0, -i)
		res, err := a.rollup(ctx, owners, tenantID, day)
		if err != nil {
			a.logger.WithError(err).WithFields(map[string]interface{}{
				"tenant_id": tenantID,
				"day":       day.Format(DateFormat),
			}).Error("Backfill day failed")
			result.Failed = append(result.Failed, day)
			errs = append(errs, fmt.Errorf("backfill %s: %w", day.Format(DateFormat), err))
			continue
		}
		result.Days = append(result.Days, res)
	}

	a.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"days":      n,
		"failed":    len(result.Failed),
		"written":   result.RowsWritten(),
	}).Info("Backfill complete")

	if len(errs) > 0 {
		span.SetStatus(codes.Error, "backfill incomplete")
		return result, errors.Join(errs...)
	}
	return result, nil
}
