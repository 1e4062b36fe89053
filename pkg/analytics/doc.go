// Package analytics rolls raw content events up into daily per-content
// metrics and builds tenant reports from them.
//
// # Rollup
//
// Aggregator.Rollup recomputes every DailyMetric of a tenant for one UTC day.
// Each row is a full snapshot written with an upsert, so a rollup can be
// repeated any number of times without double counting:
//
//	agg := analytics.NewAggregator(events, ownership, store, reportCache, logger, metrics)
//	res, err := agg.Rollup(ctx, tenantID, time.Now())
//
// Content whose ownership lookup or event read fails is skipped and the rest
// of the day still rolls up. Every successful write clears the report cache.
//
// BackfillForCreator repeats Rollup for the last n days (1 to 365).
//
// # Reports
//
// Service reads daily metrics through the report cache:
//
//	GetOverview       totals, daily trend and top content, shaped by plan
//	GetByContentType  per-content report for courses, challenges, sessions,
//	                  events, products or posts
//	GetDevices        raw events by device
//	GetReferrers      raw events by referrer host
//	ExportCSV         CSV of a report, pro plan only
//
// Report ranges are inclusive UTC days. Without From and To a report covers
// the last 30 days.
//
// # Plan shaping
//
//	starter  Totals, Trend7d, TopContents
//	growth   + Trend28d
//	pro      + TrendAll, CSV export
package analytics
