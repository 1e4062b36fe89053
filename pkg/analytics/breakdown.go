package analytics

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	UnknownDevice  = "unknown"
	DirectReferrer = "direct"
)

// BreakdownEntry counts events sharing one key
type BreakdownEntry struct {
	Key   string  `json:"key"`
	Count int64   `json:"count"`
	Share float64 `json:"share"`
}

// BreakdownReport is sorted by count descending, then key. Actions is the
// action mix of the same events.
type BreakdownReport struct {
	TenantID string               `json:"tenant_id"`
	Scope    Scope                `json:"scope"`
	From     time.Time            `json:"from"`
	To       time.Time            `json:"to"`
	Total    int64                `json:"total"`
	Actions  map[ActionType]int64 `json:"actions"`
	Entries  []BreakdownEntry     `json:"entries"`
}

// GetDevices groups the tenant's raw events in range by device
func (s *Service) GetDevices(ctx context.Context, req ReportRequest) (*BreakdownReport, error) {
	return s.breakdown(ctx, req, ScopeDevices, "analytics.GetDevices", deviceKey)
}

// GetReferrers groups the tenant's raw events in range by referrer host
func (s *Service) GetReferrers(ctx context.Context, req ReportRequest) (*BreakdownReport, error) {
	return s.breakdown(ctx, req, ScopeReferrers, "analytics.GetReferrers", referrerKey)
}

func (s *Service) breakdown(ctx context.Context, req ReportRequest, scope Scope, spanName string, keyOf func(RawEvent) string) (*BreakdownReport, error) {
	start := s.now()

	r, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, spanName, r)
	defer span.End()

	report, err := readThrough(ctx, s, r.cacheKey(scope), func(ctx context.Context) (*BreakdownReport, error) {
		window := r.eventWindow()
		q := EventQuery{
			TenantID: r.tenantID,
			From:     window.From,
			To:       window.To,
		}

		actions, err := s.events.CountByAction(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to count events: %w", err)
		}

		// raw events are only read when the range has any
		report := &BreakdownReport{Entries: []BreakdownEntry{}}
		if sumCounts(actions) > 0 {
			events, err := s.events.QueryEvents(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("failed to query events: %w", err)
			}
			report = buildBreakdown(events, keyOf)
		}
		report.Actions = actions
		if report.Actions == nil {
			report.Actions = map[ActionType]int64{}
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}

	report.TenantID = r.tenantID
	report.Scope = scope
	report.From = r.from
	report.To = r.to

	s.metrics.ObserveReport(string(scope), planLabel(req.Plan), s.now().Sub(start))
	return report, nil
}

func buildBreakdown(events []RawEvent, keyOf func(RawEvent) string) *BreakdownReport {
	counts := make(map[string]int64)
	for _, ev := range events {
		counts[keyOf(ev)]++
	}

	report := &BreakdownReport{
		Total:   int64(len(events)),
		Entries: make([]BreakdownEntry, 0, len(counts)),
	}
	for key, n := range counts {
		report.Entries = append(report.Entries, BreakdownEntry{
			Key:   key,
			Count: n,
			Share: ratio(n, report.Total),
		})
	}
	sort.Slice(report.Entries, func(i, j int) bool {
		if report.Entries[i].Count != report.Entries[j].Count {
			return report.Entries[i].Count > report.Entries[j].Count
		}
		return report.Entries[i].Key < report.Entries[j].Key
	})
	return report
}

func sumCounts(counts map[ActionType]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

func deviceKey(ev RawEvent) string {
	device := strings.ToLower(metaString(ev.Metadata, MetaDevice))
	if device == "" {
		return UnknownDevice
	}
	return device
}

// referrerKey reduces a referrer URL to its host. Values without a scheme
// such as "example.com/page" are accepted.
func referrerKey(ev RawEvent) string {
	raw := metaString(ev.Metadata, MetaReferrer)
	if raw == "" {
		return DirectReferrer
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return DirectReferrer
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
