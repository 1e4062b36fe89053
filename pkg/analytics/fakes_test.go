package analytics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/creatorstats/pkg/billing"
	"github.com/platinummonkey/creatorstats/pkg/cache"
)

var (
	testDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	errBoom = errors.New("boom")
)

func at(day time.Time, hour int) time.Time {
	return day.Add(time.Duration(hour) * time.Hour)
}

func event(tenant string, ct ContentType, id string, action ActionType, user string, ts time.Time, md map[string]any) RawEvent {
	return RawEvent{
		TenantID:    tenant,
		ContentType: ct,
		ContentID:   id,
		Action:      action,
		UserID:      user,
		Timestamp:   ts,
		Metadata:    md,
	}
}

// fakeEvents is an in-memory EventSource
type fakeEvents struct {
	mu        sync.Mutex
	events    []RawEvent
	listErr   map[time.Time]error
	queryErr  map[string]error
	countErr  error
	listCalls []Window
	queries   int
}

func newFakeEvents(events ...RawEvent) *fakeEvents {
	return &fakeEvents{
		events:   events,
		listErr:  make(map[time.Time]error),
		queryErr: make(map[string]error),
	}
}

func (f *fakeEvents) add(events ...RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
}

func inWindow(ts time.Time, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && !ts.Before(to) {
		return false
	}
	return true
}

func (f *fakeEvents) ListActiveContent(ctx context.Context, w Window) ([]ContentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls = append(f.listCalls, w)
	if err := f.listErr[w.From]; err != nil {
		return nil, err
	}

	seen := make(map[ContentRef]bool)
	var refs []ContentRef
	for _, ev := range f.events {
		ref := ContentRef{Type: ev.ContentType, ID: ev.ContentID}
		if inWindow(ev.Timestamp, w.From, w.To) && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs, nil
}

func (f *fakeEvents) QueryEvents(ctx context.Context, q EventQuery) ([]RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries++
	if err := f.queryErr[q.ContentID]; err != nil {
		return nil, err
	}
	return f.match(q), nil
}

func (f *fakeEvents) match(q EventQuery) []RawEvent {
	var out []RawEvent
	for _, ev := range f.events {
		if q.TenantID != "" && ev.TenantID != q.TenantID {
			continue
		}
		if q.ContentType != "" && ev.ContentType != q.ContentType {
			continue
		}
		if q.ContentID != "" && ev.ContentID != q.ContentID {
			continue
		}
		if inWindow(ev.Timestamp, q.From, q.To) {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeEvents) CountByAction(ctx context.Context, q EventQuery) (map[ActionType]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.countErr != nil {
		return nil, f.countErr
	}
	counts := make(map[ActionType]int64)
	for _, ev := range f.match(q) {
		counts[ev.Action]++
	}
	return counts, nil
}

// fakeOwnership maps content to its owning tenant
type fakeOwnership struct {
	mu     sync.Mutex
	owners map[ContentRef]string
	errs   map[string]error
	calls  int
}

func newFakeOwnership() *fakeOwnership {
	return &fakeOwnership{
		owners: make(map[ContentRef]string),
		errs:   make(map[string]error),
	}
}

func (f *fakeOwnership) own(tenant string, ct ContentType, ids ...string) *fakeOwnership {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.owners[ContentRef{Type: ct, ID: id}] = tenant
	}
	return f
}

func (f *fakeOwnership) FindOwnerTenant(ctx context.Context, ct ContentType, id string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[id]; err != nil {
		return "", false, err
	}
	owner, ok := f.owners[ContentRef{Type: ct, ID: id}]
	return owner, ok, nil
}

// fakeSubscriptions holds plans per tenant
type fakeSubscriptions struct {
	plans    map[string]billing.PlanTier
	err      error
	eligible []string
}

func (f *fakeSubscriptions) GetPlan(ctx context.Context, tenantID string) (billing.PlanTier, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	plan, ok := f.plans[tenantID]
	return plan, ok, nil
}

func (f *fakeSubscriptions) ListEligibleTenants(ctx context.Context, statuses []billing.SubscriptionStatus) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.eligible, nil
}

// fakeStore is an in-memory MetricStore keyed like the table's unique index
type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]DailyMetric
	writeErr  map[string]error
	listErr   error
	listCalls int
}

func newFakeStore(rows ...DailyMetric) *fakeStore {
	s := &fakeStore{
		rows:     make(map[string]DailyMetric),
		writeErr: make(map[string]error),
	}
	for _, r := range rows {
		s.rows[storeKey(r)] = r
	}
	return s
}

func storeKey(m DailyMetric) string {
	return m.TenantID + "|" + string(m.ContentType) + "|" + m.ContentID + "|" + TruncateDay(m.Day).Format(DateFormat)
}

func (s *fakeStore) UpsertDailyMetric(ctx context.Context, m DailyMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErr[m.ContentID]; err != nil {
		return err
	}
	s.rows[storeKey(m)] = m
	return nil
}

func (s *fakeStore) ListDailyMetrics(ctx context.Context, q MetricQuery) ([]DailyMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	var out []DailyMetric
	for _, r := range s.rows {
		if r.TenantID != q.TenantID {
			continue
		}
		if q.ContentType != "" && r.ContentType != q.ContentType {
			continue
		}
		if r.Day.Before(q.FromDay) || r.Day.After(q.ToDay) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return storeKey(out[i]) < storeKey(out[j]) })
	return out, nil
}

func (s *fakeStore) get(tenant string, ct ContentType, id string, day time.Time) (DailyMetric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[storeKey(DailyMetric{TenantID: tenant, ContentType: ct, ContentID: id, Day: day})]
	return m, ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeInvalidator counts Clear calls
type fakeInvalidator struct {
	clears int
	err    error
}

func (f *fakeInvalidator) Clear(ctx context.Context) error {
	f.clears++
	return f.err
}

// brokenCache fails every operation
type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key cache.Key) ([]byte, bool, error) {
	return nil, false, errBoom
}

func (brokenCache) Set(ctx context.Context, key cache.Key, value []byte, ttl time.Duration) error {
	return errBoom
}

func (brokenCache) Clear(ctx context.Context) error {
	return errBoom
}

func metricRow(tenant string, ct ContentType, id string, day time.Time, c Counters, funnel ...FunnelStep) DailyMetric {
	return DailyMetric{
		TenantID:    tenant,
		ContentType: ct,
		ContentID:   id,
		Day:         day,
		Counters:    c,
		Funnel:      funnel,
	}
}
