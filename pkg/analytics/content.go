package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/platinummonkey/creatorstats/pkg/billing"
)

// Scope names a report
type Scope string

const (
	ScopeOverview   Scope = "overview"
	ScopeCourses    Scope = "courses"
	ScopeChallenges Scope = "challenges"
	ScopeSessions   Scope = "sessions"
	ScopeEvents     Scope = "events"
	ScopeProducts   Scope = "products"
	ScopePosts      Scope = "posts"
	ScopeDevices    Scope = "devices"
	ScopeReferrers  Scope = "referrers"
)

var scopeContentTypes = map[Scope]ContentType{
	ScopeCourses:    ContentCourse,
	ScopeChallenges: ContentChallenge,
	ScopeSessions:   ContentSession,
	ScopeEvents:     ContentEvent,
	ScopeProducts:   ContentProduct,
	ScopePosts:      ContentPost,
}

// ContentType returns the content type a per-type scope reports on
func (s Scope) ContentType() (ContentType, bool) {
	ct, ok := scopeContentTypes[s]
	return ct, ok
}

// ContentScopes lists the per-content-type scopes
func ContentScopes() []Scope {
	return []Scope{ScopeCourses, ScopeChallenges, ScopeSessions, ScopeEvents, ScopeProducts, ScopePosts}
}

// ContentItem is one content's counters summed over the range
type ContentItem struct {
	ContentID string `json:"content_id"`
	Counters
}

// contentAggregate is cached per (tenant, range, scope)
type contentAggregate struct {
	ContentID string       `json:"content_id"`
	Counters  Counters     `json:"counters"`
	Funnel    []FunnelStep `json:"funnel,omitempty"`
}

// ContentReport is implemented by one report type per content type
type ContentReport interface {
	ContentType() ContentType
	Len() int
	csvTable() (header []string, rows [][]string)
}

// CourseMetrics adds the chapter funnel to a course
type CourseMetrics struct {
	ContentItem
	CompletionRate float64      `json:"completion_rate"`
	Chapters       []FunnelStep `json:"chapters"`
}

// CourseReport is sorted by views, descending
type CourseReport struct {
	Courses []CourseMetrics `json:"courses"`
}

// ChallengeMetrics adds the task funnel to a challenge
type ChallengeMetrics struct {
	ContentItem
	CompletionRate float64      `json:"completion_rate"`
	Tasks          []FunnelStep `json:"tasks"`
}

// ChallengeReport is sorted by completes, descending
type ChallengeReport struct {
	Challenges []ChallengeMetrics `json:"challenges"`
}

// WatchMetrics adds average watch time per view
type WatchMetrics struct {
	ContentItem
	AvgWatchTimeSeconds float64 `json:"avg_watch_time_seconds"`
}

type SessionReport struct {
	Sessions []WatchMetrics `json:"sessions"`
}

type EventReport struct {
	Events []WatchMetrics `json:"events"`
}

// ProductMetrics adds the view to download conversion rate
type ProductMetrics struct {
	ContentItem
	ConversionRate float64 `json:"conversion_rate"`
}

type ProductReport struct {
	Products []ProductMetrics `json:"products"`
}

// PostMetrics adds (likes+shares+bookmarks)/views
type PostMetrics struct {
	ContentItem
	EngagementRate float64 `json:"engagement_rate"`
}

type PostReport struct {
	Posts []PostMetrics `json:"posts"`
}

func (*CourseReport) ContentType() ContentType    { return ContentCourse }
func (*ChallengeReport) ContentType() ContentType { return ContentChallenge }
func (*SessionReport) ContentType() ContentType   { return ContentSession }
func (*EventReport) ContentType() ContentType     { return ContentEvent }
func (*ProductReport) ContentType() ContentType   { return ContentProduct }
func (*PostReport) ContentType() ContentType      { return ContentPost }

func (r *CourseReport) Len() int    { return len(r.Courses) }
func (r *ChallengeReport) Len() int { return len(r.Challenges) }
func (r *SessionReport) Len() int   { return len(r.Sessions) }
func (r *EventReport) Len() int     { return len(r.Events) }
func (r *ProductReport) Len() int   { return len(r.Products) }
func (r *PostReport) Len() int      { return len(r.Posts) }

// ContentTypeReport wraps the per-type report for one scope
type ContentTypeReport struct {
	TenantID    string        `json:"tenant_id"`
	Scope       Scope         `json:"scope"`
	ContentType ContentType   `json:"content_type"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Report      ContentReport `json:"report"`
}

// GetByContentType sums each content of the scope's type over the range
func (s *Service) GetByContentType(ctx context.Context, req ReportRequest, scope Scope) (*ContentTypeReport, error) {
	start := s.now()

	contentType, ok := scope.ContentType()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}

	r, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "analytics.GetByContentType", r)
	defer span.End()

	items, err := s.contentAggregates(ctx, r, scope, contentType)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveReport(string(scope), planLabel(req.Plan), s.now().Sub(start))
	return &ContentTypeReport{
		TenantID:    r.tenantID,
		Scope:       scope,
		ContentType: contentType,
		From:        r.from,
		To:          r.to,
		Report:      buildContentReport(contentType, items),
	}, nil
}

func (s *Service) contentAggregates(ctx context.Context, r reportRange, scope Scope, contentType ContentType) ([]contentAggregate, error) {
	return readThrough(ctx, s, r.cacheKey(scope), func(ctx context.Context) ([]contentAggregate, error) {
		rows, err := s.store.ListDailyMetrics(ctx, r.metricQuery(contentType))
		if err != nil {
			return nil, fmt.Errorf("failed to list daily metrics: %w", err)
		}
		return groupByContent(rows, contentType), nil
	})
}

// groupByContent sums rows per content id and merges funnels by sub-item
func groupByContent(rows []DailyMetric, contentType ContentType) []contentAggregate {
	byID := make(map[string]*contentAggregate)
	steps := make(map[string]map[string]*FunnelStep)

	for _, row := range rows {
		if row.ContentType != contentType {
			continue
		}
		agg, ok := byID[row.ContentID]
		if !ok {
			agg = &contentAggregate{ContentID: row.ContentID}
			byID[row.ContentID] = agg
			steps[row.ContentID] = make(map[string]*FunnelStep)
		}
		agg.Counters.Add(row.Counters)

		for _, step := range row.Funnel {
			merged, ok := steps[row.ContentID][step.SubItemID]
			if !ok {
				merged = &FunnelStep{SubItemID: step.SubItemID}
				steps[row.ContentID][step.SubItemID] = merged
			}
			merged.Views += step.Views
			merged.Starts += step.Starts
			merged.Completes += step.Completes
		}
	}

	out := make([]contentAggregate, 0, len(byID))
	for id, agg := range byID {
		agg.Funnel = sortedFunnel(steps[id])
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ContentID < out[j].ContentID
	})
	return out
}

func buildContentReport(contentType ContentType, items []contentAggregate) ContentReport {
	switch contentType {
	case ContentCourse:
		report := &CourseReport{Courses: make([]CourseMetrics, 0, len(items))}
		for _, it := range items {
			report.Courses = append(report.Courses, CourseMetrics{
				ContentItem:    it.item(),
				CompletionRate: completionRate(it.Counters.Starts, it.Counters.Completes),
				Chapters:       nonNil(it.Funnel),
			})
		}
		sort.SliceStable(report.Courses, func(i, j int) bool {
			return report.Courses[i].Views > report.Courses[j].Views
		})
		return report

	case ContentChallenge:
		report := &ChallengeReport{Challenges: make([]ChallengeMetrics, 0, len(items))}
		for _, it := range items {
			report.Challenges = append(report.Challenges, ChallengeMetrics{
				ContentItem:    it.item(),
				CompletionRate: completionRate(it.Counters.Starts, it.Counters.Completes),
				Tasks:          nonNil(it.Funnel),
			})
		}
		sort.SliceStable(report.Challenges, func(i, j int) bool {
			return report.Challenges[i].Completes > report.Challenges[j].Completes
		})
		return report

	case ContentSession:
		return &SessionReport{Sessions: watchMetrics(items)}

	case ContentEvent:
		return &EventReport{Events: watchMetrics(items)}

	case ContentProduct:
		report := &ProductReport{Products: make([]ProductMetrics, 0, len(items))}
		for _, it := range items {
			report.Products = append(report.Products, ProductMetrics{
				ContentItem:    it.item(),
				ConversionRate: ratio(it.Counters.Downloads, it.Counters.Views),
			})
		}
		sort.SliceStable(report.Products, func(i, j int) bool {
			return report.Products[i].Views > report.Products[j].Views
		})
		return report

	default:
		report := &PostReport{Posts: make([]PostMetrics, 0, len(items))}
		for _, it := range items {
			c := it.Counters
			report.Posts = append(report.Posts, PostMetrics{
				ContentItem:    it.item(),
				EngagementRate: ratio(c.Likes+c.Shares+c.Bookmarks, c.Views),
			})
		}
		sort.SliceStable(report.Posts, func(i, j int) bool {
			return report.Posts[i].Views > report.Posts[j].Views
		})
		return report
	}
}

func (a contentAggregate) item() ContentItem {
	return ContentItem{ContentID: a.ContentID, Counters: a.Counters}
}

func watchMetrics(items []contentAggregate) []WatchMetrics {
	out := make([]WatchMetrics, 0, len(items))
	for _, it := range items {
		out = append(out, WatchMetrics{
			ContentItem:         it.item(),
			AvgWatchTimeSeconds: ratio(it.Counters.WatchTimeSeconds, it.Counters.Views),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Views > out[j].Views
	})
	return out
}

func nonNil(steps []FunnelStep) []FunnelStep {
	if steps == nil {
		return []FunnelStep{}
	}
	return steps
}

// ratio is num/den, 0 when den is 0
func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

var counterHeader = []string{
	"content_id", "views", "starts", "completes", "likes", "shares", "downloads",
	"bookmarks", "ratings_count", "unique_users", "watch_time_seconds",
}

func counterRow(it ContentItem, extra ...string) []string {
	c := it.Counters
	row := []string{
		it.ContentID,
		itoa(c.Views), itoa(c.Starts), itoa(c.Completes), itoa(c.Likes), itoa(c.Shares),
		itoa(c.Downloads), itoa(c.Bookmarks), itoa(c.RatingsCount), itoa(c.UniqueUsers),
		itoa(c.WatchTimeSeconds),
	}
	return append(row, extra...)
}

func withColumn(col string) []string {
	return append(append([]string{}, counterHeader...), col)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

func (r *CourseReport) csvTable() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Courses))
	for _, c := range r.Courses {
		rows = append(rows, counterRow(c.ContentItem, ftoa(c.CompletionRate)))
	}
	return withColumn("completion_rate"), rows
}

func (r *ChallengeReport) csvTable() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Challenges))
	for _, c := range r.Challenges {
		rows = append(rows, counterRow(c.ContentItem, ftoa(c.CompletionRate)))
	}
	return withColumn("completion_rate"), rows
}

func watchTable(items []WatchMetrics) ([]string, [][]string) {
	rows := make([][]string, 0, len(items))
	for _, w := range items {
		rows = append(rows, counterRow(w.ContentItem, ftoa(w.AvgWatchTimeSeconds)))
	}
	return withColumn("avg_watch_time_seconds"), rows
}

func (r *SessionReport) csvTable() ([]string, [][]string) { return watchTable(r.Sessions) }
func (r *EventReport) csvTable() ([]string, [][]string)   { return watchTable(r.Events) }

func (r *ProductReport) csvTable() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Products))
	for _, p := range r.Products {
		rows = append(rows, counterRow(p.ContentItem, ftoa(p.ConversionRate)))
	}
	return withColumn("conversion_rate"), rows
}

func (r *PostReport) csvTable() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Posts))
	for _, p := range r.Posts {
		rows = append(rows, counterRow(p.ContentItem, ftoa(p.EngagementRate)))
	}
	return withColumn("engagement_rate"), rows
}

// planLabel is used for metrics when the plan was not resolved
func planLabel(p billing.PlanTier) string {
	if p == "" {
		return "unresolved"
	}
	return string(p)
}
