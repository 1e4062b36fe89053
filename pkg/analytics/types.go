package analytics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ActionType is the kind of interaction recorded by a raw event
type ActionType string

const (
	ActionView     ActionType = "view"
	ActionStart    ActionType = "start"
	ActionComplete ActionType = "complete"
	ActionLike     ActionType = "like"
	ActionShare    ActionType = "share"
	ActionDownload ActionType = "download"
	ActionBookmark ActionType = "bookmark"
	ActionRate     ActionType = "rate"
)

// ContentType identifies a family of tenant-owned content
type ContentType string

const (
	ContentCourse    ContentType = "course"
	ContentChallenge ContentType = "challenge"
	ContentSession   ContentType = "session"
	ContentEvent     ContentType = "event"
	ContentProduct   ContentType = "product"
	ContentPost      ContentType = "post"
)

// Metadata keys read from raw events
const (
	MetaChapterID = "chapter_id"
	MetaTaskID    = "task_id"
	MetaWatchTime = "watch_time"
	MetaDevice    = "device"
	MetaReferrer  = "referrer"
)

// funnelKey returns the metadata key carrying the sub-item id for content
// types that have a funnel, or "" when the type has none.
func (c ContentType) funnelKey() string {
	switch c {
	case ContentCourse:
		return MetaChapterID
	case ContentChallenge:
		return MetaTaskID
	default:
		return ""
	}
}

// HasFunnel reports whether daily metrics for this type carry a funnel
func (c ContentType) HasFunnel() bool {
	return c.funnelKey() != ""
}

// RawEvent is a single content interaction, owned by the tracking system
type RawEvent struct {
	TenantID    string
	ContentType ContentType
	ContentID   string
	Action      ActionType
	UserID      string
	Timestamp   time.Time
	Metadata    map[string]any
}

// ContentRef identifies one piece of content
type ContentRef struct {
	Type ContentType `json:"content_type"`
	ID   string      `json:"content_id"`
}

func (r ContentRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Counters holds the summable fields of a daily metric
type Counters struct {
	Views            int64 `json:"views"`
	Starts           int64 `json:"starts"`
	Completes        int64 `json:"completes"`
	Likes            int64 `json:"likes"`
	Shares           int64 `json:"shares"`
	Downloads        int64 `json:"downloads"`
	Bookmarks        int64 `json:"bookmarks"`
	RatingsCount     int64 `json:"ratings_count"`
	UniqueUsers      int64 `json:"unique_users"`
	WatchTimeSeconds int64 `json:"watch_time_seconds"`
}

// Add sums other into c
func (c *Counters) Add(other Counters) {
	c.Views += other.Views
	c.Starts += other.Starts
	c.Completes += other.Completes
	c.Likes += other.Likes
	c.Shares += other.Shares
	c.Downloads += other.Downloads
	c.Bookmarks += other.Bookmarks
	c.RatingsCount += other.RatingsCount
	c.UniqueUsers += other.UniqueUsers
	c.WatchTimeSeconds = addSeconds(c.WatchTimeSeconds, other.WatchTimeSeconds)
}

// count increments the counter matching the action
func (c *Counters) count(action ActionType) {
	switch action {
	case ActionView:
		c.Views++
	case ActionStart:
		c.Starts++
	case ActionComplete:
		c.Completes++
	case ActionLike:
		c.Likes++
	case ActionShare:
		c.Shares++
	case ActionDownload:
		c.Downloads++
	case ActionBookmark:
		c.Bookmarks++
	case ActionRate:
		c.RatingsCount++
	}
}

// FunnelStep is one chapter (course) or task (challenge) of a funnel
type FunnelStep struct {
	SubItemID      string  `json:"sub_item_id"`
	Views          int64   `json:"views"`
	Starts         int64   `json:"starts"`
	Completes      int64   `json:"completes"`
	CompletionRate float64 `json:"completion_rate"`
}

// completionRate is completes/starts, 0 when there were no starts, and never above 1
func completionRate(starts, completes int64) float64 {
	if starts <= 0 || completes <= 0 {
		return 0
	}
	rate := float64(completes) / float64(starts)
	if rate > 1 {
		return 1
	}
	return rate
}

// DailyMetric is the full recomputed snapshot for one piece of content on one UTC day.
// Uniqueness key: (TenantID, ContentType, ContentID, Day).
type DailyMetric struct {
	TenantID    string       `json:"tenant_id"`
	ContentType ContentType  `json:"content_type"`
	ContentID   string       `json:"content_id"`
	Day         time.Time    `json:"day"`
	Counters
	Funnel []FunnelStep `json:"funnel,omitempty"`
}

// Ref returns the content reference of the metric
func (m DailyMetric) Ref() ContentRef {
	return ContentRef{Type: m.ContentType, ID: m.ContentID}
}

// Window is a half-open time range [From, To)
type Window struct {
	From time.Time
	To   time.Time
}

// TruncateDay normalizes t to midnight UTC of its calendar date
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the UTC window covering the calendar date of day
func DayWindow(day time.Time) Window {
	start := TruncateDay(day)
	return Window{From: start, To: start.AddDate(0, 0, 1)}
}

// DateFormat is the day format used in trend points and CSV rows
const DateFormat = "2006-01-02"

// metaString reads a metadata value as a string
func metaString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	switch v := md[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// metaSeconds reads a numeric metadata value as whole seconds; invalid values count as 0
func metaSeconds(md map[string]any, key string) int64 {
	if md == nil {
		return 0
	}
	var secs float64
	switch v := md[key].(type) {
	case float64:
		secs = v
	case float32:
		secs = float64(v)
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case int32:
		secs = float64(v)
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		secs = f
	default:
		return 0
	}
	if math.IsNaN(secs) || secs <= 0 {
		return 0
	}
	if secs >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(secs)
}

// addSeconds adds non-negative n to total, stopping at math.MaxInt64
func addSeconds(total, n int64) int64 {
	if n > 0 && total > math.MaxInt64-n {
		return math.MaxInt64
	}
	return total + n
}
