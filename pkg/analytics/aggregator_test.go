package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/creatorstats/pkg/observability"
)

type aggregatorFixture struct {
	events    *fakeEvents
	ownership *fakeOwnership
	store     *fakeStore
	cache     *fakeInvalidator
	agg       *Aggregator
}

func newAggregatorFixture(events ...RawEvent) *aggregatorFixture {
	f := &aggregatorFixture{
		events:    newFakeEvents(events...),
		ownership: newFakeOwnership(),
		store:     newFakeStore(),
		cache:     &fakeInvalidator{},
	}
	f.agg = NewAggregator(f.events, f.ownership, f.store, f.cache, nil, nil)
	f.agg.now = func() time.Time { return at(testDay, 15) }
	return f
}

func TestRollup_CountsActions(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentCourse, "c1", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentCourse, "c1", ActionView, "u2", at(testDay, 2), nil),
		event("", ContentCourse, "c1", ActionView, "u1", at(testDay, 3), nil),
		event("", ContentCourse, "c1", ActionComplete, "u1", at(testDay, 4), nil),
	)
	f.ownership.own("t1", ContentCourse, "c1")

	res, err := f.agg.Rollup(context.Background(), "t1", at(testDay, 9))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, testDay, res.Day)

	m, ok := f.store.get("t1", ContentCourse, "c1", testDay)
	require.True(t, ok)
	assert.Equal(t, int64(3), m.Views)
	assert.Equal(t, int64(1), m.Completes)
	assert.Equal(t, int64(0), m.Starts)
	assert.Equal(t, int64(2), m.UniqueUsers)
	assert.Equal(t, testDay, m.Day)
}

func TestRollup_RecomputesOnRerun(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentCourse, "c1", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentCourse, "c1", ActionView, "u2", at(testDay, 2), nil),
		event("", ContentCourse, "c1", ActionView, "u3", at(testDay, 3), nil),
	)
	f.ownership.own("t1", ContentCourse, "c1")
	ctx := context.Background()

	_, err := f.agg.Rollup(ctx, "t1", testDay)
	require.NoError(t, err)
	m, _ := f.store.get("t1", ContentCourse, "c1", testDay)
	assert.Equal(t, int64(3), m.Views)

	f.events.add(
		event("", ContentCourse, "c1", ActionView, "u4", at(testDay, 5), nil),
		event("", ContentCourse, "c1", ActionView, "u5", at(testDay, 6), nil),
	)

	_, err = f.agg.Rollup(ctx, "t1", testDay)
	require.NoError(t, err)
	m, _ = f.store.get("t1", ContentCourse, "c1", testDay)
	assert.Equal(t, int64(5), m.Views)
	assert.Equal(t, 1, f.store.count())
}

func TestRollup_Idempotent(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentCourse, "c1", ActionStart, "u1", at(testDay, 1), map[string]any{MetaChapterID: "ch1"}),
		event("", ContentCourse, "c1", ActionComplete, "u1", at(testDay, 2), map[string]any{MetaChapterID: "ch1"}),
		event("", ContentSession, "s1", ActionView, "u2", at(testDay, 3), map[string]any{MetaWatchTime: 120.0}),
	)
	f.ownership.own("t1", ContentCourse, "c1").own("t1", ContentSession, "s1")
	ctx := context.Background()

	clock := at(testDay, 15)
	f.agg.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	_, err := f.agg.Rollup(ctx, "t1", testDay)
	require.NoError(t, err)
	first := map[string]DailyMetric{}
	for k, v := range f.store.rows {
		first[k] = v
	}

	_, err = f.agg.Rollup(ctx, "t1", testDay)
	require.NoError(t, err)
	assert.Equal(t, first, f.store.rows)
}

func TestRollup_OnlyOwnedContent(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentCourse, "mine", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentCourse, "theirs", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentPost, "orphan", ActionView, "u1", at(testDay, 1), nil),
	)
	f.ownership.own("t1", ContentCourse, "mine").own("t2", ContentCourse, "theirs")

	res, err := f.agg.Rollup(context.Background(), "t1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Active)
	assert.Equal(t, 1, res.Owned)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 0, res.Skipped)

	_, ok := f.store.get("t1", ContentCourse, "theirs", testDay)
	assert.False(t, ok)
}

func TestRollup_OnlyEventsWithinDay(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", testDay.Add(-time.Nanosecond), nil),
		event("", ContentPost, "p1", ActionView, "u1", testDay, nil),
		event("", ContentPost, "p1", ActionView, "u1", testDay.Add(24*time.Hour-time.Millisecond), nil),
		event("", ContentPost, "p1", ActionView, "u1", testDay.Add(24*time.Hour), nil),
	)
	f.ownership.own("t1", ContentPost, "p1")

	_, err := f.agg.Rollup(context.Background(), "t1", testDay)
	require.NoError(t, err)

	m, ok := f.store.get("t1", ContentPost, "p1", testDay)
	require.True(t, ok)
	assert.Equal(t, int64(2), m.Views)
}

func TestRollup_SkipsFailedItems(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "ok", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentPost, "no-owner", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentPost, "no-events", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentPost, "no-write", ActionView, "u1", at(testDay, 1), nil),
	)
	f.ownership.own("t1", ContentPost, "ok", "no-owner", "no-events", "no-write")
	f.ownership.errs["no-owner"] = errBoom
	f.events.queryErr["no-events"] = errBoom
	f.store.writeErr["no-write"] = errBoom

	res, err := f.agg.Rollup(context.Background(), "t1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 3, res.Skipped)

	_, ok := f.store.get("t1", ContentPost, "ok", testDay)
	assert.True(t, ok)
	assert.Equal(t, 1, f.cache.clears)
}

func TestRollup_ListFailureFailsCall(t *testing.T) {
	f := newAggregatorFixture()
	f.events.listErr[testDay] = errBoom

	res, err := f.agg.Rollup(context.Background(), "t1", testDay)
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, res)
	assert.Equal(t, 0, f.cache.clears)
}

func TestRollup_ClearsCacheOnlyAfterWrites(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil),
	)
	ctx := context.Background()

	_, err := f.agg.Rollup(ctx, "t1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 0, f.cache.clears, "nothing owned, nothing written")

	f.ownership.own("t1", ContentPost, "p1")
	_, err = f.agg.Rollup(ctx, "t1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.clears)
}

func TestRollup_CacheClearFailureIsNotFatal(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil),
	)
	f.ownership.own("t1", ContentPost, "p1")
	f.cache.err = errBoom

	res, err := f.agg.Rollup(context.Background(), "t1", testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
}

func TestRollup_MissingTenant(t *testing.T) {
	f := newAggregatorFixture()
	_, err := f.agg.Rollup(context.Background(), "", testDay)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestBuildDailyMetric(t *testing.T) {
	t.Run("course chapter funnel", func(t *testing.T) {
		ch := func(id string) map[string]any { return map[string]any{MetaChapterID: id} }
		events := []RawEvent{
			event("", ContentCourse, "c1", ActionView, "u1", testDay, ch("ch2")),
			event("", ContentCourse, "c1", ActionStart, "u1", testDay, ch("ch2")),
			event("", ContentCourse, "c1", ActionStart, "u2", testDay, ch("ch2")),
			event("", ContentCourse, "c1", ActionComplete, "u1", testDay, ch("ch2")),
			event("", ContentCourse, "c1", ActionView, "u1", testDay, ch("ch1")),
			event("", ContentCourse, "c1", ActionComplete, "u1", testDay, ch("ch1")),
			event("", ContentCourse, "c1", ActionView, "", testDay, nil),
		}

		m := BuildDailyMetric("t1", ContentRef{Type: ContentCourse, ID: "c1"}, testDay, events)

		assert.Equal(t, int64(3), m.Views)
		assert.Equal(t, int64(2), m.UniqueUsers, "empty user ids are not counted")
		require.Len(t, m.Funnel, 2)
		assert.Equal(t, FunnelStep{SubItemID: "ch1", Views: 1, Completes: 1, CompletionRate: 0}, m.Funnel[0])
		assert.Equal(t, FunnelStep{SubItemID: "ch2", Views: 1, Starts: 2, Completes: 1, CompletionRate: 0.5}, m.Funnel[1])
	})

	t.Run("challenge task funnel is clamped", func(t *testing.T) {
		task := map[string]any{MetaTaskID: 7}
		events := []RawEvent{
			event("", ContentChallenge, "x", ActionStart, "u1", testDay, task),
			event("", ContentChallenge, "x", ActionComplete, "u1", testDay, task),
			event("", ContentChallenge, "x", ActionComplete, "u2", testDay, task),
		}

		m := BuildDailyMetric("t1", ContentRef{Type: ContentChallenge, ID: "x"}, testDay, events)

		require.Len(t, m.Funnel, 1)
		assert.Equal(t, "7", m.Funnel[0].SubItemID)
		assert.Equal(t, 1.0, m.Funnel[0].CompletionRate)
	})

	t.Run("sessions carry watch time and no funnel", func(t *testing.T) {
		events := []RawEvent{
			event("", ContentSession, "s1", ActionView, "u1", testDay, map[string]any{MetaWatchTime: 90.7, MetaChapterID: "ignored"}),
			event("", ContentSession, "s1", ActionView, "u2", testDay, map[string]any{MetaWatchTime: "30"}),
			event("", ContentSession, "s1", ActionView, "u3", testDay, map[string]any{MetaWatchTime: -5}),
			event("", ContentSession, "other", ActionView, "u3", testDay, nil),
		}

		m := BuildDailyMetric("t1", ContentRef{Type: ContentSession, ID: "s1"}, testDay, events)

		assert.Equal(t, int64(3), m.Views)
		assert.Equal(t, int64(120), m.WatchTimeSeconds)
		assert.Nil(t, m.Funnel)
	})

	t.Run("every action has a counter", func(t *testing.T) {
		var events []RawEvent
		for _, a := range []ActionType{ActionView, ActionStart, ActionComplete, ActionLike, ActionShare, ActionDownload, ActionBookmark, ActionRate} {
			events = append(events, event("", ContentProduct, "p", a, "u", testDay, nil))
		}

		m := BuildDailyMetric("t1", ContentRef{Type: ContentProduct, ID: "p"}, testDay, events)

		assert.Equal(t, Counters{
			Views: 1, Starts: 1, Completes: 1, Likes: 1, Shares: 1,
			Downloads: 1, Bookmarks: 1, RatingsCount: 1, UniqueUsers: 1,
		}, m.Counters)
	})
}

func TestFunnelCompletionRateBounds(t *testing.T) {
	cases := []struct {
		starts, completes int64
		want              float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{4, 0, 0},
		{4, 1, 0.25},
		{4, 4, 1},
		{2, 9, 1},
	}
	for _, tc := range cases {
		got := completionRate(tc.starts, tc.completes)
		assert.Equal(t, tc.want, got, "starts=%d completes=%d", tc.starts, tc.completes)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestClampBackfillDays(t *testing.T) {
	assert.Equal(t, 1, ClampBackfillDays(-3))
	assert.Equal(t, 1, ClampBackfillDays(0))
	assert.Equal(t, 30, ClampBackfillDays(30))
	assert.Equal(t, MaxBackfillDays, ClampBackfillDays(1000))
}

func TestBackfillForCreator(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", at(testDay.AddDate(0, 0, -2), 1), nil),
		event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil),
	)
	f.ownership.own("t1", ContentPost, "p1")

	res, err := f.agg.BackfillForCreator(context.Background(), "t1", 3)
	require.NoError(t, err)
	require.Len(t, res.Days, 3)
	assert.Equal(t, testDay.AddDate(0, 0, -2), res.Days[0].Day, "oldest first")
	assert.Equal(t, testDay, res.Days[2].Day)
	assert.Equal(t, 2, res.RowsWritten())
	assert.Empty(t, res.Failed)
}

func TestBackfillForCreator_ContinuesPastFailedDays(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil),
	)
	f.ownership.own("t1", ContentPost, "p1")
	failed := testDay.AddDate(0, 0, -1)
	f.events.listErr[failed] = errBoom

	res, err := f.agg.BackfillForCreator(context.Background(), "t1", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), failed.Format(DateFormat))

	assert.Len(t, res.Days, 2)
	assert.Equal(t, []time.Time{failed}, res.Failed)
	_, ok := f.store.get("t1", ContentPost, "p1", testDay)
	assert.True(t, ok, "days after the failure still run")
}

func TestBackfillForCreator_ClampsDays(t *testing.T) {
	f := newAggregatorFixture()

	res, err := f.agg.BackfillForCreator(context.Background(), "t1", 10000)
	require.NoError(t, err)
	assert.Len(t, res.Days, MaxBackfillDays)
	assert.Len(t, f.events.listCalls, MaxBackfillDays)

	res, err = f.agg.BackfillForCreator(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Len(t, res.Days, 1)
}

// cancelAfterWrite cancels the rollup context once the first row is stored
type cancelAfterWrite struct {
	*fakeStore
	cancel context.CancelFunc
}

func (c cancelAfterWrite) UpsertDailyMetric(ctx context.Context, m DailyMetric) error {
	err := c.fakeStore.UpsertDailyMetric(ctx, m)
	c.cancel()
	return err
}

func TestRollup_InterruptedStillClearsCache(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentPost, "p2", ActionView, "u1", at(testDay, 2), nil),
	)
	f.ownership.own("t1", ContentPost, "p1")
	f.ownership.own("t1", ContentPost, "p2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.agg.store = cancelAfterWrite{fakeStore: f.store, cancel: cancel}

	res, err := f.agg.Rollup(ctx, "t1", testDay)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.cache.clears)
}

func TestRollup_LogsCarryRunTenantAndTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	f := newAggregatorFixture(event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil))
	f.ownership.errs["p1"] = errBoom

	var own, scoped bytes.Buffer
	f.agg.logger = observability.NewLogger(observability.DebugLevel, &own)

	t.Run("without a context logger", func(t *testing.T) {
		_, err := f.agg.Rollup(context.Background(), "t1", testDay)
		require.NoError(t, err)

		entry := findLogLine(t, &own, "Ownership lookup failed, skipping content")
		assert.Equal(t, "t1", entry["tenant_id"])
		assert.Equal(t, "post:p1", entry["content"])
		assert.NotEmpty(t, entry["trace_id"])
		assert.NotContains(t, entry, "run_id")
	})

	t.Run("with a scheduler context", func(t *testing.T) {
		own.Reset()
		ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.DebugLevel, &scoped))
		ctx = observability.WithRunID(ctx, "run-9")
		ctx = observability.WithTenantID(ctx, "t1")

		_, err := f.agg.Rollup(ctx, "t1", testDay)
		require.NoError(t, err)

		entry := findLogLine(t, &scoped, "Ownership lookup failed, skipping content")
		assert.Equal(t, "run-9", entry["run_id"])
		assert.Equal(t, "t1", entry["tenant_id"])
		assert.Equal(t, testDay.Format(DateFormat), entry["day"])
		assert.NotEmpty(t, entry["span_id"])
		assert.Zero(t, own.Len())
	})
}

func findLogLine(t *testing.T, buf *bytes.Buffer, msg string) map[string]interface{} {
	t.Helper()
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &entry))
		if entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("no log line %q in %s", msg, buf.String())
	return nil
}
