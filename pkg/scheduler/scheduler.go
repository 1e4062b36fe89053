package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
	"github.com/platinummonkey/creatorstats/pkg/billing"
	"github.com/platinummonkey/creatorstats/pkg/observability"
)

// Cadence names a scheduled rollup
type Cadence string

const (
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	// CadenceManual marks operator-triggered runs for a given day
	CadenceManual Cadence = "manual"
)

const (
	DefaultHourlyInterval = time.Hour
	DefaultDailyAt        = "02:15"
	DefaultTenantTimeout  = 5 * time.Minute
)

// ErrInvalidDailyAt is returned when Config.DailyAt is not HH:MM
var ErrInvalidDailyAt = errors.New("daily time must be HH:MM")

// Config controls the cadences
type Config struct {
	// HourlyInterval is the delay between intraday rollups
	HourlyInterval time.Duration
	// DailyAt is the wall-clock time (HH:MM, in Location) of the daily rollup
	DailyAt  string
	Location *time.Location
	// TenantTimeout bounds a single tenant rollup
	TenantTimeout time.Duration
	// Concurrency is the number of tenants rolled up at once; 1 is sequential
	Concurrency int
}

// DefaultConfig returns the default schedule: hourly, daily at 02:15 local time, one tenant at a time
func DefaultConfig() Config {
	return Config{
		HourlyInterval: DefaultHourlyInterval,
		DailyAt:        DefaultDailyAt,
		Location:       time.Local,
		TenantTimeout:  DefaultTenantTimeout,
		Concurrency:    1,
	}
}

func (c Config) withDefaults() Config {
	if c.HourlyInterval <= 0 {
		c.HourlyInterval = DefaultHourlyInterval
	}
	if c.DailyAt == "" {
		c.DailyAt = DefaultDailyAt
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.TenantTimeout <= 0 {
		c.TenantTimeout = DefaultTenantTimeout
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return c
}

// dailySpec turns HH:MM into a standard five-field cron spec
func dailySpec(at string) (string, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDailyAt, at)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// TenantLister returns tenants whose subscription is in one of statuses
type TenantLister interface {
	ListEligibleTenants(ctx context.Context, statuses []billing.SubscriptionStatus) ([]string, error)
}

// Roller rolls up one tenant for one day. Every tenant of a run shares one
// OwnerMemo, so each active content is resolved once per run.
type Roller interface {
	NewOwnerMemo() *analytics.OwnerMemo
	RollupWithOwners(ctx context.Context, owners analytics.OwnershipStore, tenantID string, day time.Time) (*analytics.RollupResult, error)
}

// RunSummary describes one scheduler run
type RunSummary struct {
	RunID       string
	Cadence     Cadence
	Day         time.Time
	Tenants     int
	Succeeded   int
	Failed      int
	RowsWritten int
	Duration    time.Duration
}

// Scheduler runs hourly and daily rollups for every eligible tenant
type Scheduler struct {
	cfg     Config
	tenants TenantLister
	rollups Roller
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	cron  *cron.Cron
	daily cron.Schedule

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. Zero config fields take their defaults.
func New(cfg Config, tenants TenantLister, rollups Roller, logger *observability.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	cfg = cfg.withDefaults()

	spec, err := dailySpec(cfg.DailyAt)
	if err != nil {
		return nil, err
	}
	daily, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily schedule: %w", err)
	}

	s := &Scheduler{
		cfg:     cfg,
		tenants: tenants,
		rollups: rollups,
		logger:  logger.WithField("component", "scheduler"),
		metrics: metrics,
		now:     time.Now,
		daily:   daily,
	}

	cronLogger := observability.NewCronLogger(logger)
	s.cron = cron.New(cron.WithLocation(cfg.Location), cron.WithLogger(cronLogger))

	// each cadence gets its own wrapper so it only skips its own overlapping runs
	s.cron.Schedule(cron.Every(cfg.HourlyInterval),
		cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(s.job(CadenceHourly, s.RunHourly)))
	s.cron.Schedule(daily,
		cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(s.job(CadenceDaily, s.RunDaily)))

	return s, nil
}

func (s *Scheduler) job(cadence Cadence, run func(context.Context) (*RunSummary, error)) cron.Job {
	return cron.FuncJob(func() {
		defer observability.RecoverPanic(s.logger, string(cadence)+" rollup")

		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil {
			return
		}

		// failures are logged by run; the next tick tries again
		_, _ = run(ctx)
	})
}

// Start begins firing both cadences. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	s.cron.Start()

	s.logger.WithFields(map[string]interface{}{
		"hourly_interval": s.cfg.HourlyInterval.String(),
		"daily_at":        s.cfg.DailyAt,
		"location":        s.cfg.Location.String(),
		"concurrency":     s.cfg.Concurrency,
	}).Infof("Scheduler started, next daily rollup at %s", s.NextDailyRun(s.now()).Format(time.RFC3339))
}

// Stop prevents new runs and waits for running ones until ctx is done,
// at which point in-flight rollups are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.runCtx = nil
	s.mu.Unlock()

	defer cancel()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out, cancelling running rollups")
		return ctx.Err()
	}
}

// NextDailyRun returns the first daily fire time strictly after now
func (s *Scheduler) NextDailyRun(now time.Time) time.Time {
	return s.daily.Next(now.In(s.cfg.Location))
}

// RunHourly rolls up the current UTC day for every eligible tenant
func (s *Scheduler) RunHourly(ctx context.Context) (*RunSummary, error) {
	return s.run(ctx, CadenceHourly, s.now().UTC())
}

// RunDaily rolls up the previous UTC day for every eligible tenant
func (s *Scheduler) RunDaily(ctx context.Context) (*RunSummary, error) {
	return s.run(ctx, CadenceDaily, s.now().UTC().AddDate(0, 0, -1))
}

// RunForDay rolls up day for every eligible tenant outside the schedule
func (s *Scheduler) RunForDay(ctx context.Context, day time.Time) (*RunSummary, error) {
	return s.run(ctx, CadenceManual, day)
}

// run only fails when the tenant list cannot be read or ctx ends; tenant
// failures are counted in the summary.
func (s *Scheduler) run(ctx context.Context, cadence Cadence, day time.Time) (summary *RunSummary, err error) {
	start := s.now()
	summary = &RunSummary{
		RunID:   uuid.NewString(),
		Cadence: cadence,
		Day:     analytics.TruncateDay(day),
	}

	ctx = observability.WithRunID(ctx, summary.RunID)
	ctx = observability.WithLogger(ctx, s.logger.WithFields(map[string]interface{}{
		"cadence": string(cadence),
		"day":     summary.Day.Format(analytics.DateFormat),
	}))
	logger := observability.FromContext(ctx, s.logger)

	defer func() {
		summary.Duration = s.now().Sub(start)
		s.metrics.ObserveSchedulerRun(string(cadence), summary.Duration, err)
	}()

	tenants, err := s.tenants.ListEligibleTenants(ctx, billing.EligibleStatuses())
	if err != nil {
		err = fmt.Errorf("failed to list eligible tenants: %w", err)
		logger.WithError(err).Error("Rollup run aborted")
		return summary, err
	}
	summary.Tenants = len(tenants)
	logger.Infof("Rolling up %d tenants", len(tenants))

	owners := s.rollups.NewOwnerMemo()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			written, rerr := s.rollupTenant(ctx, cadence, owners, tenantID, summary.Day)

			mu.Lock()
			defer mu.Unlock()
			if rerr != nil {
				summary.Failed++
			} else {
				summary.Succeeded++
				summary.RowsWritten += written
			}
			return nil
		})
	}
	_ = g.Wait()

	if err = ctx.Err(); err != nil {
		logger.WithError(err).Warnf("Rollup run interrupted after %d of %d tenants", summary.Succeeded+summary.Failed, summary.Tenants)
		return summary, err
	}

	logger.WithFields(map[string]interface{}{
		"tenants":      summary.Tenants,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"rows_written": summary.RowsWritten,
		"owners":       owners.Len(),
		"duration_ms":  s.now().Sub(start).Milliseconds(),
	}).Info("Rollup run completed")
	return summary, nil
}

func (s *Scheduler) rollupTenant(ctx context.Context, cadence Cadence, owners *analytics.OwnerMemo, tenantID string, day time.Time) (written int, err error) {
	ctx, cancel := context.WithTimeout(observability.WithTenantID(ctx, tenantID), s.cfg.TenantTimeout)
	defer cancel()
	logger := observability.FromContext(ctx, s.logger)

	start := s.now()
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
			logger.WithError(perr).Error("Tenant rollup panicked")
		}
		s.metrics.ObserveTenantRollup(string(cadence), s.now().Sub(start), err)
	}()

	result, err := s.rollups.RollupWithOwners(ctx, owners, tenantID, day)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.WithError(err).Warnf("Tenant rollup exceeded %s", s.cfg.TenantTimeout)
		} else {
			logger.WithError(err).Error("Tenant rollup failed")
		}
		return 0, err
	}

	logger.WithFields(map[string]interface{}{
		"written": result.Written,
		"skipped": result.Skipped,
	}).Debug("Tenant rollup completed")
	return result.Written, nil
}
