package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
	"github.com/platinummonkey/creatorstats/pkg/billing"
	"github.com/platinummonkey/creatorstats/pkg/config"
	"github.com/platinummonkey/creatorstats/pkg/observability"
	"github.com/platinummonkey/creatorstats/pkg/scheduler"
)

var version = "dev"

var (
	configPath     = flag.String("config", "", "Path to a YAML config file (overrides $"+config.ConfigFileEnv+")")
	runOnce        = flag.String("run-once", "", "Run one rollup and exit: hourly (today), daily (yesterday) or day (see -date)")
	rollupDate     = flag.String("date", "", "Day to roll up (YYYY-MM-DD). Only used with -run-once day")
	backfillTenant = flag.String("backfill-tenant", "", "Re-roll the last -backfill-days days for this tenant and exit")
	backfillDays   = flag.Int("backfill-days", 7, "Number of days to backfill, clamped to [1, 365]")
	reportScope    = flag.String("report", "", "Print a report and exit: overview, devices, referrers or a content scope")
	reportTenant   = flag.String("tenant", "", "Tenant for -report")
	reportFrom     = flag.String("from", "", "Report start day (YYYY-MM-DD), default 30 days before -to")
	reportTo       = flag.String("to", "", "Report end day (YYYY-MM-DD), default today")
	reportPlan     = flag.String("plan", "", "Plan override for -report (starter, growth, pro)")
	reportCSV      = flag.Bool("csv", false, "Print the report as CSV export (pro plan only)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout).
		WithField("service", "creatorstats").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("creatorstats failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.Load(*configPath)
	}
	return config.LoadConfig()
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	switch {
	case *backfillTenant != "":
		defer a.close()
		return runBackfill(ctx, a, *backfillTenant, *backfillDays)
	case *runOnce != "":
		defer a.close()
		return runRollupOnce(ctx, a, *runOnce, *rollupDate)
	case *reportScope != "":
		defer a.close()
		return runReport(ctx, a)
	default:
		return runDaemon(ctx, a)
	}
}

func runBackfill(ctx context.Context, a *app, tenantID string, days int) error {
	a.logger.WithField("tenant_id", tenantID).Infof("Backfilling %d days", analytics.ClampBackfillDays(days))

	result, err := a.aggregator.BackfillForCreator(ctx, tenantID, days)
	if result != nil {
		a.logger.WithFields(map[string]interface{}{
			"tenant_id":    tenantID,
			"days":         len(result.Days),
			"failed_days":  len(result.Failed),
			"rows_written": result.RowsWritten(),
		}).Info("Backfill finished")
	}
	return err
}

func runRollupOnce(ctx context.Context, a *app, mode, date string) error {
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	var summary *scheduler.RunSummary
	switch mode {
	case "hourly":
		summary, err = sched.RunHourly(ctx)
	case "daily":
		summary, err = sched.RunDaily(ctx)
	case "day":
		day, perr := parseDay(date)
		if perr != nil {
			return perr
		}
		if day.IsZero() {
			day = time.Now().UTC().AddDate(0, 0, -1)
		}
		summary, err = sched.RunForDay(ctx, day)
	default:
		return fmt.Errorf("unknown -run-once mode %q (must be hourly, daily or day)", mode)
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d tenant rollups failed", summary.Failed, summary.Tenants)
	}
	return nil
}

func runReport(ctx context.Context, a *app) error {
	if *reportTenant == "" {
		return errors.New("-tenant is required with -report")
	}

	from, err := parseDay(*reportFrom)
	if err != nil {
		return err
	}
	to, err := parseDay(*reportTo)
	if err != nil {
		return err
	}

	req := analytics.ReportRequest{TenantID: *reportTenant, From: from, To: to}
	if *reportPlan != "" {
		plan, err := billing.ParsePlanTier(*reportPlan)
		if err != nil {
			return err
		}
		req.Plan = plan
	}

	scope := analytics.Scope(*reportScope)
	if *reportCSV {
		result, err := a.service.ExportCSV(ctx, req, scope)
		if err != nil {
			return err
		}
		if !result.Success {
			return errors.New(result.Message)
		}
		_, err = fmt.Fprint(os.Stdout, result.Content)
		return err
	}

	var report interface{}
	switch scope {
	case analytics.ScopeOverview:
		report, err = a.service.GetOverview(ctx, req)
	case analytics.ScopeDevices:
		report, err = a.service.GetDevices(ctx, req)
	case analytics.ScopeReferrers:
		report, err = a.service.GetReferrers(ctx, req)
	default:
		report, err = a.service.GetByContentType(ctx, req, scope)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runDaemon(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		// tracing is optional; keep serving without it
		logger.WithError(err).Warn("Failed to initialize OpenTelemetry")
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	a.db.StartHealthCheckRoutine(healthCtx, 30*time.Second)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = a.newScheduler()
		if err != nil {
			stopHealth()
			a.close()
			return err
		}
		sched.Start()
	} else {
		logger.Warn("Scheduler disabled, only serving ops endpoints")
	}

	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(logger), observability.LoggingMiddleware(logger))
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(a.db, a.redis, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, a.registry)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		defer observability.RecoverPanic(logger, "ops server")
		logger.Infof("Ops server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Ops server failed")
		}
	}()

	// order matters: stop producing writes before closing the pools they use
	sm := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	if sched != nil {
		sm.Register("scheduler", sched.Stop)
	}
	sm.Register("ops server", server.Shutdown)
	sm.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})
	sm.Register("storage", func(context.Context) error {
		stopHealth()
		return a.close()
	})

	logger.Info("creatorstats started")
	return sm.WaitForSignal(ctx)
}

// parseDay parses YYYY-MM-DD as a UTC day; empty input gives the zero time
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(analytics.DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return day, nil
}
