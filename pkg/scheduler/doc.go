// Package scheduler drives the Aggregator on two cadences.
//
// The hourly cadence rolls up the current UTC day for every eligible tenant so
// reports stay fresh during the day. The daily cadence fires once at a local
// wall-clock time (02:15 by default) and rolls up the previous UTC day, which
// finalizes it after late events have arrived.
//
// Eligible tenants are read fresh on every run. A failing tenant is logged and
// counted; it never stops the run or cancels future runs. A cadence never
// overlaps with itself, but the hourly and daily runs may overlap each other,
// which is harmless because every rollup is a full recomputation.
//
// Usage:
//
//	sched, err := scheduler.New(scheduler.DefaultConfig(), subscriptions, aggregator, logger, metrics)
//	if err != nil {
//	    return err
//	}
//	sched.Start()
//	defer sched.Stop(ctx)
package scheduler
