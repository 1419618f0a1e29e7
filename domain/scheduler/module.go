package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/domain/presence"
	"github.com/perimetric/facegate/domain/training"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewIntervals,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Store     *catalog.Store
	Queue     *training.Queue
	Janitor   *training.Janitor
	Engine    *presence.Engine
	Intervals Intervals
	Log       *slog.Logger
	Cfg       *Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	tasks := []struct {
		name     string
		interval time.Duration
		run      TaskFunc
	}{
		{"catalog_sync", p.Intervals.CatalogSync, NewCatalogSyncTask(p.Store, p.Log).Run},
		{"job_recovery", p.Intervals.JobRecovery, NewJobRecoveryTask(p.Queue, p.Log).Run},
		{"duplicate_janitor", p.Intervals.Janitor, NewDuplicateJanitorTask(p.Janitor, p.Log).Run},
		{"presence_analytics", p.Intervals.Analytics, NewAnalyticsTask(p.Engine, p.Log).Run},
		{"stale_sweep", p.Intervals.StaleSweep, NewStaleSweepTask(p.Engine).Run},
	}

	for _, t := range tasks {
		if err := p.Scheduler.AddIntervalTask(t.name, t.interval, t.run); err != nil {
			p.Log.Error("failed to register scheduled task",
				slog.String("name", t.name),
				slog.String("error", err.Error()))
		}
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
