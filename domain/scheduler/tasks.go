package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/domain/presence"
	"github.com/perimetric/facegate/domain/training"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/pkg/logger"
)

// CatalogSyncTask refreshes the in-memory embedding catalog incrementally.
type CatalogSyncTask struct {
	store *catalog.Store
	log   *slog.Logger
}

// NewCatalogSyncTask creates a new catalog sync task
func NewCatalogSyncTask(store *catalog.Store, log *slog.Logger) *CatalogSyncTask {
	return &CatalogSyncTask{
		store: store,
		log:   log.With(logger.Scope("scheduler.catalog_sync")),
	}
}

// Run executes one catalog sync
func (t *CatalogSyncTask) Run(ctx context.Context) error {
	start := time.Now()
	if err := t.store.Sync(ctx); err != nil {
		t.log.Error("catalog sync failed", logger.Error(err))
		return err
	}
	t.log.Debug("catalog synced", slog.Duration("duration", time.Since(start)))
	return nil
}

// JobRecoveryTask requeues or fails training jobs whose worker stopped
// heartbeating.
type JobRecoveryTask struct {
	queue *training.Queue
	log   *slog.Logger
}

// NewJobRecoveryTask creates a new job recovery task
func NewJobRecoveryTask(queue *training.Queue, log *slog.Logger) *JobRecoveryTask {
	return &JobRecoveryTask{
		queue: queue,
		log:   log.With(logger.Scope("scheduler.job_recovery")),
	}
}

// Run executes one recovery scan
func (t *JobRecoveryTask) Run(ctx context.Context) error {
	requeued, failed, err := t.queue.Recover(ctx)
	if err != nil {
		t.log.Error("job recovery failed", logger.Error(err))
		return err
	}
	if requeued > 0 || failed > 0 {
		t.log.Info("recovered stuck jobs",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed))
	}
	return nil
}

// DuplicateJanitorTask hard-deletes duplicate subjects past their dwell.
type DuplicateJanitorTask struct {
	janitor *training.Janitor
	log     *slog.Logger
}

// NewDuplicateJanitorTask creates a new duplicate janitor task
func NewDuplicateJanitorTask(janitor *training.Janitor, log *slog.Logger) *DuplicateJanitorTask {
	return &DuplicateJanitorTask{
		janitor: janitor,
		log:     log.With(logger.Scope("scheduler.janitor")),
	}
}

// Run executes one janitor pass with the configured dwell
func (t *DuplicateJanitorTask) Run(ctx context.Context) error {
	resp, err := t.janitor.CleanupDuplicates(ctx, 0)
	if err != nil {
		t.log.Error("duplicate cleanup failed", logger.Error(err))
		return err
	}
	if resp.RemovedSubjects > 0 {
		t.log.Info("removed duplicate subjects",
			slog.Int("subjects", resp.RemovedSubjects),
			slog.Int("objects", resp.RemovedObjects))
	}
	return nil
}

// AnalyticsTask snapshots the per-campus occupancy counters to the store.
type AnalyticsTask struct {
	engine *presence.Engine
	log    *slog.Logger
}

// NewAnalyticsTask creates a new analytics task
func NewAnalyticsTask(engine *presence.Engine, log *slog.Logger) *AnalyticsTask {
	return &AnalyticsTask{
		engine: engine,
		log:    log.With(logger.Scope("scheduler.analytics")),
	}
}

// Run executes one analytics snapshot
func (t *AnalyticsTask) Run(ctx context.Context) error {
	if err := t.engine.RunAnalytics(ctx); err != nil {
		t.log.Error("analytics snapshot failed", logger.Error(err))
		return err
	}
	return nil
}

// StaleSweepTask clears pending entry/exit transitions nobody confirmed.
type StaleSweepTask struct {
	engine *presence.Engine
}

// NewStaleSweepTask creates a new stale sweep task
func NewStaleSweepTask(engine *presence.Engine) *StaleSweepTask {
	return &StaleSweepTask{engine: engine}
}

// Run executes one sweep
func (t *StaleSweepTask) Run(ctx context.Context) error {
	return t.engine.SweepStale(ctx)
}

// Intervals pulls the task cadences out of the central config.
type Intervals struct {
	CatalogSync time.Duration
	JobRecovery time.Duration
	Janitor     time.Duration
	Analytics   time.Duration
	StaleSweep  time.Duration
}

// NewIntervals maps the central config to task cadences
func NewIntervals(cfg *config.Config) Intervals {
	return Intervals{
		CatalogSync: cfg.Catalog.SyncInterval,
		JobRecovery: cfg.Training.RecoveryInterval,
		Janitor:     cfg.Training.JanitorInterval,
		Analytics:   cfg.Presence.AnalyticsInterval,
		StaleSweep:  cfg.Presence.SweepInterval,
	}
}
