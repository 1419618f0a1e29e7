package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/perimetric/facegate/pkg/apperror"
	"github.com/perimetric/facegate/pkg/logger"
)

// Repository persists the engine's batched mirror writes and serves the
// historical queries the engine cannot answer from memory.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new presence repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("presence.repo")),
	}
}

// UpsertStates writes a batch of state rows last-write-wins.
func (r *Repository) UpsertStates(ctx context.Context, rows []StateRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (tenant_id, campus_id, subject_id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("name = EXCLUDED.name").
		Set("status = EXCLUDED.status").
		Set("current_entry_at = EXCLUDED.current_entry_at").
		Set("last_exit_at = EXCLUDED.last_exit_at").
		Set("last_seen_at = EXCLUDED.last_seen_at").
		Set("last_camera = EXCLUDED.last_camera").
		Set("entries_today = EXCLUDED.entries_today").
		Set("exits_today = EXCLUDED.exits_today").
		Set("detections = EXCLUDED.detections").
		Set("counters_date = EXCLUDED.counters_date").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert presence states", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// InsertEvents appends a batch of events to the log.
func (r *Repository) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().
		Model(&events).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to insert presence events", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// UpsertClusters mirrors a batch of unknown clusters.
func (r *Repository) UpsertClusters(ctx context.Context, rows []ClusterRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (campus_id, cluster_id) DO UPDATE").
		Set("last_seen = EXCLUDED.last_seen").
		Set("detection_count = EXCLUDED.detection_count").
		Set("cameras_seen = EXCLUDED.cameras_seen").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert unknown clusters", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// UpsertAnalytics replaces the daily counter rows written by the
// analytics task.
func (r *Repository) UpsertAnalytics(ctx context.Context, rows []AnalyticsRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT (tenant_id, campus_id, date) DO UPDATE").
		Set("inside = EXCLUDED.inside").
		Set("employees_inside = EXCLUDED.employees_inside").
		Set("visitors_inside = EXCLUDED.visitors_inside").
		Set("entries = EXCLUDED.entries").
		Set("exits = EXCLUDED.exits").
		Set("unknown_detections = EXCLUDED.unknown_detections").
		Set("unique_unknowns = EXCLUDED.unique_unknowns").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to upsert campus analytics", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// LoadStates reads the full state mirror for the restart restore.
func (r *Repository) LoadStates(ctx context.Context) ([]StateRow, error) {
	rows := []StateRow{}
	err := r.db.NewSelect().
		Model(&rows).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to load presence states", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rows, nil
}

// Events returns the most recent events of a campus, newest first.
// An empty eventType matches all types; limit is clamped to the cap.
func (r *Repository) Events(ctx context.Context, campusID, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events := []Event{}
	q := r.db.NewSelect().
		Model(&events).
		Where("ev.campus_id = ?", campusID).
		Order("ev.occurred_at DESC").
		Limit(limit)
	if eventType != "" {
		q = q.Where("ev.event_type = ?", eventType)
	}
	if err := q.Scan(ctx); err != nil {
		r.log.Error("failed to load presence events", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return events, nil
}

// Analytics returns up to days of daily counters for a campus, most
// recent day first.
func (r *Repository) Analytics(ctx context.Context, campusID string, days int) ([]AnalyticsRow, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows := []AnalyticsRow{}
	err := r.db.NewSelect().
		Model(&rows).
		Where("ca.campus_id = ?", campusID).
		Where("ca.date >= ?", since).
		Order("ca.date DESC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to load campus analytics", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rows, nil
}
