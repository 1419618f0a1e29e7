package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/internal/database"
	"github.com/perimetric/facegate/internal/storage"
	"github.com/perimetric/facegate/pkg/apperror"
	"github.com/perimetric/facegate/pkg/logger"
)

const (
	minJanitorDwell = time.Hour
	maxJanitorDwell = 168 * time.Hour
)

// Janitor hard-deletes subjects that were flagged as duplicates and have
// sat in pending_duplicate_removal past the dwell period. The dwell gives
// operators a window to rescue a false positive before data is gone.
type Janitor struct {
	db    bun.IDB
	store *storage.Service
	cfg   *config.Config
	log   *slog.Logger
}

func NewJanitor(db *bun.DB, store *storage.Service, cfg *config.Config, log *slog.Logger) *Janitor {
	return &Janitor{db: db, store: store, cfg: cfg, log: log.With(logger.Scope("training.janitor"))}
}

// clampDwell bounds the dwell to something an operator can reason about.
// Zero or negative falls back to the configured default.
func (j *Janitor) clampDwell(dwell time.Duration) time.Duration {
	if dwell <= 0 {
		dwell = j.cfg.Training.JanitorDwell
	}
	if dwell < minJanitorDwell {
		return minJanitorDwell
	}
	if dwell > maxJanitorDwell {
		return maxJanitorDwell
	}
	return dwell
}

// CleanupDuplicates runs one janitor pass with the given dwell.
func (j *Janitor) CleanupDuplicates(ctx context.Context, dwell time.Duration) (*CleanupResponse, error) {
	dwell = j.clampDwell(dwell)

	type victim struct {
		TenantID  string `bun:"tenant_id"`
		SubjectID string `bun:"subject_id"`
	}
	var victims []victim
	err := j.db.NewRaw(`
		SELECT DISTINCT s.tenant_id, s.subject_id
		FROM fg.subjects s
		JOIN fg.embedding_records r
		  ON r.tenant_id = s.tenant_id AND r.subject_id = s.subject_id
		WHERE s.status = 'pending_duplicate_removal'
		  AND r.status = 'duplicate'
		  AND r.finished_at < now() - (? || ' seconds')::interval
	`, int(dwell.Seconds())).Scan(ctx, &victims)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	resp := &CleanupResponse{DwellHours: int(dwell.Hours())}
	for _, v := range victims {
		objects, err := j.removeSubject(ctx, v.TenantID, v.SubjectID)
		if err != nil {
			j.log.Error("failed to remove duplicate subject",
				slog.String("tenant_id", v.TenantID),
				slog.String("subject_id", v.SubjectID),
				logger.Error(err))
			continue
		}
		if objects < 0 {
			// Subject was rescued between scan and delete.
			continue
		}
		resp.RemovedSubjects++
		resp.RemovedObjects += objects
		j.log.Info("removed duplicate subject",
			slog.String("tenant_id", v.TenantID),
			slog.String("subject_id", v.SubjectID),
			slog.Int("objects", objects))
	}
	if resp.RemovedSubjects > 0 {
		j.log.Info("duplicate cleanup finished",
			slog.Int("removed_subjects", resp.RemovedSubjects),
			slog.Int("removed_objects", resp.RemovedObjects))
	}
	return resp, nil
}

// removeSubject deletes a subject's rows and stored objects. It re-checks
// the subject status inside the transaction so a subject rescued after the
// scan keeps its data; -1 signals that case. Object deletion happens after
// commit: a failed object sweep orphans blobs but never loses a rescue.
func (j *Janitor) removeSubject(ctx context.Context, tenantID, subjectID string) (int, error) {
	tx, err := database.BeginSafeTx(ctx, j.db)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	defer tx.Rollback()

	res, err := tx.NewDelete().
		Model((*catalog.Subject)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("subject_id = ?", subjectID).
		Where("status = ?", catalog.SubjectPendingDuplicate).
		Exec(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return -1, nil
	}

	if _, err := tx.NewDelete().
		Model((*catalog.EmbeddingRecord)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("subject_id = ?", subjectID).
		Exec(ctx); err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	if _, err := tx.NewDelete().
		Model((*catalog.EnrollmentImage)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("subject_id = ?", subjectID).
		Exec(ctx); err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	objects := 0
	if j.store.Enabled() {
		prefixes := []string{
			fmt.Sprintf("images/%s/%s/", tenantID, subjectID),
			fmt.Sprintf("embeddings/%s/%s/", tenantID, subjectID),
		}
		for _, prefix := range prefixes {
			n, err := j.store.DeletePrefix(ctx, prefix)
			if err != nil {
				j.log.Warn("failed to delete stored objects",
					slog.String("prefix", prefix), logger.Error(err))
				continue
			}
			objects += n
		}
	}
	return objects, nil
}
