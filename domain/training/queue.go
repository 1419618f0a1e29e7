package training

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/internal/database"
	"github.com/perimetric/facegate/pkg/apperror"
	"github.com/perimetric/facegate/pkg/logger"
)

const maxErrorLength = 500

// Queue manages the embedding job table. Jobs move queued -> started ->
// {done, failed, duplicate}; the only way back from started to queued is the
// stale-job recovery path or an explicit transient requeue.
type Queue struct {
	db      bun.IDB
	cfg     *config.Config
	log     *slog.Logger
	history jobHistory
}

// jobHistory is the single lookup behind the retrain guard in Enqueue.
type jobHistory interface {
	latestJob(ctx context.Context, tenantID, subjectID, model string) (*EmbeddingJob, error)
}

func NewQueue(db *bun.DB, cfg *config.Config, log *slog.Logger) *Queue {
	q := &Queue{db: db, cfg: cfg, log: log.With(logger.Scope("training.queue"))}
	q.history = q
	return q
}

// Enqueue creates a job for (tenant, subject, model). While a queued or
// started job already exists for the same triple, the call is a no-op and
// returns that job instead; the partial unique index makes this race-free
// across concurrent enrollers. A subject whose most recent job finished
// done is already trained for the model and gets that job back untouched;
// failed and duplicate outcomes fall through so retraining stays possible.
func (q *Queue) Enqueue(ctx context.Context, tenantID, subjectID, kind, model string) (*EmbeddingJob, bool, error) {
	if tenantID == "" || subjectID == "" {
		return nil, false, apperror.NewBadRequest("tenant and subject are required")
	}
	if kind == "" {
		kind = catalog.KindEmployee
	}
	if kind != catalog.KindEmployee && kind != catalog.KindVisitor {
		return nil, false, apperror.ErrValidation.WithMessage(fmt.Sprintf("unknown subject kind %q", kind))
	}
	if !q.cfg.Training.ModelAllowed(model) {
		return nil, false, apperror.ErrValidation.WithMessage(fmt.Sprintf("model %q is not in the allowed set", model))
	}

	last, err := q.history.latestJob(ctx, tenantID, subjectID, model)
	if err != nil {
		return nil, false, err
	}
	if last != nil && last.Status == catalog.StatusDone {
		return last, false, nil
	}

	// Two passes cover the window where the live job finishes between our
	// failed insert and the lookup of the job that blocked it.
	for attempt := 0; attempt < 2; attempt++ {
		job := &EmbeddingJob{
			TenantID:  tenantID,
			SubjectID: subjectID,
			Kind:      kind,
			Model:     model,
			Status:    catalog.StatusQueued,
		}
		res, err := q.db.NewInsert().
			Model(job).
			On("CONFLICT (tenant_id, subject_id, model) WHERE status IN ('queued', 'started') DO NOTHING").
			Returning("id, created_at, updated_at").
			Exec(ctx)
		if err != nil {
			return nil, false, apperror.ErrDatabase.WithInternal(err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			q.log.Info("job enqueued",
				slog.String("job_id", job.ID),
				slog.String("tenant_id", tenantID),
				slog.String("subject_id", subjectID),
				slog.String("model", model))
			return job, true, nil
		}

		existing := new(EmbeddingJob)
		err = q.db.NewSelect().
			Model(existing).
			Where("j.tenant_id = ?", tenantID).
			Where("j.subject_id = ?", subjectID).
			Where("j.model = ?", model).
			Where("j.status IN ('queued', 'started')").
			Limit(1).
			Scan(ctx)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, apperror.ErrDatabase.WithInternal(err)
		}
	}
	return nil, false, apperror.NewConflict("job queue is churning, retry the enqueue")
}

// latestJob returns the most recent job for the triple, or nil when the
// subject was never enqueued for this model.
func (q *Queue) latestJob(ctx context.Context, tenantID, subjectID, model string) (*EmbeddingJob, error) {
	job := new(EmbeddingJob)
	err := q.db.NewSelect().
		Model(job).
		Where("j.tenant_id = ?", tenantID).
		Where("j.subject_id = ?", subjectID).
		Where("j.model = ?", model).
		Order("j.created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return job, nil
}

const leaseSQL = `
	WITH next AS (
		SELECT id
		FROM fg.embedding_jobs
		WHERE status = 'queued' AND model = ?
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT ?
	)
	UPDATE fg.embedding_jobs AS j
	SET status = 'started',
	    worker_id = ?,
	    started_at = now(),
	    heartbeat_at = now(),
	    updated_at = now()
	FROM next
	WHERE j.id = next.id
	RETURNING j.id, j.tenant_id, j.subject_id, j.kind, j.model, j.status,
	          j.params, j.retry_count, j.worker_id, j.error, j.duplicate_of,
	          j.created_at, j.updated_at, j.started_at, j.heartbeat_at, j.finished_at`

// Lease atomically claims up to limit queued jobs for the given model in
// FIFO order and marks them started. Concurrent workers never receive the
// same job thanks to FOR UPDATE SKIP LOCKED.
func (q *Queue) Lease(ctx context.Context, workerID, model string, limit int) ([]EmbeddingJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	var jobs []EmbeddingJob
	_, err := q.db.NewRaw(leaseSQL, model, limit, workerID).Exec(ctx, &jobs)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return jobs, nil
}

// Heartbeat refreshes the lease on a started job. Jobs in any other state
// are left untouched.
func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	_, err := q.db.NewUpdate().
		Model((*EmbeddingJob)(nil)).
		Set("heartbeat_at = now()").
		Where("id = ?", jobID).
		Where("status = ?", catalog.StatusStarted).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Complete moves a started job to one of the terminal states. It rejects
// the transition when the job is not currently started, which keeps a
// recovered-and-re-leased job from being finished twice.
func (q *Queue) Complete(ctx context.Context, jobID, status string, fields CompleteFields) error {
	switch status {
	case catalog.StatusDone, catalog.StatusFailed, catalog.StatusDuplicate:
	default:
		return apperror.ErrValidation.WithMessage(fmt.Sprintf("%q is not a terminal job status", status))
	}
	res, err := q.db.NewUpdate().
		Model((*EmbeddingJob)(nil)).
		Set("status = ?", status).
		Set("error = ?", truncateError(fields.Error)).
		Set("duplicate_of = ?", fields.DuplicateOf).
		Set("finished_at = now()").
		Set("updated_at = now()").
		Where("id = ?", jobID).
		Where("status = ?", catalog.StatusStarted).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewConflict(fmt.Sprintf("job %s is not in started state", jobID))
	}
	return nil
}

const requeueSQL = `
	UPDATE fg.embedding_jobs
	SET status = CASE WHEN retry_count < ? THEN 'queued' ELSE 'failed' END,
	    retry_count = retry_count + 1,
	    error = ?,
	    worker_id = NULL,
	    heartbeat_at = NULL,
	    started_at = CASE WHEN retry_count < ? THEN NULL ELSE started_at END,
	    finished_at = CASE WHEN retry_count < ? THEN NULL ELSE now() END,
	    updated_at = now()
	WHERE id = ? AND status = 'started'
	RETURNING status`

// Requeue returns a transiently failed started job to the queue, recording
// the reason. Once the retry budget is spent the job fails permanently
// instead. Reports whether the job went back to queued.
func (q *Queue) Requeue(ctx context.Context, jobID, reason string) (bool, error) {
	var status string
	err := q.db.NewRaw(requeueSQL, q.cfg.Training.MaxRetries, truncateError(reason), q.cfg.Training.MaxRetries,
		q.cfg.Training.MaxRetries, jobID).Scan(ctx, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperror.NewConflict(fmt.Sprintf("job %s is not in started state", jobID))
	}
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return status == catalog.StatusQueued, nil
}

const (
	recoverFailSQL = `
	UPDATE fg.embedding_jobs
	SET status = 'failed',
	    error = 'stuck: exceeded retry limit',
	    worker_id = NULL,
	    finished_at = now(),
	    updated_at = now()
	WHERE status = 'started'
	  AND COALESCE(heartbeat_at, started_at) < now() - (? || ' seconds')::interval
	  AND retry_count >= ?`

	recoverRequeueSQL = `
	UPDATE fg.embedding_jobs
	SET status = 'queued',
	    retry_count = retry_count + 1,
	    worker_id = NULL,
	    started_at = NULL,
	    heartbeat_at = NULL,
	    updated_at = now()
	WHERE status = 'started'
	  AND COALESCE(heartbeat_at, started_at) < now() - (? || ' seconds')::interval
	  AND retry_count < ?`
)

// Recover requeues started jobs whose heartbeat is older than the stuck
// timeout. Jobs that already spent their retry budget are failed with a
// fixed reason instead of cycling forever.
func (q *Queue) Recover(ctx context.Context) (requeued, failed int, err error) {
	tx, err := database.BeginSafeTx(ctx, q.db)
	if err != nil {
		return 0, 0, apperror.ErrDatabase.WithInternal(err)
	}
	defer tx.Rollback()

	cutoff := int(q.cfg.Training.StuckJobTimeout.Seconds())

	res, err := tx.NewRaw(recoverFailSQL, cutoff, q.cfg.Training.MaxRetries).Exec(ctx)
	if err != nil {
		return 0, 0, apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		failed = int(n)
	}

	res, err = tx.NewRaw(recoverRequeueSQL, cutoff, q.cfg.Training.MaxRetries).Exec(ctx)
	if err != nil {
		return 0, 0, apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		requeued = int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, apperror.ErrDatabase.WithInternal(err)
	}
	if requeued > 0 || failed > 0 {
		q.log.Info("recovered stale jobs",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed))
	}
	return requeued, failed, nil
}

// Stats returns per-status counts plus the age marker of the queue head.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	err := q.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued')    AS queued,
			COUNT(*) FILTER (WHERE status = 'started')   AS started,
			COUNT(*) FILTER (WHERE status = 'done')      AS done,
			COUNT(*) FILTER (WHERE status = 'failed')    AS failed,
			COUNT(*) FILTER (WHERE status = 'duplicate') AS duplicate,
			MIN(created_at) FILTER (WHERE status = 'queued') AS oldest_queued_at
		FROM fg.embedding_jobs
	`).Scan(ctx, &stats.Queued, &stats.Started, &stats.Done, &stats.Failed,
		&stats.Duplicate, &stats.OldestQueuedAt)
	if err != nil {
		return QueueStats{}, apperror.ErrDatabase.WithInternal(err)
	}
	return stats, nil
}

// Job fetches a single job by id.
func (q *Queue) Job(ctx context.Context, jobID string) (*EmbeddingJob, error) {
	job := new(EmbeddingJob)
	err := q.db.NewSelect().Model(job).Where("j.id = ?", jobID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("job", jobID)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return job, nil
}

// truncateError keeps stored failure reasons to a sane column size.
func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
