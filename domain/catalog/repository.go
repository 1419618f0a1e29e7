package catalog

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/perimetric/facegate/pkg/apperror"
	"github.com/perimetric/facegate/pkg/logger"
	"github.com/perimetric/facegate/pkg/pgutils"
)

// catalogRow is the join of a subject with its done embedding record, as read
// by the sync task. Qualification (active, blacklist) happens in the store so
// incremental syncs can also remove entries that stopped qualifying.
type catalogRow struct {
	TenantID    string    `bun:"tenant_id"`
	SubjectID   string    `bun:"subject_id"`
	Kind        string    `bun:"kind"`
	Name        string    `bun:"name"`
	Active      bool      `bun:"active"`
	Blacklisted bool      `bun:"blacklisted"`
	LastUpdated time.Time `bun:"last_updated"`
	Embedding   []byte    `bun:"embedding"`
}

// Repository handles database operations for subjects and embedding records
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new catalog repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("catalog.repo")),
	}
}

// Entries returns subjects holding a done embedding for the given model,
// joined with the flags the store needs to qualify them. A nil since reads
// the full catalog; otherwise only subjects touched at or after since.
func (r *Repository) Entries(ctx context.Context, model string, since *time.Time) ([]catalogRow, error) {
	q := `
		SELECT s.tenant_id, s.subject_id, s.kind, s.name, s.active, s.blacklisted,
		       s.last_updated, r.embedding
		FROM fg.subjects AS s
		JOIN fg.embedding_records AS r
		  ON r.tenant_id = s.tenant_id AND r.subject_id = s.subject_id
		WHERE r.model = ? AND r.status = ?`
	args := []any{model, StatusDone}
	if since != nil {
		q += ` AND s.last_updated >= ?`
		args = append(args, *since)
	}
	q += ` ORDER BY s.tenant_id, s.subject_id`

	var rows []catalogRow
	if _, err := r.db.NewRaw(q, args...).Exec(ctx, &rows); err != nil {
		r.log.Error("failed to load catalog entries", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rows, nil
}

// Subject returns one subject of a tenant.
func (r *Repository) Subject(ctx context.Context, tenantID, subjectID string) (*Subject, error) {
	subj := new(Subject)
	err := r.db.NewSelect().
		Model(subj).
		Where("s.tenant_id = ?", tenantID).
		Where("s.subject_id = ?", subjectID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrSubjectNotFound
	}
	if err != nil {
		r.log.Error("failed to load subject", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return subj, nil
}

// SetSubjectStatus updates the subject lifecycle status and bumps
// last_updated so the next incremental sync picks the change up.
func (r *Repository) SetSubjectStatus(ctx context.Context, tenantID, subjectID, status string) error {
	_, err := r.db.NewUpdate().
		Model((*Subject)(nil)).
		Set("status = ?", status).
		Set("last_updated = now()").
		Where("tenant_id = ?", tenantID).
		Where("subject_id = ?", subjectID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update subject status", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Images returns the enrollment image set of a subject for one model,
// ordered for deterministic processing.
func (r *Repository) Images(ctx context.Context, tenantID, subjectID, model string) ([]EnrollmentImage, error) {
	images := []EnrollmentImage{}
	err := r.db.NewSelect().
		Model(&images).
		Where("ei.tenant_id = ?", tenantID).
		Where("ei.subject_id = ?", subjectID).
		Where("ei.model = ?", model).
		Order("ei.pose ASC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to load enrollment images", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return images, nil
}

// MarkRecordStarted upserts the embedding record for (tenant, subject, model)
// into status started, clearing any leftovers of a previous run.
func (r *Repository) MarkRecordStarted(ctx context.Context, tenantID, subjectID, model string) error {
	rec := &EmbeddingRecord{
		TenantID:  tenantID,
		SubjectID: subjectID,
		Model:     model,
		Status:    StatusStarted,
		PosesUsed: []string{},
	}
	_, err := r.db.NewInsert().
		Model(rec).
		On("CONFLICT (tenant_id, subject_id, model) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("error = ''").
		Set("duplicate_of = NULL").
		Set("finished_at = NULL").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to mark record started", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// PutEmbedding stores the finished embedding: the binary blob as source of
// truth, a pgvector mirror for operator SQL, and the done status transition.
// Returns the record id, which doubles as the embedding handle.
func (r *Repository) PutEmbedding(ctx context.Context, tenantID, subjectID, model string, vec []float32, objectKey string, poses []string) (string, error) {
	blob := EncodeEmbedding(vec)
	var id string
	err := r.db.NewRaw(`
		INSERT INTO fg.embedding_records
			(tenant_id, subject_id, model, status, object_key, embedding, embedding_vec, dim, error, poses_used, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?::vector, ?, '', ?, now(), now())
		ON CONFLICT (tenant_id, subject_id, model) DO UPDATE SET
			status = EXCLUDED.status,
			object_key = EXCLUDED.object_key,
			embedding = EXCLUDED.embedding,
			embedding_vec = EXCLUDED.embedding_vec,
			dim = EXCLUDED.dim,
			error = '',
			duplicate_of = NULL,
			poses_used = EXCLUDED.poses_used,
			updated_at = now(),
			finished_at = now()
		RETURNING id`,
		tenantID, subjectID, model, StatusDone, objectKey, blob,
		pgutils.FormatVector(vec), len(vec), pgdialect.Array(poses),
	).Scan(ctx, &id)
	if err != nil {
		r.log.Error("failed to store embedding", logger.Error(err))
		return "", apperror.ErrDatabase.WithInternal(err)
	}
	return id, nil
}

// GetEmbedding loads and decodes the blob behind an embedding handle.
func (r *Repository) GetEmbedding(ctx context.Context, handle string) ([]float32, error) {
	var blob []byte
	err := r.db.NewSelect().
		Model((*EmbeddingRecord)(nil)).
		Column("embedding").
		Where("r.id = ?", handle).
		Where("r.embedding IS NOT NULL").
		Scan(ctx, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("embedding", handle)
	}
	if err != nil {
		r.log.Error("failed to load embedding blob", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return DecodeEmbedding(blob)
}

// FailRecord finishes the record as failed with the given error message.
func (r *Repository) FailRecord(ctx context.Context, tenantID, subjectID, model, msg string) error {
	return r.finishRecord(ctx, tenantID, subjectID, model, StatusFailed, msg, nil)
}

// MarkRecordDuplicate finishes the record as a duplicate of another subject.
func (r *Repository) MarkRecordDuplicate(ctx context.Context, tenantID, subjectID, model, duplicateOf string) error {
	return r.finishRecord(ctx, tenantID, subjectID, model, StatusDuplicate, "", &duplicateOf)
}

func (r *Repository) finishRecord(ctx context.Context, tenantID, subjectID, model, status, msg string, duplicateOf *string) error {
	rec := &EmbeddingRecord{
		TenantID:    tenantID,
		SubjectID:   subjectID,
		Model:       model,
		Status:      status,
		Error:       msg,
		DuplicateOf: duplicateOf,
		PosesUsed:   []string{},
	}
	_, err := r.db.NewInsert().
		Model(rec).
		On("CONFLICT (tenant_id, subject_id, model) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("error = EXCLUDED.error").
		Set("duplicate_of = EXCLUDED.duplicate_of").
		Set("updated_at = now()").
		Set("finished_at = now()").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to finish record",
			slog.String("status", status),
			logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

const findDuplicateSQL = `
	SELECT r.subject_id
	FROM fg.embedding_records AS r
	JOIN fg.subjects AS s
	  ON s.tenant_id = r.tenant_id AND s.subject_id = r.subject_id
	WHERE r.tenant_id = ? AND s.kind = ? AND r.model = ?
	  AND r.subject_id <> ?
	  AND r.status = 'done'
	  AND r.embedding_vec IS NOT NULL
	  AND (r.embedding_vec <=> ?::vector) < ?
	ORDER BY r.created_at, r.subject_id
	LIMIT 1`

// FindDuplicate scans finished embeddings of the same tenant, kind and model
// for the first one whose cosine similarity with vec exceeds the threshold.
// Only done records take part: a started or failed record can still carry
// the vector of an earlier run. The scan uses the pgvector mirror column;
// oldest record wins.
func (r *Repository) FindDuplicate(ctx context.Context, tenantID, kind, model, excludeSubjectID string, vec []float32, threshold float64) (string, bool, error) {
	var dupID string
	err := r.db.NewRaw(findDuplicateSQL,
		tenantID, kind, model, excludeSubjectID,
		pgutils.FormatVector(vec), 1-threshold,
	).Scan(ctx, &dupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		r.log.Error("duplicate scan failed", logger.Error(err))
		return "", false, apperror.ErrDatabase.WithInternal(err)
	}
	return dupID, true, nil
}

// Counts groups embedding records by status.
func (r *Repository) Counts(ctx context.Context) (RecordCounts, error) {
	var counts RecordCounts
	err := r.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued')    AS queued,
			COUNT(*) FILTER (WHERE status = 'started')   AS started,
			COUNT(*) FILTER (WHERE status = 'done')      AS done,
			COUNT(*) FILTER (WHERE status = 'failed')    AS failed,
			COUNT(*) FILTER (WHERE status = 'duplicate') AS duplicate
		FROM fg.embedding_records`).
		Scan(ctx, &counts)
	if err != nil {
		r.log.Error("failed to count embedding records", logger.Error(err))
		return RecordCounts{}, apperror.ErrDatabase.WithInternal(err)
	}
	return counts, nil
}
