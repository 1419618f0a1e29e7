package catalog

import (
	"context"
	"log/slog"

	"github.com/perimetric/facegate/internal/storage"
	"github.com/perimetric/facegate/pkg/logger"
)

// Service is the write path of the catalog: it persists finished embeddings
// (blob in the database, a copy in object storage when configured) and drives
// record and subject status transitions for the training worker.
type Service struct {
	repo  *Repository
	store *storage.Service
	log   *slog.Logger
}

// NewService creates a new catalog service
func NewService(repo *Repository, store *storage.Service, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		store: store,
		log:   log.With(logger.Scope("catalog.service")),
	}
}

// Put stores a finished embedding for (tenant, subject, model) and flips the
// record to done. Returns the embedding handle.
func (s *Service) Put(ctx context.Context, tenantID, subjectID, model string, vec []float32, poses []string) (string, error) {
	objectKey := ""
	if s.store.Enabled() {
		objectKey = storage.EmbeddingKey(tenantID, subjectID, model)
		if _, err := s.store.UploadBytes(ctx, objectKey, EncodeEmbedding(vec), "application/octet-stream"); err != nil {
			// The database blob is the source of truth; a missing object
			// storage copy is recoverable, so log and carry on.
			s.log.Warn("failed to upload embedding blob",
				slog.String("object_key", objectKey),
				logger.Error(err))
			objectKey = ""
		}
	}
	return s.repo.PutEmbedding(ctx, tenantID, subjectID, model, vec, objectKey, poses)
}

// Get loads the embedding behind a handle.
func (s *Service) Get(ctx context.Context, handle string) ([]float32, error) {
	return s.repo.GetEmbedding(ctx, handle)
}

// Subject returns one subject of a tenant.
func (s *Service) Subject(ctx context.Context, tenantID, subjectID string) (*Subject, error) {
	return s.repo.Subject(ctx, tenantID, subjectID)
}

// SetSubjectStatus updates the subject lifecycle status.
func (s *Service) SetSubjectStatus(ctx context.Context, tenantID, subjectID, status string) error {
	return s.repo.SetSubjectStatus(ctx, tenantID, subjectID, status)
}

// Images returns the enrollment image set of a subject for one model.
func (s *Service) Images(ctx context.Context, tenantID, subjectID, model string) ([]EnrollmentImage, error) {
	return s.repo.Images(ctx, tenantID, subjectID, model)
}

// MarkStarted flips the embedding record to started.
func (s *Service) MarkStarted(ctx context.Context, tenantID, subjectID, model string) error {
	return s.repo.MarkRecordStarted(ctx, tenantID, subjectID, model)
}

// Fail finishes the embedding record as failed.
func (s *Service) Fail(ctx context.Context, tenantID, subjectID, model, msg string) error {
	return s.repo.FailRecord(ctx, tenantID, subjectID, model, msg)
}

// MarkDuplicate finishes the embedding record as a duplicate.
func (s *Service) MarkDuplicate(ctx context.Context, tenantID, subjectID, model, duplicateOf string) error {
	return s.repo.MarkRecordDuplicate(ctx, tenantID, subjectID, model, duplicateOf)
}

// FindDuplicate scans the tenant's stored embeddings of the same kind for the
// first one closer than the threshold.
func (s *Service) FindDuplicate(ctx context.Context, tenantID, kind, model, excludeSubjectID string, vec []float32, threshold float64) (string, bool, error) {
	return s.repo.FindDuplicate(ctx, tenantID, kind, model, excludeSubjectID, vec, threshold)
}
