package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/perimetric/facegate/domain/catalog"
	"github.com/perimetric/facegate/internal/config"
	"github.com/perimetric/facegate/internal/storage"
	"github.com/perimetric/facegate/pkg/apperror"
	"github.com/perimetric/facegate/pkg/inference"
	"github.com/perimetric/facegate/pkg/logger"
	"github.com/perimetric/facegate/pkg/mathutil"
	"github.com/perimetric/facegate/pkg/syshealth"
	"github.com/perimetric/facegate/pkg/tracing"
)

// posePriority is the fixed order in which enrollment poses are examined.
var posePriority = []string{"center", "left", "right"}

// Detector produces face detections with embeddings for a single image.
// Satisfied by *inference.Client.
type Detector interface {
	Detect(ctx context.Context, image []byte, model string) ([]inference.Face, error)
}

type jobQueue interface {
	Lease(ctx context.Context, workerID, model string, limit int) ([]EmbeddingJob, error)
	Heartbeat(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID, status string, fields CompleteFields) error
	Requeue(ctx context.Context, jobID, reason string) (bool, error)
}

type enrollmentCatalog interface {
	Subject(ctx context.Context, tenantID, subjectID string) (*catalog.Subject, error)
	Images(ctx context.Context, tenantID, subjectID, model string) ([]catalog.EnrollmentImage, error)
	MarkStarted(ctx context.Context, tenantID, subjectID, model string) error
	Fail(ctx context.Context, tenantID, subjectID, model, msg string) error
	MarkDuplicate(ctx context.Context, tenantID, subjectID, model, duplicateOf string) error
	FindDuplicate(ctx context.Context, tenantID, kind, model, excludeSubjectID string, vec []float32, threshold float64) (string, bool, error)
	Put(ctx context.Context, tenantID, subjectID, model string, vec []float32, poses []string) (string, error)
	SetSubjectStatus(ctx context.Context, tenantID, subjectID, status string) error
}

type imageStore interface {
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeFailed
	outcomeDuplicate
)

// Worker polls the job queue and turns enrollment images into stored
// embeddings. One worker process leases batches and fans jobs out to a
// bounded set of goroutines; the database lease keeps multiple worker
// processes from colliding.
type Worker struct {
	cfg      *config.Config
	queue    jobQueue
	catalog  enrollmentCatalog
	images   imageStore
	detector Detector
	monitor  syshealth.Monitor
	scaler   *syshealth.ConcurrencyScaler
	log      *slog.Logger
	workerID string

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	startedAt time.Time

	processed  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	retried    atomic.Int64
	throttled  atomic.Int64
}

func NewWorker(
	cfg *config.Config,
	queue *Queue,
	cat *catalog.Service,
	store *storage.Service,
	detector *inference.Client,
	monitor syshealth.Monitor,
	log *slog.Logger,
) *Worker {
	w := &Worker{
		cfg:      cfg,
		queue:    queue,
		catalog:  cat,
		images:   store,
		detector: detector,
		monitor:  monitor,
		log:      log.With(logger.Scope("training.worker")),
		workerID: defaultWorkerID(),
	}
	if cfg.Training.AdaptiveConcurrency {
		w.scaler = syshealth.NewConcurrencyScaler(monitor, "training", true, 1, cfg.Training.MaxWorkers)
	}
	return w
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "facegate"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Start launches the polling loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.startedAt = time.Now().UTC()
	stopCh, stoppedCh := w.stopCh, w.stoppedCh
	w.mu.Unlock()

	go w.run(stopCh, stoppedCh)
	w.log.Info("training worker started",
		slog.String("worker_id", w.workerID),
		slog.String("model", w.cfg.Training.Model),
		slog.Int("batch_size", w.cfg.Training.BatchSize),
		slog.Int("max_workers", w.cfg.Training.MaxWorkers))
	return nil
}

// Stop halts leasing and waits for in-flight jobs to finish, or for ctx to
// expire, whichever comes first.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	stoppedCh := w.stoppedCh
	w.mu.Unlock()

	select {
	case <-stoppedCh:
		w.log.Info("training worker stopped")
		return nil
	case <-ctx.Done():
		w.log.Warn("training worker stop timed out with jobs in flight")
		return ctx.Err()
	}
}

// Stats reports lifetime counters since Start.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	running, startedAt := w.running, w.startedAt
	w.mu.Unlock()
	return WorkerStats{
		WorkerID:   w.workerID,
		Running:    running,
		Processed:  w.processed.Load(),
		Succeeded:  w.succeeded.Load(),
		Failed:     w.failed.Load(),
		Duplicates: w.duplicates.Load(),
		Retried:    w.retried.Load(),
		Throttled:  w.throttled.Load(),
		StartedAt:  startedAt,
	}
}

func (w *Worker) run(stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)
	ticker := time.NewTicker(w.cfg.Training.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			w.cycle(context.Background(), stopCh)
		}
	}
}

// cycle leases one batch and processes it to completion. Under memory or
// CPU pressure the cycle is skipped entirely so already-leased work can
// drain before more is taken on.
func (w *Worker) cycle(ctx context.Context, stopCh <-chan struct{}) {
	if health := w.monitor.GetHealth(); health.Overloaded(w.cfg.Training.MemoryLimitPercent, w.cfg.Training.CPULimitPercent) {
		w.throttled.Add(1)
		syshealth.CyclesThrottled.WithLabelValues("training").Inc()
		w.log.Warn("system overloaded, skipping lease cycle",
			slog.Float64("cpu_percent", health.CPUPercent),
			slog.Float64("memory_percent", health.MemoryPercent))
		select {
		case <-time.After(2 * w.cfg.Training.PollingInterval):
		case <-stopCh:
		}
		return
	}

	jobs, err := w.queue.Lease(ctx, w.workerID, w.cfg.Training.Model, w.cfg.Training.BatchSize)
	if err != nil {
		w.log.Error("failed to lease jobs", logger.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	maxWorkers := w.cfg.Training.MaxWorkers
	if w.scaler != nil {
		maxWorkers = w.scaler.GetConcurrency(maxWorkers)
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	for i := range jobs {
		job := &jobs[i]
		sem <- struct{}{}
		wg.Add(1)
		go func(job *EmbeddingJob) {
			defer wg.Done()
			defer func() { <-sem }()
			w.runJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (w *Worker) runJob(ctx context.Context, job *EmbeddingJob) {
	log := w.log.With(
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("subject_id", job.SubjectID),
		slog.String("model", job.Model))

	ctx, span := tracing.Start(ctx, "training.process_job",
		attribute.String("facegate.job.id", job.ID),
		attribute.String("facegate.job.tenant", job.TenantID),
		attribute.String("facegate.job.model", job.Model))
	defer span.End()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.keepAlive(hbCtx, job.ID)

	start := time.Now()
	out, err := w.processJob(ctx, job)
	stopHeartbeat()
	w.processed.Add(1)

	if err != nil {
		span.RecordError(err)
		w.retried.Add(1)
		requeued, rqErr := w.queue.Requeue(ctx, job.ID, err.Error())
		switch {
		case rqErr != nil:
			log.Error("failed to requeue job", logger.Error(rqErr))
		case requeued:
			log.Warn("job hit a transient error, requeued", logger.Error(err))
		default:
			w.failed.Add(1)
			log.Error("job failed permanently after retries", logger.Error(err))
		}
		return
	}

	switch out {
	case outcomeDone:
		w.succeeded.Add(1)
		log.Info("embedding trained", slog.Duration("duration", time.Since(start)))
	case outcomeFailed:
		w.failed.Add(1)
	case outcomeDuplicate:
		w.duplicates.Add(1)
	}
}

// keepAlive refreshes the job lease in the background while the job is
// being processed, so a long inference call does not look stuck.
func (w *Worker) keepAlive(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.cfg.Training.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.heartbeat(ctx, jobID)
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	if err := w.queue.Heartbeat(ctx, jobID); err != nil {
		w.log.Debug("heartbeat failed", slog.String("job_id", jobID), logger.Error(err))
	}
}

// processJob runs the enrollment pipeline for one job. A non-nil error
// means the pipeline could not reach a verdict (transient trouble) and the
// job should be requeued; domain failures are terminal and recorded inside.
func (w *Worker) processJob(ctx context.Context, job *EmbeddingJob) (outcome, error) {
	if err := w.catalog.MarkStarted(ctx, job.TenantID, job.SubjectID, job.Model); err != nil {
		return 0, err
	}
	if _, err := w.catalog.Subject(ctx, job.TenantID, job.SubjectID); err != nil {
		if isNotFound(err) {
			return w.failJob(ctx, job, fmt.Sprintf("subject not found: %s", job.SubjectID), "")
		}
		return 0, err
	}

	images, err := w.catalog.Images(ctx, job.TenantID, job.SubjectID, job.Model)
	if err != nil {
		return 0, err
	}
	byPose := make(map[string]string, len(images))
	for _, img := range images {
		if _, ok := byPose[img.Pose]; !ok {
			byPose[img.Pose] = img.ObjectKey
		}
	}

	var (
		embeds [][]float32
		used   []string
	)
	for _, pose := range posePriority {
		key, ok := byPose[pose]
		if !ok {
			continue
		}
		frame, err := w.images.DownloadBytes(ctx, key)
		if err != nil {
			w.log.Warn("could not fetch enrollment image",
				slog.String("job_id", job.ID), slog.String("pose", pose), logger.Error(err))
			w.heartbeat(ctx, job.ID)
			continue
		}
		faces, err := w.detector.Detect(ctx, frame, job.Model)
		if err != nil {
			var infErr *inference.Error
			if errors.As(err, &infErr) && infErr.Temporary() {
				return 0, fmt.Errorf("detect %s pose: %w", pose, err)
			}
			w.log.Warn("detector rejected enrollment image",
				slog.String("job_id", job.ID), slog.String("pose", pose), logger.Error(err))
			w.heartbeat(ctx, job.ID)
			continue
		}
		if len(faces) > 0 {
			// Unit-normalize per pose so a non-unit detector response
			// cannot outweigh the other poses in the aggregate.
			embeds = append(embeds, mathutil.Normalize(bestFace(faces).Embedding))
			used = append(used, pose)
		}
		w.heartbeat(ctx, job.ID)
	}

	if len(embeds) == 0 {
		return w.failJob(ctx, job, "no faces found in any image", "")
	}

	// Every pair of poses must agree that this is the same person.
	for i := 0; i < len(embeds); i++ {
		for j := i + 1; j < len(embeds); j++ {
			sim := mathutil.CosineSim(embeds[i], embeds[j])
			if float64(sim) < w.cfg.Training.SimilarityThreshold {
				msg := fmt.Sprintf("different persons detected in %s and %s images", used[i], used[j])
				return w.failJob(ctx, job, msg, catalog.SubjectIncomplete)
			}
		}
	}

	agg := mathutil.Normalize(mathutil.Mean(embeds))

	dupID, found, err := w.catalog.FindDuplicate(ctx, job.TenantID, job.Kind, job.Model,
		job.SubjectID, agg, w.cfg.Training.DuplicateThreshold)
	if err != nil {
		return 0, err
	}
	if found {
		if err := w.catalog.MarkDuplicate(ctx, job.TenantID, job.SubjectID, job.Model, dupID); err != nil {
			return 0, err
		}
		if err := w.catalog.SetSubjectStatus(ctx, job.TenantID, job.SubjectID, catalog.SubjectPendingDuplicate); err != nil {
			return 0, err
		}
		if err := w.complete(ctx, job, catalog.StatusDuplicate, CompleteFields{DuplicateOf: &dupID}); err != nil {
			return 0, err
		}
		w.log.Info("duplicate subject detected",
			slog.String("job_id", job.ID),
			slog.String("subject_id", job.SubjectID),
			slog.String("duplicate_of", dupID))
		return outcomeDuplicate, nil
	}

	handle, err := w.catalog.Put(ctx, job.TenantID, job.SubjectID, job.Model, agg, used)
	if err != nil {
		return 0, err
	}
	if err := w.catalog.SetSubjectStatus(ctx, job.TenantID, job.SubjectID, catalog.SubjectActive); err != nil {
		return 0, err
	}
	if err := w.complete(ctx, job, catalog.StatusDone, CompleteFields{}); err != nil {
		return 0, err
	}
	w.log.Info("embedding stored",
		slog.String("job_id", job.ID),
		slog.String("record_id", handle),
		slog.Int("poses", len(used)))
	return outcomeDone, nil
}

// failJob writes a terminal domain failure to the record and the job.
// Subject status is only touched when the failure implicates the
// enrollment itself rather than its inputs.
func (w *Worker) failJob(ctx context.Context, job *EmbeddingJob, msg, subjectStatus string) (outcome, error) {
	if subjectStatus != "" {
		if err := w.catalog.SetSubjectStatus(ctx, job.TenantID, job.SubjectID, subjectStatus); err != nil {
			return 0, err
		}
	}
	if err := w.catalog.Fail(ctx, job.TenantID, job.SubjectID, job.Model, msg); err != nil {
		return 0, err
	}
	if err := w.complete(ctx, job, catalog.StatusFailed, CompleteFields{Error: msg}); err != nil {
		return 0, err
	}
	w.log.Warn("job failed",
		slog.String("job_id", job.ID),
		slog.String("subject_id", job.SubjectID),
		slog.String("reason", msg))
	return outcomeFailed, nil
}

// complete finishes the job, tolerating a lost lease: if recovery requeued
// the job under our feet, someone else owns the terminal transition now.
func (w *Worker) complete(ctx context.Context, job *EmbeddingJob, status string, fields CompleteFields) error {
	err := w.queue.Complete(ctx, job.ID, status, fields)
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusConflict {
		w.log.Warn("job lease lost before completion",
			slog.String("job_id", job.ID), slog.String("status", status))
		return nil
	}
	return err
}

func bestFace(faces []inference.Face) inference.Face {
	best := faces[0]
	for _, f := range faces[1:] {
		area, bestArea := f.Area(), best.Area()
		if area > bestArea || (area == bestArea && f.DetScore > best.DetScore) {
			best = f
		}
	}
	return best
}

func isNotFound(err error) bool {
	var appErr *apperror.Error
	return errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusNotFound
}
