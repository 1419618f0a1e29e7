package training

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// EmbeddingJob is one unit of enrollment work: compute the embedding for a
// (tenant, subject, model) triple from its uploaded pose images.
type EmbeddingJob struct {
	bun.BaseModel `bun:"table:fg.embedding_jobs,alias:j"`

	ID        string `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID  string `bun:"tenant_id,notnull" json:"tenantId"`
	SubjectID string `bun:"subject_id,notnull" json:"subjectId"`
	Kind      string `bun:"kind,notnull" json:"kind"`
	Model     string `bun:"model,notnull" json:"model"`
	Status    string `bun:"status,notnull,default:'queued'" json:"status"`

	Params      json.RawMessage `bun:"params,type:jsonb" json:"params,omitempty"`
	RetryCount  int             `bun:"retry_count,notnull,default:0" json:"retryCount"`
	WorkerID    *string         `bun:"worker_id" json:"workerId,omitempty"`
	Error       string          `bun:"error,notnull,default:''" json:"error,omitempty"`
	DuplicateOf *string         `bun:"duplicate_of" json:"duplicateOf,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	StartedAt   *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	HeartbeatAt *time.Time `bun:"heartbeat_at" json:"heartbeatAt,omitempty"`
	FinishedAt  *time.Time `bun:"finished_at" json:"finishedAt,omitempty"`
}

// CompleteFields carries the optional terminal metadata for Complete.
type CompleteFields struct {
	Error       string
	DuplicateOf *string
}

// QueueStats summarizes the job table by status.
type QueueStats struct {
	Queued         int64      `json:"queued"`
	Started        int64      `json:"started"`
	Done           int64      `json:"done"`
	Failed         int64      `json:"failed"`
	Duplicate      int64      `json:"duplicate"`
	OldestQueuedAt *time.Time `json:"oldestQueuedAt,omitempty"`
}

// WorkerStats holds the worker's lifetime counters since process start.
type WorkerStats struct {
	WorkerID   string    `json:"workerId"`
	Running    bool      `json:"running"`
	Processed  int64     `json:"processed"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Duplicates int64     `json:"duplicates"`
	Retried    int64     `json:"retried"`
	Throttled  int64     `json:"throttled"`
	StartedAt  time.Time `json:"startedAt"`
}

// StatsResponse is the payload of GET /api/training/stats.
type StatsResponse struct {
	Queue  QueueStats  `json:"queue"`
	Worker WorkerStats `json:"worker"`
}

// CleanupResponse reports one duplicate-janitor pass.
type CleanupResponse struct {
	RemovedSubjects int `json:"removedSubjects"`
	RemovedObjects  int `json:"removedObjects"`
	DwellHours      int `json:"dwellHours"`
}
